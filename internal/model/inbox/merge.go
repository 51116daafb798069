package inbox

import "sort"

// Merge combines two message deliveries into one ordered, deduplicated
// sequence. Later arrivals with the same key overwrite earlier ones, which
// lets the server republish corrections. The result is sorted ascending by
// CreatedAt; equal timestamps keep their first-arrival order so output is
// deterministic.
//
// Merge is pure: neither input slice is modified.
func Merge(existing, incoming []Message) []Message {
	merged := make([]Message, 0, len(existing)+len(incoming))
	slot := make(map[string]int, len(existing)+len(incoming))

	for _, batch := range [2][]Message{existing, incoming} {
		for _, m := range batch {
			key := m.Key()
			if i, ok := slot[key]; ok {
				merged[i] = m
				continue
			}
			slot[key] = len(merged)
			merged = append(merged, m)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}
