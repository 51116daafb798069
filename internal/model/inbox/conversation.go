package inbox

import "time"

// Conversation is an opaque server-provided summary. The client only
// interprets ID and LastMessageAt; everything else is passed through to
// whatever renders the list.
type Conversation struct {
	ID            string    `json:"id"`
	Customer      string    `json:"customer"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Status        string    `json:"status"`
	Platform      string    `json:"platform,omitempty"`
}
