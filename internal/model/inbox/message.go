package inbox

import (
	"fmt"
	"time"
)

// Message is one turn in a conversation. Messages are immutable once merged;
// a re-delivery with the same key replaces the earlier copy instead of
// duplicating it.
type Message struct {
	ID                string    `json:"id,omitempty"`
	ConversationID    string    `json:"conversationId"`
	Sender            string    `json:"sender"`
	Content           string    `json:"content"`
	PlatformMessageID string    `json:"platformMessageId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Key returns the identity used to deduplicate a message across repeated
// deliveries. Priority: the message's own id, then the platform-assigned id,
// then a composite fingerprint. The fingerprint is a last resort so that
// genuinely distinct messages without any stable id are not collapsed.
func (m Message) Key() string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	if m.PlatformMessageID != "" {
		return "pm:" + m.PlatformMessageID
	}
	return fmt.Sprintf("fp:%s|%s|%d|%s", m.ConversationID, m.Sender, m.CreatedAt.UnixNano(), m.Content)
}
