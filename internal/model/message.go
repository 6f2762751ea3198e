package model

import (
	"time"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
)

// Message is one entry in a channel's append-only log. IDs are UUIDv7 so
// that byte order follows creation order.
type Message struct {
	ID        string       `json:"id"`
	ChannelID string       `json:"channel_id"`
	SenderRef identity.Ref `json:"sender_ref"`
	Content   string       `json:"content"`
	ReplyToID *string      `json:"reply_to_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`

	// Sender is resolved via an outer join at read time. Nil means the
	// sender reference no longer resolves; the message still renders with
	// a placeholder, it is never suppressed.
	Sender      *UserPublic  `json:"sender,omitempty"`
	ReplyTo     *Message     `json:"reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Before reports store order: created_at first, id as the tiebreak. Both
// the server listing and the client reconciler order by this, never by
// arrival order.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Attachment is an opaque reference resolved by the upload subsystem.
type Attachment struct {
	Ref       string `json:"ref"`
	Name      string `json:"name,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}
