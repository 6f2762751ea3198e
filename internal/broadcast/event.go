// Package broadcast is the fan-out layer: it derives channel topics and
// publishes store-committed events to every subscriber of a topic.
//
// Publishing is server-authoritative. It runs only in the trusted process
// that performed the corresponding store write, immediately after the write
// commits, and is stateless: everything it needs arrives as arguments.
// Delivery is best-effort, at most once per subscriber per publish; clients
// reconcile missed events with a fetch on (re)connect.
package broadcast

import (
	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
)

type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventChannelRead    EventType = "channel.read"
)

// Event is the wire payload delivered to subscribers of a channel topic.
type Event struct {
	ChannelID string         `json:"channel_id"`
	Type      EventType      `json:"type"`
	Message   *model.Message `json:"message,omitempty"`
	ReaderRef identity.Ref   `json:"reader_ref,omitempty"`
}

const topicPrefix = "channel:"

// TopicForChannel derives the subscription key from channel identity.
// Pure and deterministic: server and client compute it independently and
// must agree.
func TopicForChannel(channelID string) string {
	return topicPrefix + channelID
}
