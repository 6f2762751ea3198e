package model

import (
	"time"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
)

type ChannelType string

const (
	ChannelTypePublic ChannelType = "public"
	ChannelTypeDM     ChannelType = "dm"
)

type Channel struct {
	ID          string         `json:"id"`
	ChannelType ChannelType    `json:"channel_type"`
	Name        string         `json:"name"`
	// Participants holds the canonical sorted pair for DM channels; for
	// public channels it is the current member list.
	Participants []identity.Ref `json:"participants,omitempty"`
	CreatedBy    identity.Ref   `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ChannelSummary is a channel annotated for the channel list: unread count,
// last message preview and the fan-out topic the client subscribes to.
type ChannelSummary struct {
	Channel     Channel  `json:"channel"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
	Topic       string   `json:"topic"`
}
