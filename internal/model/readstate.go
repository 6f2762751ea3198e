package model

import (
	"time"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
)

// ReadState is the per-(user, channel) read marker. LastReadAt is
// monotonically non-decreasing; a client can never regress its own marker.
type ReadState struct {
	MemberRef  identity.Ref `json:"member_ref"`
	ChannelID  string       `json:"channel_id"`
	LastReadAt time.Time    `json:"last_read_at"`
}
