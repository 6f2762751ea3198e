// Package reconcile is the consuming client's channel-view state: it merges
// optimistic local sends, server responses and broadcast events into one
// ordered message list without duplicates.
//
// The single rule that prevents a sender seeing its own message twice: a
// broadcast event is merged only if no message with that canonical id is
// already present. Events flow through a bounded queue into Run's loop
// rather than mutating view state from ad hoc callbacks, so the rule is
// enforced in one place.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kevin101681/cascadeconnect-sub000/internal/broadcast"
	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
)

// ErrSendInFlight is returned when a send is triggered while the previous
// one has not finished. The guard closes the double-submit race: it is set
// before any asynchronous work begins.
var ErrSendInFlight = errors.New("send already in flight")

// SendFunc performs the server write and returns the canonical message.
// The returned message, not the optimistic local copy, becomes the basis
// for view state.
type SendFunc func(ctx context.Context, channelID, content string, replyToID *string) (*model.Message, error)

// View is the reconciler state for one channel view. Safe for concurrent
// use: the event loop, the send path and snapshot readers may run from
// different goroutines.
type View struct {
	channelID string
	self      identity.Ref
	send      SendFunc

	mu       sync.Mutex
	byID     map[string]struct{}
	messages []*model.Message
	// optimistic entries keyed by client nonce, rendered after confirmed
	// messages until the server response replaces or removes them
	pending map[string]*model.Message
	sending bool
	draft   string
}

func NewView(channelID string, self identity.Ref, send SendFunc) *View {
	return &View{
		channelID: channelID,
		self:      self,
		send:      send,
		byID:      make(map[string]struct{}),
		pending:   make(map[string]*model.Message),
	}
}

// Send optimistically renders content, performs the write, then replaces
// the optimistic entry with the canonical message. On failure the entry is
// removed and the draft is restored so typed text is not lost.
//
// A second Send while one is in flight returns ErrSendInFlight. The guard
// is taken under the lock before the write starts; rapid repeated triggers
// cannot both pass.
func (v *View) Send(ctx context.Context, content string, replyToID *string) error {
	v.mu.Lock()
	if v.sending {
		v.mu.Unlock()
		return ErrSendInFlight
	}
	v.sending = true
	nonce := uuid.New().String()
	v.pending[nonce] = &model.Message{
		ID:        nonce,
		ChannelID: v.channelID,
		SenderRef: v.self,
		Content:   content,
		ReplyToID: replyToID,
		CreatedAt: time.Now(),
	}
	v.draft = ""
	v.mu.Unlock()

	canonical, err := v.send(ctx, v.channelID, content, replyToID)

	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending, nonce)
	v.sending = false
	if err != nil {
		v.draft = content
		return err
	}
	v.mergeLocked(canonical)
	return nil
}

// Apply merges one broadcast event. Duplicate message ids (the sender's own
// echoed broadcast, or an event raced with a backlog fetch) are no-ops.
func (v *View) Apply(ev broadcast.Event) {
	if ev.ChannelID != v.channelID {
		return
	}
	if ev.Type != broadcast.EventMessageCreated || ev.Message == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mergeLocked(ev.Message)
}

// LoadBacklog merges a fetched page. Used on connect and reconnect; the
// result is store order regardless of how the page interleaves with live
// events already applied.
func (v *View) LoadBacklog(page []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range page {
		v.mergeLocked(&page[i])
	}
}

// mergeLocked inserts m if its id is not yet known, keeping store order
// (created_at, id), never socket-arrival order.
func (v *View) mergeLocked(m *model.Message) {
	if _, ok := v.byID[m.ID]; ok {
		return
	}
	v.byID[m.ID] = struct{}{}
	v.messages = append(v.messages, m)
	sort.SliceStable(v.messages, func(i, j int) bool {
		return v.messages[i].Before(v.messages[j])
	})
}

// Messages returns the confirmed messages in store order followed by any
// optimistic entries still awaiting confirmation.
func (v *View) Messages() []*model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*model.Message, 0, len(v.messages)+len(v.pending))
	out = append(out, v.messages...)
	for _, p := range v.pending {
		out = append(out, p)
	}
	return out
}

// Draft returns the restored input after a failed send, empty otherwise.
func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// Sending reports whether a send is in flight (drives the UI's submit
// control state).
func (v *View) Sending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sending
}

// Run consumes events until ctx is cancelled or the channel closes. When
// the view is torn down the caller cancels ctx and simply stops listening;
// an in-flight Send still completes server-side.
func (v *View) Run(ctx context.Context, events <-chan broadcast.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			v.Apply(ev)
		}
	}
}
