package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kevin101681/cascadeconnect-sub000/internal/broadcast"
	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
)

const (
	testChannel = "ch1"
	testSelf    = identity.Ref("u_alice")
)

func canonicalMessage(id, content string, at time.Time) *model.Message {
	return &model.Message{
		ID:        id,
		ChannelID: testChannel,
		SenderRef: testSelf,
		Content:   content,
		CreatedAt: at,
	}
}

func okSend(msg *model.Message) SendFunc {
	return func(ctx context.Context, channelID, content string, replyToID *string) (*model.Message, error) {
		return msg, nil
	}
}

func ids(msgs []*model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestSendReplacesOptimisticWithCanonical(t *testing.T) {
	t.Parallel()
	canonical := canonicalMessage("m1", "hello", time.Now())
	v := NewView(testChannel, testSelf, okSend(canonical))

	if err := v.Send(context.Background(), "hello", nil); err != nil {
		t.Fatal(err)
	}

	msgs := v.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].ID != "m1" {
		t.Errorf("got id %q, want canonical m1", msgs[0].ID)
	}
	if v.Sending() {
		t.Error("Sending() still true after Send returned")
	}
}

func TestEchoedBroadcastIsNotDuplicated(t *testing.T) {
	t.Parallel()
	canonical := canonicalMessage("m1", "hello", time.Now())
	v := NewView(testChannel, testSelf, okSend(canonical))

	if err := v.Send(context.Background(), "hello", nil); err != nil {
		t.Fatal(err)
	}
	// The sender's own message comes back over the socket.
	v.Apply(broadcast.Event{
		ChannelID: testChannel,
		Type:      broadcast.EventMessageCreated,
		Message:   canonical,
	})

	if got := len(v.Messages()); got != 1 {
		t.Errorf("got %d messages after echo, want 1", got)
	}
}

func TestSendFailureRestoresDraft(t *testing.T) {
	t.Parallel()
	sendErr := errors.New("store unavailable")
	v := NewView(testChannel, testSelf, func(ctx context.Context, channelID, content string, replyToID *string) (*model.Message, error) {
		return nil, sendErr
	})

	err := v.Send(context.Background(), "typed text", nil)
	if !errors.Is(err, sendErr) {
		t.Fatalf("got %v, want send error", err)
	}

	if got := len(v.Messages()); got != 0 {
		t.Errorf("got %d messages after failed send, want 0", got)
	}
	if v.Draft() != "typed text" {
		t.Errorf("draft %q, want %q", v.Draft(), "typed text")
	}
	if v.Sending() {
		t.Error("Sending() still true after failed send")
	}
}

func TestSecondSendWhileInFlightIsRejected(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{})
	v := NewView(testChannel, testSelf, func(ctx context.Context, channelID, content string, replyToID *string) (*model.Message, error) {
		close(started)
		<-release
		return canonicalMessage("m1", content, time.Now()), nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := v.Send(context.Background(), "first", nil); err != nil {
			t.Errorf("first send: %v", err)
		}
	}()

	<-started
	if err := v.Send(context.Background(), "second", nil); !errors.Is(err, ErrSendInFlight) {
		t.Errorf("second send: got %v, want ErrSendInFlight", err)
	}

	close(release)
	wg.Wait()

	// The guard clears once the first send completes.
	v2 := canonicalMessage("m2", "third", time.Now())
	v.send = okSend(v2)
	if err := v.Send(context.Background(), "third", nil); err != nil {
		t.Errorf("send after completion: %v", err)
	}
}

func TestPendingShownWhileInFlight(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{})
	v := NewView(testChannel, testSelf, func(ctx context.Context, channelID, content string, replyToID *string) (*model.Message, error) {
		close(started)
		<-release
		return canonicalMessage("m1", content, time.Now()), nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.Send(context.Background(), "hello", nil)
	}()

	<-started
	msgs := v.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("in flight: got %v, want one optimistic entry", ids(msgs))
	}
	if !v.Sending() {
		t.Error("Sending() false while send in flight")
	}

	close(release)
	<-done
}

func TestBacklogAndLiveEventsMergeInStoreOrder(t *testing.T) {
	t.Parallel()
	base := time.Now()
	v := NewView(testChannel, testSelf, nil)

	// Live event arrives first, then the backlog page containing older
	// messages plus the same event raced in.
	live := canonicalMessage("m3", "third", base.Add(3*time.Second))
	v.Apply(broadcast.Event{ChannelID: testChannel, Type: broadcast.EventMessageCreated, Message: live})

	v.LoadBacklog([]model.Message{
		*canonicalMessage("m1", "first", base.Add(1*time.Second)),
		*canonicalMessage("m2", "second", base.Add(2*time.Second)),
		*canonicalMessage("m3", "third", base.Add(3*time.Second)),
	})

	got := ids(v.Messages())
	want := []string{"m1", "m2", "m3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestApplyIgnoresOtherChannels(t *testing.T) {
	t.Parallel()
	v := NewView(testChannel, testSelf, nil)

	v.Apply(broadcast.Event{
		ChannelID: "other",
		Type:      broadcast.EventMessageCreated,
		Message:   &model.Message{ID: "m1", ChannelID: "other", CreatedAt: time.Now()},
	})

	if got := len(v.Messages()); got != 0 {
		t.Errorf("got %d messages from foreign channel, want 0", got)
	}
}

func TestApplyIgnoresReadEvents(t *testing.T) {
	t.Parallel()
	v := NewView(testChannel, testSelf, nil)

	v.Apply(broadcast.Event{ChannelID: testChannel, Type: broadcast.EventChannelRead, ReaderRef: "u_bob"})

	if got := len(v.Messages()); got != 0 {
		t.Errorf("got %d messages from read event, want 0", got)
	}
}

func TestRunAppliesEventsUntilContextDone(t *testing.T) {
	t.Parallel()
	v := NewView(testChannel, testSelf, nil)
	events := make(chan broadcast.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.Run(ctx, events)
	}()

	events <- broadcast.Event{
		ChannelID: testChannel,
		Type:      broadcast.EventMessageCreated,
		Message:   canonicalMessage("m1", "hello", time.Now()),
	}

	deadline := time.After(time.Second)
	for len(v.Messages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("event never applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
