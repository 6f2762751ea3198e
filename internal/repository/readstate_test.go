package repository

import (
	"context"
	"testing"
	"time"
)

func TestUnreadBadgeScenario(t *testing.T) {
	alice := provisionUser(t, "rs_badge_alice", "Alice")
	bob := provisionUser(t, "rs_badge_bob", "Bob")
	ch := directChannel(t, alice, bob)
	msgRepo := NewMessageRepository(testPool)
	readRepo := NewReadStateRepository(testPool)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := msgRepo.Append(ctx, AppendParams{ChannelID: ch.ID, Sender: bob, Content: "ping"}); err != nil {
			t.Fatal(err)
		}
	}

	count, err := readRepo.UnreadCount(ctx, alice, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("unread before read: got %d, want 3", count)
	}

	if err := readRepo.MarkRead(ctx, alice, ch.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	count, err = readRepo.UnreadCount(ctx, alice, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("unread after read: got %d, want 0", count)
	}

	if _, err := msgRepo.Append(ctx, AppendParams{ChannelID: ch.ID, Sender: bob, Content: "one more"}); err != nil {
		t.Fatal(err)
	}
	count, err = readRepo.UnreadCount(ctx, alice, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("unread after new message: got %d, want 1", count)
	}
}

func TestOwnMessagesNeverCountAsUnread(t *testing.T) {
	alice := provisionUser(t, "rs_own_alice", "Alice")
	bob := provisionUser(t, "rs_own_bob", "Bob")
	ch := directChannel(t, alice, bob)
	msgRepo := NewMessageRepository(testPool)
	readRepo := NewReadStateRepository(testPool)
	ctx := context.Background()

	if _, err := msgRepo.Append(ctx, AppendParams{ChannelID: ch.ID, Sender: alice, Content: "from me"}); err != nil {
		t.Fatal(err)
	}

	count, err := readRepo.UnreadCount(ctx, alice, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("own message counted as unread: got %d, want 0", count)
	}

	count, err = readRepo.UnreadCount(ctx, bob, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("peer unread: got %d, want 1", count)
	}
}

func TestMarkReadIsMonotonic(t *testing.T) {
	alice := provisionUser(t, "rs_mono_alice", "Alice")
	bob := provisionUser(t, "rs_mono_bob", "Bob")
	ch := directChannel(t, alice, bob)
	msgRepo := NewMessageRepository(testPool)
	readRepo := NewReadStateRepository(testPool)
	ctx := context.Background()

	if _, err := msgRepo.Append(ctx, AppendParams{ChannelID: ch.ID, Sender: bob, Content: "old"}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if err := readRepo.MarkRead(ctx, alice, ch.ID, now); err != nil {
		t.Fatal(err)
	}
	// A stale client reports an earlier marker; the stored one must win.
	if err := readRepo.MarkRead(ctx, alice, ch.ID, now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	count, err := readRepo.UnreadCount(ctx, alice, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("stale marker regressed read state: got %d unread, want 0", count)
	}
}

func TestUnreadByChannelCoversAllChannels(t *testing.T) {
	alice := provisionUser(t, "rs_multi_alice", "Alice")
	bob := provisionUser(t, "rs_multi_bob", "Bob")
	carol := provisionUser(t, "rs_multi_carol", "Carol")
	msgRepo := NewMessageRepository(testPool)
	readRepo := NewReadStateRepository(testPool)
	ctx := context.Background()

	chBob := directChannel(t, alice, bob)
	chCarol := directChannel(t, alice, carol)

	for i := 0; i < 2; i++ {
		if _, err := msgRepo.Append(ctx, AppendParams{ChannelID: chBob.ID, Sender: bob, Content: "hi"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := msgRepo.Append(ctx, AppendParams{ChannelID: chCarol.ID, Sender: carol, Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	counts, err := readRepo.UnreadByChannel(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if counts[chBob.ID] != 2 {
		t.Errorf("bob channel: got %d, want 2", counts[chBob.ID])
	}
	if counts[chCarol.ID] != 1 {
		t.Errorf("carol channel: got %d, want 1", counts[chCarol.ID])
	}
	// A channel with no messages still appears with a zero count.
	if _, ok := counts[chBob.ID]; !ok {
		t.Error("channel missing from the map")
	}

	total, err := readRepo.TotalUnread(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if total < 3 {
		t.Errorf("total unread: got %d, want at least 3", total)
	}
}

func TestNoMarkerMeansAllUnread(t *testing.T) {
	alice := provisionUser(t, "rs_nomark_alice", "Alice")
	bob := provisionUser(t, "rs_nomark_bob", "Bob")
	ch := directChannel(t, alice, bob)
	msgRepo := NewMessageRepository(testPool)
	readRepo := NewReadStateRepository(testPool)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := msgRepo.Append(ctx, AppendParams{ChannelID: ch.ID, Sender: bob, Content: "backfill"}); err != nil {
			t.Fatal(err)
		}
	}

	count, err := readRepo.UnreadCount(ctx, alice, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("no marker: got %d unread, want 5", count)
	}
}
