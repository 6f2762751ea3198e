package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
)

func directChannel(t *testing.T, a, b identity.Ref) *model.Channel {
	t.Helper()
	ch, err := NewChannelRepository(testPool).FindOrCreateDirect(context.Background(), a, b)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return ch
}

func TestAppendReturnsCanonicalMessage(t *testing.T) {
	alice := provisionUser(t, "msg_canon_alice", "Alice")
	bob := provisionUser(t, "msg_canon_bob", "Bob")
	ch := directChannel(t, alice, bob)
	repo := NewMessageRepository(testPool)
	ctx := context.Background()

	msg, err := repo.Append(ctx, AppendParams{ChannelID: ch.ID, Sender: alice, Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" {
		t.Error("canonical message has no id")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("canonical message has no timestamp")
	}
	if msg.Sender == nil || msg.Sender.DisplayName != "Alice" {
		t.Errorf("sender not resolved: %+v", msg.Sender)
	}

	got, err := repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "hello" || got.SenderRef != alice {
		t.Errorf("stored message %+v does not match canonical", got)
	}
}

func TestAppendUnknownChannel(t *testing.T) {
	alice := provisionUser(t, "msg_noch_alice", "Alice")
	repo := NewMessageRepository(testPool)

	_, err := repo.Append(context.Background(), AppendParams{
		ChannelID: "00000000-0000-0000-0000-000000000000",
		Sender:    alice,
		Content:   "hello",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestAppendUnknownSender(t *testing.T) {
	alice := provisionUser(t, "msg_nosender_alice", "Alice")
	bob := provisionUser(t, "msg_nosender_bob", "Bob")
	ch := directChannel(t, alice, bob)
	repo := NewMessageRepository(testPool)

	_, err := repo.Append(context.Background(), AppendParams{
		ChannelID: ch.ID,
		Sender:    "ghost_subject",
		Content:   "hello",
	})
	if !errors.Is(err, identity.ErrUnknownIdentity) {
		t.Errorf("got %v, want ErrUnknownIdentity", err)
	}
}

func TestAppendRejectsCrossChannelReply(t *testing.T) {
	alice := provisionUser(t, "msg_reply_alice", "Alice")
	bob := provisionUser(t, "msg_reply_bob", "Bob")
	carol := provisionUser(t, "msg_reply_carol", "Carol")
	chAB := directChannel(t, alice, bob)
	chAC := directChannel(t, alice, carol)
	repo := NewMessageRepository(testPool)
	ctx := context.Background()

	origin, err := repo.Append(ctx, AppendParams{ChannelID: chAB.ID, Sender: alice, Content: "origin"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = repo.Append(ctx, AppendParams{
		ChannelID: chAC.ID,
		Sender:    alice,
		Content:   "reply",
		ReplyToID: &origin.ID,
	})
	if !errors.Is(err, ErrInvalidReply) {
		t.Errorf("got %v, want ErrInvalidReply", err)
	}

	// Same-channel reply works and resolves the target.
	reply, err := repo.Append(ctx, AppendParams{
		ChannelID: chAB.ID,
		Sender:    bob,
		Content:   "reply",
		ReplyToID: &origin.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.ReplyToID == nil || *reply.ReplyToID != origin.ID {
		t.Errorf("reply target %v, want %s", reply.ReplyToID, origin.ID)
	}
}

func TestListByChannelStoreOrderAndCursor(t *testing.T) {
	alice := provisionUser(t, "msg_page_alice", "Alice")
	bob := provisionUser(t, "msg_page_bob", "Bob")
	ch := directChannel(t, alice, bob)
	repo := NewMessageRepository(testPool)
	ctx := context.Background()

	var all []string
	for i := 0; i < 7; i++ {
		msg, err := repo.Append(ctx, AppendParams{
			ChannelID: ch.ID,
			Sender:    alice,
			Content:   fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, msg.ID)
	}

	// Newest page of 3.
	page, err := repo.ListByChannel(ctx, ch.ID, "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 {
		t.Fatalf("got %d messages, want 3", len(page))
	}
	for i, want := range all[4:] {
		if page[i].ID != want {
			t.Errorf("page[%d] = %s, want %s", i, page[i].ID, want)
		}
	}

	// Walk backwards from the oldest of that page.
	prev, err := repo.ListByChannel(ctx, ch.ID, page[0].ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(prev) != 3 {
		t.Fatalf("got %d messages, want 3", len(prev))
	}
	for i, want := range all[1:4] {
		if prev[i].ID != want {
			t.Errorf("prev[%d] = %s, want %s", i, prev[i].ID, want)
		}
	}
}

func TestInterleavedChannelsKeepIndependentOrder(t *testing.T) {
	alice := provisionUser(t, "msg_ileave_alice", "Alice")
	bob := provisionUser(t, "msg_ileave_bob", "Bob")
	carol := provisionUser(t, "msg_ileave_carol", "Carol")
	chAB := directChannel(t, alice, bob)
	chAC := directChannel(t, alice, carol)
	repo := NewMessageRepository(testPool)
	ctx := context.Background()

	var wantAB, wantAC []string
	for i := 0; i < 4; i++ {
		m1, err := repo.Append(ctx, AppendParams{ChannelID: chAB.ID, Sender: alice, Content: fmt.Sprintf("ab %d", i)})
		if err != nil {
			t.Fatal(err)
		}
		wantAB = append(wantAB, m1.ID)
		m2, err := repo.Append(ctx, AppendParams{ChannelID: chAC.ID, Sender: alice, Content: fmt.Sprintf("ac %d", i)})
		if err != nil {
			t.Fatal(err)
		}
		wantAC = append(wantAC, m2.ID)
	}

	for _, tc := range []struct {
		channelID string
		want      []string
	}{
		{chAB.ID, wantAB},
		{chAC.ID, wantAC},
	} {
		page, err := repo.ListByChannel(ctx, tc.channelID, "", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) != len(tc.want) {
			t.Fatalf("channel %s: got %d messages, want %d", tc.channelID, len(page), len(tc.want))
		}
		for i := range tc.want {
			if page[i].ID != tc.want[i] {
				t.Errorf("channel %s page[%d] = %s, want %s", tc.channelID, i, page[i].ID, tc.want[i])
			}
			if page[i].ChannelID != tc.channelID {
				t.Errorf("channel %s leaked message %s from %s", tc.channelID, page[i].ID, page[i].ChannelID)
			}
		}
	}
}

func TestOrphanedSenderMessageStillRenders(t *testing.T) {
	alice := provisionUser(t, "msg_orphan_alice", "Alice")
	bob := provisionUser(t, "msg_orphan_bob", "Bob")
	ch := directChannel(t, alice, bob)
	msgRepo := NewMessageRepository(testPool)
	userRepo := NewUserRepository(testPool)
	ctx := context.Background()

	msg, err := msgRepo.Append(ctx, AppendParams{ChannelID: ch.ID, Sender: bob, Content: "soon orphaned"})
	if err != nil {
		t.Fatal(err)
	}
	if err := userRepo.Delete(ctx, bob); err != nil {
		t.Fatal(err)
	}

	page, err := msgRepo.ListByChannel(ctx, ch.ID, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	var found *model.Message
	for i := range page {
		if page[i].ID == msg.ID {
			found = &page[i]
		}
	}
	if found == nil {
		t.Fatal("orphaned message missing from the page")
	}
	if found.Sender != nil {
		t.Errorf("orphaned sender resolved to %+v, want nil placeholder", found.Sender)
	}
	if found.Content != "soon orphaned" {
		t.Errorf("content %q lost", found.Content)
	}
}

func TestAppendWithAttachments(t *testing.T) {
	alice := provisionUser(t, "msg_att_alice", "Alice")
	bob := provisionUser(t, "msg_att_bob", "Bob")
	ch := directChannel(t, alice, bob)
	repo := NewMessageRepository(testPool)
	ctx := context.Background()

	msg, err := repo.Append(ctx, AppendParams{
		ChannelID: ch.ID,
		Sender:    alice,
		Content:   "see attached",
		Attachments: []model.Attachment{
			{Ref: "blob/abc", Name: "report.pdf", SizeBytes: 1024},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	page, err := repo.ListByChannel(ctx, ch.ID, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := range page {
		if page[i].ID != msg.ID {
			continue
		}
		if len(page[i].Attachments) != 1 || page[i].Attachments[0].Name != "report.pdf" {
			t.Errorf("attachments %+v, want report.pdf", page[i].Attachments)
		}
		return
	}
	t.Fatal("message with attachment missing from the page")
}

func TestGetLastMessage(t *testing.T) {
	alice := provisionUser(t, "msg_last_alice", "Alice")
	bob := provisionUser(t, "msg_last_bob", "Bob")
	ch := directChannel(t, alice, bob)
	repo := NewMessageRepository(testPool)
	ctx := context.Background()

	last, err := repo.GetLastMessage(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Errorf("empty channel returned %+v", last)
	}

	if _, err := repo.Append(ctx, AppendParams{ChannelID: ch.ID, Sender: alice, Content: "first"}); err != nil {
		t.Fatal(err)
	}
	second, err := repo.Append(ctx, AppendParams{ChannelID: ch.ID, Sender: bob, Content: "second"})
	if err != nil {
		t.Fatal(err)
	}

	last, err = repo.GetLastMessage(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.ID != second.ID {
		t.Errorf("got %+v, want the second message", last)
	}
}
