package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetOrCreateDedupsPerPair(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")

	c1, created, err := e.convs.GetOrCreate(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("expected first call to create")
	}

	// Same pair from the other side resolves to the same conversation.
	c2, created, err := e.convs.GetOrCreate(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("GetOrCreate reversed: %v", err)
	}
	if created {
		t.Fatal("reversed call must not create a second conversation")
	}
	if c2.ID != c1.ID {
		t.Fatalf("pair produced two conversations: %s and %s", c1.ID, c2.ID)
	}
}

func TestGetOrCreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")

	if _, _, err := e.convs.GetOrCreate(ctx, "", alice.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("empty caller: expected ErrUnauthenticated, got %v", err)
	}
	if _, _, err := e.convs.GetOrCreate(ctx, alice.ID, alice.ID); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("self conversation: expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := e.convs.GetOrCreate(ctx, alice.ID, "missing-user"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown other user: expected ErrNotFound, got %v", err)
	}
}

func TestGetHidesConversationFromNonParticipants(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	eve := e.user(t, "eve")
	conv := e.conversation(t, alice, bob)

	detail, err := e.convs.Get(ctx, alice.ID, conv.ID)
	if err != nil {
		t.Fatalf("Get as participant: %v", err)
	}
	if detail.OtherUser == nil || detail.OtherUser.ID != bob.ID {
		t.Errorf("wrong other user: %+v", detail.OtherUser)
	}
	if detail.CurrentUser == nil || detail.CurrentUser.ID != alice.ID {
		t.Errorf("wrong current user: %+v", detail.CurrentUser)
	}

	// A non-participant sees NotFound, not PermissionDenied.
	if _, err := e.convs.Get(ctx, eve.ID, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-participant: expected ErrNotFound, got %v", err)
	}
	if _, err := e.convs.Get(ctx, alice.ID, "missing-conv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing conversation: expected ErrNotFound, got %v", err)
	}
}

func TestListForUserSortsByLastMessageDesc(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	carol := e.user(t, "carol")

	withBob := e.conversation(t, alice, bob)
	e.clock.Advance(time.Minute)
	withCarol := e.conversation(t, alice, carol)

	e.clock.Advance(time.Minute)
	e.send(t, withBob, bob, "ping")

	list, err := e.convs.ListForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}
	if list[0].ID != withBob.ID || list[1].ID != withCarol.ID {
		t.Errorf("wrong order: got [%s %s]", list[0].ID, list[1].ID)
	}
	if list[0].OtherUser == nil || list[0].OtherUser.ID != bob.ID {
		t.Errorf("wrong other user on first item: %+v", list[0].OtherUser)
	}
	if list[0].UnreadCount != 1 {
		t.Errorf("expected 1 unread from bob, got %d", list[0].UnreadCount)
	}
}

func TestUnreadCountLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	conv := e.conversation(t, alice, bob)

	count := func(u string) int {
		t.Helper()
		n, err := e.reads.UnreadCount(ctx, conv.ID, u)
		if err != nil {
			t.Fatalf("UnreadCount: %v", err)
		}
		return n
	}

	// Own messages never count as unread for the sender.
	e.clock.Advance(time.Second)
	e.send(t, conv, alice, "hello")
	if got := count(alice.ID); got != 0 {
		t.Errorf("sender unread = %d, want 0", got)
	}
	if got := count(bob.ID); got != 1 {
		t.Errorf("recipient unread = %d, want 1", got)
	}

	e.clock.Advance(time.Second)
	e.send(t, conv, alice, "anyone there?")
	if got := count(bob.ID); got != 2 {
		t.Errorf("recipient unread = %d, want 2", got)
	}

	e.clock.Advance(time.Second)
	if err := e.convs.MarkRead(ctx, bob.ID, conv.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := count(bob.ID); got != 0 {
		t.Errorf("unread after mark read = %d, want 0", got)
	}

	// Each new message from the other side bumps the count by one.
	e.clock.Advance(time.Second)
	e.send(t, conv, alice, "still here")
	if got := count(bob.ID); got != 1 {
		t.Errorf("unread after new message = %d, want 1", got)
	}
}

func TestMarkReadMembership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	eve := e.user(t, "eve")
	conv := e.conversation(t, alice, bob)

	if err := e.convs.MarkRead(ctx, eve.ID, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-participant mark read: expected ErrNotFound, got %v", err)
	}
	if err := e.convs.MarkRead(ctx, "", conv.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("unauthenticated mark read: expected ErrUnauthenticated, got %v", err)
	}
}

// First-contact flow: conversation creation, preview update, unread
// count and read marker working together.
func TestFirstContactScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")

	conv, created, err := e.convs.GetOrCreate(ctx, alice.ID, bob.ID)
	if err != nil || !created {
		t.Fatalf("GetOrCreate: created=%v err=%v", created, err)
	}
	if conv.LastMessagePreview != nil {
		t.Errorf("new conversation should have no preview, got %q", *conv.LastMessagePreview)
	}

	e.clock.Advance(time.Second)
	sentAt := e.clock.Now()
	e.send(t, conv, alice, "hi")

	detail, err := e.convs.Get(ctx, bob.ID, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if detail.LastMessagePreview == nil || *detail.LastMessagePreview != "hi" {
		t.Errorf("preview = %v, want %q", detail.LastMessagePreview, "hi")
	}
	if !detail.LastMessageTime.Equal(sentAt) {
		t.Errorf("last message time = %v, want %v", detail.LastMessageTime, sentAt)
	}

	if n, _ := e.reads.UnreadCount(ctx, conv.ID, bob.ID); n != 1 {
		t.Errorf("unread = %d, want 1", n)
	}
	e.clock.Advance(time.Second)
	if err := e.convs.MarkRead(ctx, bob.ID, conv.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n, _ := e.reads.UnreadCount(ctx, conv.ID, bob.ID); n != 0 {
		t.Errorf("unread after read = %d, want 0", n)
	}
}
