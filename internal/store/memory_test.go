package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"dm-backend/internal/models"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey("a", "b") != PairKey("b", "a") {
		t.Fatal("pair key differs by argument order")
	}
	if PairKey("a", "b") == PairKey("a", "c") {
		t.Fatal("distinct pairs collide")
	}
}

func TestGetOrCreateConversationConcurrent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	// Both participants racing from both argument orders must converge
	// on a single conversation.
	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "user-a", "user-b"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, _, err := s.GetOrCreateConversation(ctx, a, b, now)
			if err != nil {
				t.Errorf("GetOrCreateConversation: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("race created multiple conversations: %s vs %s", ids[0], ids[i])
		}
	}
}

func TestAdvanceLastReadIsForwardOnly(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Now()

	if err := s.AdvanceLastRead(ctx, "conv", "user", base); err != nil {
		t.Fatalf("AdvanceLastRead: %v", err)
	}
	// A stale write must not move the marker back.
	if err := s.AdvanceLastRead(ctx, "conv", "user", base.Add(-time.Hour)); err != nil {
		t.Fatalf("AdvanceLastRead stale: %v", err)
	}
	got, err := s.LastReadTime(ctx, "conv", "user")
	if err != nil {
		t.Fatalf("LastReadTime: %v", err)
	}
	if !got.Equal(base) {
		t.Errorf("marker moved backward: got %v want %v", got, base)
	}

	if err := s.AdvanceLastRead(ctx, "conv", "user", base.Add(time.Hour)); err != nil {
		t.Fatalf("AdvanceLastRead forward: %v", err)
	}
	got, _ = s.LastReadTime(ctx, "conv", "user")
	if !got.Equal(base.Add(time.Hour)) {
		t.Errorf("marker did not advance: got %v", got)
	}
}

func TestLastReadTimeDefaultsToZero(t *testing.T) {
	s := NewMemory()
	got, err := s.LastReadTime(context.Background(), "conv", "user")
	if err != nil {
		t.Fatalf("LastReadTime: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero time for missing marker, got %v", got)
	}
}

func TestAppendMessageUpdatesConversation(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	start := time.Now()

	conv, _, err := s.GetOrCreateConversation(ctx, "a", "b", start)
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}

	sentAt := start.Add(time.Minute)
	msg := &models.Message{
		ID:             "m1",
		ConversationID: conv.ID,
		SenderID:       "a",
		Body:           "hello there",
		CreatedAt:      sentAt,
	}
	if err := s.AppendMessage(ctx, msg, "hello there"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	got, err := s.ConversationByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ConversationByID: %v", err)
	}
	if !got.LastMessageTime.Equal(sentAt) {
		t.Errorf("last message time = %v, want %v", got.LastMessageTime, sentAt)
	}
	if got.LastMessagePreview == nil || *got.LastMessagePreview != "hello there" {
		t.Errorf("preview = %v", got.LastMessagePreview)
	}

	if err := s.AppendMessage(ctx, &models.Message{ID: "m2", ConversationID: "missing", SenderID: "a", Body: "x", CreatedAt: sentAt}, "x"); err != ErrNotFound {
		t.Errorf("append to missing conversation: expected ErrNotFound, got %v", err)
	}
}

func TestMessagesForConversationAscendingOrder(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	start := time.Now()
	conv, _, _ := s.GetOrCreateConversation(ctx, "a", "b", start)

	for i, id := range []string{"m1", "m2", "m3"} {
		msg := &models.Message{
			ID:             id,
			ConversationID: conv.ID,
			SenderID:       "a",
			Body:           id,
			CreatedAt:      start.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendMessage(ctx, msg, id); err != nil {
			t.Fatalf("AppendMessage %s: %v", id, err)
		}
	}

	msgs, err := s.MessagesForConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("MessagesForConversation: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("position %d: got %s want %s", i, msgs[i].ID, want)
		}
	}
}

func TestToggleReactionAtMostOnePerPair(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	start := time.Now()
	conv, _, _ := s.GetOrCreateConversation(ctx, "a", "b", start)
	msg := &models.Message{ID: "m1", ConversationID: conv.ID, SenderID: "a", Body: "x", CreatedAt: start}
	if err := s.AppendMessage(ctx, msg, "x"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	added, err := s.ToggleReaction(ctx, "m1", "b", "👍")
	if err != nil || !added {
		t.Fatalf("first toggle: added=%v err=%v", added, err)
	}
	added, err = s.ToggleReaction(ctx, "m1", "b", "👍")
	if err != nil || added {
		t.Fatalf("second toggle: added=%v err=%v", added, err)
	}
	if _, err := s.ToggleReaction(ctx, "missing", "b", "👍"); err != ErrNotFound {
		t.Errorf("missing message: expected ErrNotFound, got %v", err)
	}
}

func TestTypingSinceFiltersByCutoff(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Now()

	if err := s.SetTyping(ctx, "conv", "fresh", base); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if err := s.SetTyping(ctx, "conv", "stale", base.Add(-5*time.Second)); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}

	got, err := s.TypingSince(ctx, "conv", base.Add(-2*time.Second))
	if err != nil {
		t.Fatalf("TypingSince: %v", err)
	}
	if len(got) != 1 || got[0] != "fresh" {
		t.Errorf("expected only the fresh mark, got %v", got)
	}
}
