package services

import (
	"context"
	"errors"
	"time"

	"dm-backend/internal/store"
)

// ReadTracker maintains per-(conversation,user) read markers and derives
// unread counts from them.
type ReadTracker struct {
	store store.Store
	now   func() time.Time
}

func NewReadTracker(st store.Store) *ReadTracker {
	return &ReadTracker{store: st, now: time.Now}
}

// MarkRead moves the caller's read marker for the conversation to now.
// The marker never moves backward, so late or replayed calls cannot
// resurrect unread counts.
func (t *ReadTracker) MarkRead(ctx context.Context, convID, callerID string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	conv, err := t.store.ConversationByID(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !conv.HasParticipant(callerID) {
		return ErrNotFound
	}
	return t.store.AdvanceLastRead(ctx, convID, callerID, t.now())
}

// UnreadCount counts messages from the other participant created
// strictly after the caller's last-read time. No marker means never
// read, which the zero time models.
func (t *ReadTracker) UnreadCount(ctx context.Context, convID, callerID string) (int, error) {
	lastRead, err := t.store.LastReadTime(ctx, convID, callerID)
	if err != nil {
		return 0, err
	}
	return t.store.CountUnread(ctx, convID, callerID, lastRead)
}
