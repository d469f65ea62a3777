package services

import (
	"context"
	"errors"
	"time"

	"dm-backend/internal/models"
	"dm-backend/internal/store"
)

// typingLivenessWindow is how recently a typing mark must have been
// refreshed to still count as active at read time.
const typingLivenessWindow = 2000 * time.Millisecond

// TypingService manages ephemeral typing marks. Marks expire lazily: a
// client that stops refreshing (tab closed, network drop) disappears
// from readers after the liveness window with no explicit clear and no
// background sweep.
type TypingService struct {
	store  store.Store
	typing store.TypingStore
	now    func() time.Time
}

func NewTypingService(st store.Store, typing store.TypingStore) *TypingService {
	return &TypingService{store: st, typing: typing, now: time.Now}
}

// SetTyping creates or refreshes the caller's mark when isTyping is
// true, and removes it when false. Last writer wins; marks are advisory.
func (s *TypingService) SetTyping(ctx context.Context, convID, callerID string, isTyping bool) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	if err := s.requireMembership(ctx, convID, callerID); err != nil {
		return err
	}
	if isTyping {
		return s.typing.SetTyping(ctx, convID, callerID, s.now())
	}
	return s.typing.ClearTyping(ctx, convID, callerID)
}

// ListTypingUsers returns the users whose marks are within the liveness
// window, excluding the caller.
func (s *TypingService) ListTypingUsers(ctx context.Context, convID, callerID string) ([]*models.User, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	if err := s.requireMembership(ctx, convID, callerID); err != nil {
		return nil, err
	}

	ids, err := s.typing.TypingSince(ctx, convID, s.now().Add(-typingLivenessWindow))
	if err != nil {
		return nil, err
	}

	out := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		if id == callerID {
			continue
		}
		u, err := s.store.UserByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *TypingService) requireMembership(ctx context.Context, convID, callerID string) error {
	conv, err := s.store.ConversationByID(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !conv.HasParticipant(callerID) {
		return ErrNotFound
	}
	return nil
}
