package services

import (
	"context"
	"errors"
	"time"

	"dm-backend/internal/models"
	"dm-backend/internal/store"

	"go.uber.org/zap"
)

// ConversationService manages two-party conversations and composes the
// list/detail views the UI consumes.
type ConversationService struct {
	store store.Store
	reads *ReadTracker
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewConversationService(st store.Store, reads *ReadTracker, log *zap.SugaredLogger) *ConversationService {
	return &ConversationService{store: st, reads: reads, log: log, now: time.Now}
}

// GetOrCreate returns the conversation for the pair {caller, other},
// creating it on first contact. Concurrent calls from both sides
// converge on one conversation; the store's pair-key uniqueness makes
// the check-then-insert race-safe.
func (s *ConversationService) GetOrCreate(ctx context.Context, callerID, otherID string) (*models.Conversation, bool, error) {
	if callerID == "" {
		return nil, false, ErrUnauthenticated
	}
	if otherID == "" || otherID == callerID {
		return nil, false, ErrInvalidArgument
	}
	if _, err := s.store.UserByID(ctx, otherID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}

	conv, created, err := s.store.GetOrCreateConversation(ctx, callerID, otherID, s.now())
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Infow("conversation created", "conversation_id", conv.ID)
	}
	return conv, created, nil
}

// Get returns the conversation with both participants attached, but only
// to its members. Non-participants see NotFound rather than
// PermissionDenied so the conversation's existence does not leak.
func (s *ConversationService) Get(ctx context.Context, callerID, convID string) (*models.ConversationDetail, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	conv, err := s.store.ConversationByID(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(callerID) {
		return nil, ErrNotFound
	}

	other, err := s.store.UserByID(ctx, conv.OtherParticipant(callerID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	current, err := s.store.UserByID(ctx, callerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return &models.ConversationDetail{
		Conversation: *conv,
		OtherUser:    other,
		CurrentUser:  current,
	}, nil
}

// ListForUser returns every conversation containing the caller, newest
// activity first, each enriched with the other participant and the
// caller's unread count.
func (s *ConversationService) ListForUser(ctx context.Context, callerID string) ([]*models.ConversationSummary, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	convs, err := s.store.ConversationsForUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		other, err := s.store.UserByID(ctx, conv.OtherParticipant(callerID))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		unread, err := s.reads.UnreadCount(ctx, conv.ID, callerID)
		if err != nil {
			return nil, err
		}
		out = append(out, &models.ConversationSummary{
			Conversation: *conv,
			OtherUser:    other,
			UnreadCount:  unread,
		})
	}
	return out, nil
}

// MarkRead delegates to the read tracker.
func (s *ConversationService) MarkRead(ctx context.Context, callerID, convID string) error {
	return s.reads.MarkRead(ctx, convID, callerID)
}
