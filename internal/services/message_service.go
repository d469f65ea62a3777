package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"dm-backend/internal/models"
	"dm-backend/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// previewRunes is how much of a message body survives into the
// conversation's last-message preview.
const previewRunes = 50

// MessageService is the append-only message log: send, list, soft
// delete, reaction toggling.
type MessageService struct {
	store  store.Store
	typing store.TypingStore
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewMessageService(st store.Store, typing store.TypingStore, log *zap.SugaredLogger) *MessageService {
	return &MessageService{store: st, typing: typing, log: log, now: time.Now}
}

// Append stores a new message. The sender must be a participant and the
// body must be non-empty after trimming; both are enforced here rather
// than trusted to clients. The insert and the conversation's
// last-message update happen in one store transaction, and the sender's
// typing mark is cleared afterward (advisory, so a failure there does
// not fail the send).
func (s *MessageService) Append(ctx context.Context, convID, senderID, body string) (*models.Message, error) {
	if senderID == "" {
		return nil, ErrUnauthenticated
	}
	conv, err := s.store.ConversationByID(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotFound
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrInvalidArgument
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      s.now(),
		Reactions:      []models.Reaction{},
	}
	if err := s.store.AppendMessage(ctx, msg, truncateRunes(body, previewRunes)); err != nil {
		return nil, err
	}

	if err := s.typing.ClearTyping(ctx, convID, senderID); err != nil {
		s.log.Warnw("clear typing after send", "conversation_id", convID, "error", err)
	}

	return msg, nil
}

// ListForConversation returns all messages in ascending creation order,
// each with its sender attached. Soft-deleted messages keep their slot
// but their body is hidden; clients render a deletion placeholder so
// ordering and layout survive.
func (s *MessageService) ListForConversation(ctx context.Context, convID, callerID string) ([]*models.MessageView, error) {
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

	msgs, err := s.store.MessagesForConversation(ctx, convID)
	if err != nil {
		return nil, err
	}

	senders := make(map[string]*models.User, 2)
	out := make([]*models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		sender, ok := senders[m.SenderID]
		if !ok {
			sender, err = s.store.UserByID(ctx, m.SenderID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			senders[m.SenderID] = sender
		}

		view := &models.MessageView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Sender:         sender,
			Body:           m.Body,
			Deleted:        m.Deleted(),
			CreatedAt:      m.CreatedAt,
			Reactions:      m.Reactions,
		}
		if view.Deleted {
			view.Body = ""
		}
		out = append(out, view)
	}
	return out, nil
}

// SoftDelete marks a message deleted without removing its row, so the
// audit trail and message ordering stay intact. Only the sender may
// delete; reactions are left as they are.
func (s *MessageService) SoftDelete(ctx context.Context, messageID, callerID string) (*models.Message, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	msg, err := s.store.MessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if msg.SenderID != callerID {
		return nil, ErrPermissionDenied
	}
	at := s.now()
	if err := s.store.SoftDeleteMessage(ctx, messageID, at); err != nil {
		return nil, err
	}
	msg.DeletedAt = &at
	return msg, nil
}

// ToggleReaction adds the (emoji, caller) entry if absent and removes it
// if present. The same call is its own inverse; there are no separate
// add/remove operations. Toggling on a soft-deleted message is allowed.
func (s *MessageService) ToggleReaction(ctx context.Context, messageID, callerID, emoji string) (bool, *models.Message, error) {
	if callerID == "" {
		return false, nil, ErrUnauthenticated
	}
	if strings.TrimSpace(emoji) == "" {
		return false, nil, ErrInvalidArgument
	}

	msg, err := s.store.MessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil, ErrNotFound
		}
		return false, nil, err
	}
	conv, err := s.store.ConversationByID(ctx, msg.ConversationID)
	if err != nil {
		return false, nil, err
	}
	if !conv.HasParticipant(callerID) {
		return false, nil, ErrNotFound
	}

	added, err := s.store.ToggleReaction(ctx, messageID, callerID, emoji)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil, ErrNotFound
		}
		return false, nil, err
	}
	return added, msg, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
