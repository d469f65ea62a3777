package store

import (
	"context"
	"errors"
	"time"

	"dm-backend/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract for the chat core. The Postgres
// implementation is the production backend; the in-memory implementation
// backs unit tests.
//
// Invariants enforced at this layer:
//   - at most one conversation per unordered participant pair
//   - at most one reaction per (message, user, emoji)
//   - at most one read marker and one typing mark per (conversation, user)
//   - read markers only move forward
//   - message insert and conversation preview update are atomic
type Store interface {
	// Users.
	UpsertUser(ctx context.Context, externalID, name, email string, imageURL *string, now time.Time) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
	SetPasswordHash(ctx context.Context, userID, hash string) error
	PasswordHash(ctx context.Context, userID string) (string, error)

	// Conversations.
	GetOrCreateConversation(ctx context.Context, userA, userB string, now time.Time) (*models.Conversation, bool, error)
	ConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	ConversationsForUser(ctx context.Context, userID string) ([]*models.Conversation, error)

	// Messages. AppendMessage inserts the message and updates the owning
	// conversation's last-message time and preview in one transaction.
	AppendMessage(ctx context.Context, msg *models.Message, preview string) error
	MessageByID(ctx context.Context, id string) (*models.Message, error)
	MessagesForConversation(ctx context.Context, convID string) ([]*models.Message, error)
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) error
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (added bool, err error)
	CountUnread(ctx context.Context, convID, userID string, after time.Time) (int, error)

	// Read markers. LastReadTime returns the zero time when no marker
	// exists. AdvanceLastRead never moves a marker backward.
	LastReadTime(ctx context.Context, convID, userID string) (time.Time, error)
	AdvanceLastRead(ctx context.Context, convID, userID string, t time.Time) error
}

// TypingStore holds ephemeral typing marks. Expiry is lazy: TypingSince
// filters by recency at read time, so backends never need a sweeper.
type TypingStore interface {
	SetTyping(ctx context.Context, convID, userID string, at time.Time) error
	ClearTyping(ctx context.Context, convID, userID string) error
	// TypingSince returns the user ids of marks with updatedAt strictly
	// after cutoff.
	TypingSince(ctx context.Context, convID string, cutoff time.Time) ([]string, error)
}

// PairKey builds the deterministic lookup key for a participant pair:
// the two ids sorted and joined. Identical for (a,b) and (b,a), which is
// what makes the conversation uniqueness constraint race-safe.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
