package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"dm-backend/internal/models"
	"dm-backend/internal/store"

	"go.uber.org/zap"
)

// UserService is the user directory: records keyed by external identity,
// synced from the identity webhook (or local register), plus presence.
type UserService struct {
	store store.Store
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewUserService(st store.Store, log *zap.SugaredLogger) *UserService {
	return &UserService{store: st, log: log, now: time.Now}
}

// Upsert creates the user on first sight of the external id and patches
// name/email/avatar on later calls, preserving id and online state.
// Idempotent, so webhook redeliveries are harmless.
func (s *UserService) Upsert(ctx context.Context, externalID, name, email string, imageURL *string) (*models.User, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrInvalidArgument
	}
	if strings.TrimSpace(name) == "" {
		name = "User"
	}
	u, err := s.store.UpsertUser(ctx, externalID, name, email, imageURL, s.now())
	if err != nil {
		return nil, err
	}
	s.log.Debugw("user upserted", "user_id", u.ID)
	return u, nil
}

// ByExternalID resolves an authenticated identity subject to its user
// record.
func (s *UserService) ByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	u, err := s.store.UserByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// Get returns a single user by id.
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.store.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// SetPresence flips the online flag and refreshes last-seen. Unresolved
// identities are a no-op; the session layer calls this on connect and
// disconnect and must not fail a teardown path.
func (s *UserService) SetPresence(ctx context.Context, externalID string, online bool) error {
	u, err := s.store.UserByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.store.SetPresence(ctx, u.ID, online, s.now())
}

// Search returns every user except the caller, filtered by a
// case-insensitive substring match on the display name when query is
// non-empty.
func (s *UserService) Search(ctx context.Context, callerID, query string) ([]*models.User, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]*models.User, 0, len(users))
	for _, u := range users {
		if u.ID == callerID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(u.Name), query) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}
