package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"dm-backend/internal/models"

	"github.com/google/uuid"
)

// Memory is an in-process Store and TypingStore used by unit tests and
// by the server when no database is configured.
type Memory struct {
	mu sync.RWMutex

	users       map[string]*models.User // id -> user
	userOrder   []string
	byExternal  map[string]string // external id -> user id
	passwords   map[string]string // user id -> bcrypt hash
	convs       map[string]*models.Conversation
	convByPair  map[string]string // pair key -> conversation id
	messages    map[string]*models.Message
	msgsByConv  map[string][]string // conversation id -> message ids, append order
	reads       map[string]time.Time // pair key of (conv, user) -> last read
	typingMarks map[string]map[string]time.Time // conv id -> user id -> updated at
}

func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]*models.User),
		byExternal:  make(map[string]string),
		passwords:   make(map[string]string),
		convs:       make(map[string]*models.Conversation),
		convByPair:  make(map[string]string),
		messages:    make(map[string]*models.Message),
		msgsByConv:  make(map[string][]string),
		reads:       make(map[string]time.Time),
		typingMarks: make(map[string]map[string]time.Time),
	}
}

func cloneUser(u *models.User) *models.User {
	cp := *u
	return &cp
}

func cloneConv(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	return &cp
}

func cloneMessage(m *models.Message) *models.Message {
	cp := *m
	cp.Reactions = append([]models.Reaction(nil), m.Reactions...)
	return &cp
}

func (s *Memory) UpsertUser(ctx context.Context, externalID, name, email string, imageURL *string, now time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byExternal[externalID]; ok {
		u := s.users[id]
		u.Name = name
		u.Email = email
		u.ImageURL = imageURL
		return cloneUser(u), nil
	}

	u := &models.User{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Name:       name,
		Email:      email,
		ImageURL:   imageURL,
		IsOnline:   false,
		LastSeen:   now,
		CreatedAt:  now,
	}
	s.users[u.ID] = u
	s.userOrder = append(s.userOrder, u.ID)
	s.byExternal[externalID] = u.ID
	return cloneUser(u), nil
}

func (s *Memory) UserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Memory) UserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Memory) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lower := strings.ToLower(email)
	for _, id := range s.userOrder {
		if strings.ToLower(s.users[id].Email) == lower {
			return cloneUser(s.users[id]), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) ListUsers(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		out = append(out, cloneUser(s.users[id]))
	}
	return out, nil
}

func (s *Memory) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = lastSeen
	return nil
}

func (s *Memory) SetPasswordHash(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	s.passwords[userID] = hash
	return nil
}

func (s *Memory) PasswordHash(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.passwords[userID]
	if !ok {
		return "", ErrNotFound
	}
	return h, nil
}

func (s *Memory) GetOrCreateConversation(ctx context.Context, userA, userB string, now time.Time) (*models.Conversation, bool, error) {
	key := PairKey(userA, userB)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.convByPair[key]; ok {
		return cloneConv(s.convs[id]), false, nil
	}

	c := &models.Conversation{
		ID:              uuid.NewString(),
		ParticipantIDs:  []string{userA, userB},
		LastMessageTime: now,
		CreatedAt:       now,
	}
	s.convs[c.ID] = c
	s.convByPair[key] = c.ID
	return cloneConv(c), true, nil
}

func (s *Memory) ConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConv(c), nil
}

func (s *Memory) ConversationsForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Conversation
	for _, c := range s.convs {
		if c.HasParticipant(userID) {
			out = append(out, cloneConv(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out, nil
}

func (s *Memory) AppendMessage(ctx context.Context, msg *models.Message, preview string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	stored := cloneMessage(msg)
	if stored.Reactions == nil {
		stored.Reactions = []models.Reaction{}
	}
	s.messages[stored.ID] = stored
	s.msgsByConv[c.ID] = append(s.msgsByConv[c.ID], stored.ID)

	c.LastMessageTime = stored.CreatedAt
	p := preview
	c.LastMessagePreview = &p
	return nil
}

func (s *Memory) MessageByID(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Memory) MessagesForConversation(ctx context.Context, convID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.msgsByConv[convID]
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneMessage(s.messages[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Memory) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	m.DeletedAt = &t
	return nil
}

func (s *Memory) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, ErrNotFound
	}
	for i, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return false, nil
		}
	}
	m.Reactions = append(m.Reactions, models.Reaction{Emoji: emoji, UserID: userID})
	return true, nil
}

func (s *Memory) CountUnread(ctx context.Context, convID, userID string, after time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.msgsByConv[convID] {
		m := s.messages[id]
		if m.SenderID != userID && m.CreatedAt.After(after) {
			n++
		}
	}
	return n, nil
}

func readKey(convID, userID string) string {
	return convID + ":" + userID
}

func (s *Memory) LastReadTime(ctx context.Context, convID, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[readKey(convID, userID)], nil
}

func (s *Memory) AdvanceLastRead(ctx context.Context, convID, userID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := readKey(convID, userID)
	if existing, ok := s.reads[key]; ok && existing.After(t) {
		return nil
	}
	s.reads[key] = t
	return nil
}

func (s *Memory) SetTyping(ctx context.Context, convID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	marks, ok := s.typingMarks[convID]
	if !ok {
		marks = make(map[string]time.Time)
		s.typingMarks[convID] = marks
	}
	marks[userID] = at
	return nil
}

func (s *Memory) ClearTyping(ctx context.Context, convID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if marks, ok := s.typingMarks[convID]; ok {
		delete(marks, userID)
	}
	return nil
}

func (s *Memory) TypingSince(ctx context.Context, convID string, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for userID, at := range s.typingMarks[convID] {
		if at.After(cutoff) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}
