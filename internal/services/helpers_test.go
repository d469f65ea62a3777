package services

import (
	"context"
	"testing"
	"time"

	"dm-backend/internal/models"
	"dm-backend/internal/store"

	"go.uber.org/zap"
)

// fakeClock lets tests control the timestamps the services observe.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type env struct {
	st     *store.Memory
	clock  *fakeClock
	users  *UserService
	reads  *ReadTracker
	convs  *ConversationService
	msgs   *MessageService
	typing *TypingService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemory()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	log := zap.NewNop().Sugar()

	users := NewUserService(mem, log)
	users.now = clock.Now
	reads := NewReadTracker(mem)
	reads.now = clock.Now
	convs := NewConversationService(mem, reads, log)
	convs.now = clock.Now
	msgs := NewMessageService(mem, mem, log)
	msgs.now = clock.Now
	typing := NewTypingService(mem, mem)
	typing.now = clock.Now

	return &env{st: mem, clock: clock, users: users, reads: reads, convs: convs, msgs: msgs, typing: typing}
}

func (e *env) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := e.users.Upsert(context.Background(), "ext-"+name, name, name+"@example.com", nil)
	if err != nil {
		t.Fatalf("Upsert(%s): %v", name, err)
	}
	return u
}

func (e *env) conversation(t *testing.T, a, b *models.User) *models.Conversation {
	t.Helper()
	conv, _, err := e.convs.GetOrCreate(context.Background(), a.ID, b.ID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return conv
}

func (e *env) send(t *testing.T, conv *models.Conversation, sender *models.User, body string) *models.Message {
	t.Helper()
	msg, err := e.msgs.Append(context.Background(), conv.ID, sender.ID, body)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return msg
}
