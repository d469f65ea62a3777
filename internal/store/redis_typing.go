package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTyping keeps typing marks in a Redis hash per conversation:
// <prefix>:typing:<conversationID> -> { userID: unix milli }.
// Reads filter by recency; stale fields are pruned opportunistically and
// the whole key carries a TTL so abandoned conversations clean themselves
// up without a sweeper.
type RedisTyping struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisTyping(client *redis.Client, prefix string) *RedisTyping {
	return &RedisTyping{client: client, prefix: prefix, ttl: time.Minute}
}

func (s *RedisTyping) key(convID string) string {
	return s.prefix + ":typing:" + convID
}

func (s *RedisTyping) SetTyping(ctx context.Context, convID, userID string, at time.Time) error {
	key := s.key(convID)
	if err := s.client.HSet(ctx, key, userID, at.UnixMilli()).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

func (s *RedisTyping) ClearTyping(ctx context.Context, convID, userID string) error {
	return s.client.HDel(ctx, s.key(convID), userID).Err()
}

func (s *RedisTyping) TypingSince(ctx context.Context, convID string, cutoff time.Time) ([]string, error) {
	key := s.key(convID)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var out []string
	var stale []string
	for userID, raw := range fields {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			stale = append(stale, userID)
			continue
		}
		if time.UnixMilli(ms).After(cutoff) {
			out = append(out, userID)
		} else {
			stale = append(stale, userID)
		}
	}
	if len(stale) > 0 {
		_ = s.client.HDel(ctx, key, stale...).Err()
	}
	return out, nil
}
