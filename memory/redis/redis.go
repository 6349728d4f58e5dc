// Package redis implements bluebonnet.ConversationStore on Redis. Each
// thread is one JSON document under thread:<id>, refreshed with the session
// TTL on every append so idle conversations expire server-side.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "thread:"

// Store is a Redis-backed conversation store. The client is caller-owned;
// the store never closes it.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the session TTL (default bluebonnet.DefaultSessionTimeout).
// Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// New creates a conversation store on an existing Redis client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		ttl:    bluebonnet.DefaultSessionTimeout,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(threadID string) string { return keyPrefix + threadID }

// load reads a thread document. A missing key yields an empty thread.
func (s *Store) load(ctx context.Context, threadID string) (bluebonnet.Thread, error) {
	data, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			now := s.now().Unix()
			return bluebonnet.Thread{ID: threadID, CreatedAt: now, UpdatedAt: now}, nil
		}
		return bluebonnet.Thread{}, &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("get thread: %w", err)}
	}

	var t bluebonnet.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return bluebonnet.Thread{}, fmt.Errorf("redis: unmarshal thread %s: %w", threadID, err)
	}
	return t, nil
}

func (s *Store) save(ctx context.Context, t bluebonnet.Thread) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: marshal thread %s: %w", t.ID, err)
	}
	if err := s.client.Set(ctx, s.key(t.ID), data, s.ttl).Err(); err != nil {
		return &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("set thread: %w", err)}
	}
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, threadID string) (bluebonnet.Thread, error) {
	return s.load(ctx, threadID)
}

func (s *Store) Append(ctx context.Context, threadID, role, content string) error {
	if err := bluebonnet.ValidateRole(role); err != nil {
		return err
	}

	t, err := s.load(ctx, threadID)
	if err != nil {
		return err
	}

	now := s.now().Unix()
	t.Messages = append(t.Messages, bluebonnet.ThreadMessage{
		Role:      role,
		Content:   content,
		CreatedAt: now,
	})
	t.UpdatedAt = now
	return s.save(ctx, t)
}

func (s *Store) Recent(ctx context.Context, threadID string, maxTurns int) ([]bluebonnet.ThreadMessage, error) {
	t, err := s.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return bluebonnet.RecentMessages(t.Messages, maxTurns), nil
}

func (s *Store) Reset(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return &bluebonnet.ErrUpstream{Component: "memory", Err: fmt.Errorf("del thread: %w", err)}
	}
	return nil
}

// Compile-time interface check.
var _ bluebonnet.ConversationStore = (*Store)(nil)
