package bluebonnet

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultSessionTimeout is how long an idle thread survives in the in-process
// backend before it becomes eligible for eviction.
const DefaultSessionTimeout = 30 * time.Minute

// ThreadMessage is one turn half in a conversation thread.
type ThreadMessage struct {
	Role      string `json:"role"` // "user" or "assistant"
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"` // Unix seconds
}

// Thread is a conversation identified by a thread ID.
type Thread struct {
	ID        string          `json:"id"`
	Messages  []ThreadMessage `json:"messages"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// TurnCount returns the number of completed user/assistant exchanges.
func (t Thread) TurnCount() int {
	return len(t.Messages) / 2
}

// ConversationStore keeps per-thread message history. Append is the only
// mutator; appends on the same thread are serialized so a later turn
// observes all prior appends. Implementations exist in-process (here) and
// durable (memory/redis, memory/sqlite, memory/postgres).
type ConversationStore interface {
	// GetOrCreate returns the thread, creating an empty one if absent.
	GetOrCreate(ctx context.Context, threadID string) (Thread, error)
	// Append adds a message. role must be "user" or "assistant".
	Append(ctx context.Context, threadID, role, content string) error
	// Recent returns the last 2*maxTurns messages, oldest first.
	Recent(ctx context.Context, threadID string, maxTurns int) ([]ThreadMessage, error)
	// Reset deletes the thread's history.
	Reset(ctx context.Context, threadID string) error
}

// ValidateRole checks an append role.
func ValidateRole(role string) error {
	if role != "user" && role != "assistant" {
		return &ErrInvalidArgument{Field: "role", Reason: fmt.Sprintf("%q is not user or assistant", role)}
	}
	return nil
}

// InMemoryStore is the default ConversationStore: a process-local map with a
// per-thread lock. Threads idle longer than the session timeout are evicted
// lazily on the next store access.
type InMemoryStore struct {
	mu      sync.Mutex
	threads map[string]*memThread
	timeout time.Duration
	now     func() time.Time
}

type memThread struct {
	mu     sync.Mutex
	thread Thread
	lastAt time.Time
}

var _ ConversationStore = (*InMemoryStore)(nil)

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// SessionTimeout overrides the idle-eviction window (default 30m).
// Zero disables eviction.
func SessionTimeout(d time.Duration) InMemoryOption {
	return func(s *InMemoryStore) { s.timeout = d }
}

// NewInMemoryStore creates the in-process backend.
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		threads: make(map[string]*memThread),
		timeout: DefaultSessionTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// get returns the live thread entry, evicting expired ones on the way.
func (s *InMemoryStore) get(threadID string, create bool) *memThread {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeout > 0 {
		cutoff := s.now().Add(-s.timeout)
		for id, t := range s.threads {
			if t.lastAt.Before(cutoff) {
				delete(s.threads, id)
			}
		}
	}

	t, ok := s.threads[threadID]
	if !ok {
		if !create {
			return nil
		}
		now := s.now()
		t = &memThread{
			thread: Thread{ID: threadID, CreatedAt: now.Unix(), UpdatedAt: now.Unix()},
			lastAt: now,
		}
		s.threads[threadID] = t
	}
	return t
}

func (s *InMemoryStore) GetOrCreate(_ context.Context, threadID string) (Thread, error) {
	t := s.get(threadID, true)
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyThread(t.thread), nil
}

func (s *InMemoryStore) Append(_ context.Context, threadID, role, content string) error {
	if err := ValidateRole(role); err != nil {
		return err
	}
	t := s.get(threadID, true)
	t.mu.Lock()
	defer t.mu.Unlock()
	now := s.now()
	t.thread.Messages = append(t.thread.Messages, ThreadMessage{
		Role:      role,
		Content:   content,
		CreatedAt: now.Unix(),
	})
	t.thread.UpdatedAt = now.Unix()
	t.lastAt = now
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, threadID string, maxTurns int) ([]ThreadMessage, error) {
	t := s.get(threadID, false)
	if t == nil {
		return nil, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return RecentMessages(t.thread.Messages, maxTurns), nil
}

func (s *InMemoryStore) Reset(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

// RecentMessages returns the last 2*maxTurns messages, oldest first, copied
// so callers cannot alias store internals. Shared by the memory backends.
func RecentMessages(messages []ThreadMessage, maxTurns int) []ThreadMessage {
	n := 2 * maxTurns
	if maxTurns <= 0 || len(messages) <= n {
		n = len(messages)
	}
	out := make([]ThreadMessage, n)
	copy(out, messages[len(messages)-n:])
	return out
}

func copyThread(t Thread) Thread {
	out := t
	out.Messages = make([]ThreadMessage, len(t.Messages))
	copy(out.Messages, t.Messages)
	return out
}
