package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	bluebonnet "github.com/lonestar-labs/bluebonnet"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, opts...), mr
}

func TestGetOrCreate_Empty(t *testing.T) {
	s, _ := newTestStore(t)

	thread, err := s.GetOrCreate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", thread.ID)
	assert.Empty(t, thread.Messages)
	assert.Equal(t, 0, thread.TurnCount())
}

func TestAppendAndRecent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "t1", "user", "what is the copay?"))
	require.NoError(t, s.Append(ctx, "t1", "assistant", "The copay depends on family size."))
	require.NoError(t, s.Append(ctx, "t1", "user", "and for two children?"))
	require.NoError(t, s.Append(ctx, "t1", "assistant", "It is listed in the parent handbook."))

	msgs, err := s.Recent(ctx, "t1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "and for two children?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)

	all, err := s.Recent(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	thread, err := s.GetOrCreate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, thread.TurnCount())
}

func TestAppend_InvalidRole(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.Append(context.Background(), "t1", "system", "nope")
	require.Error(t, err)

	var invalid *bluebonnet.ErrInvalidArgument
	assert.ErrorAs(t, err, &invalid)
}

func TestReset(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "t1", "user", "hello"))
	require.NoError(t, s.Reset(ctx, "t1"))

	msgs, err := s.Recent(ctx, "t1", 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTTLRefreshOnAppend(t *testing.T) {
	s, mr := newTestStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "t1", "user", "hello"))
	ttl := mr.TTL("thread:t1")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	// Idle threads expire server-side.
	mr.FastForward(2 * time.Minute)
	msgs, err := s.Recent(ctx, "t1", 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestThreadsAreIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "t1", "user", "thread one"))
	require.NoError(t, s.Append(ctx, "t2", "user", "thread two"))

	msgs, err := s.Recent(ctx, "t1", 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "thread one", msgs[0].Content)
}
