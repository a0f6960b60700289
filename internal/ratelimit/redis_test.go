package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSharedTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestShared_AllowsUpToCap(t *testing.T) {
	client, _ := newSharedTestClient(t)
	s := NewShared(client, testClasses(), "relay")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := s.Consume(ctx, ClassWebSocketMessages, "agent-a", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d should be allowed", i+1)
	}

	d, err := s.Consume(ctx, ClassWebSocketMessages, "agent-a", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "4th attempt should be denied")
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestShared_IdentitiesAreIndependent(t *testing.T) {
	client, _ := newSharedTestClient(t)
	s := NewShared(client, testClasses(), "relay")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = s.Consume(ctx, ClassWebSocketMessages, "agent-b", 1)
	}
	d, _ := s.Consume(ctx, ClassWebSocketMessages, "agent-b", 1)
	assert.False(t, d.Allowed)

	d, _ = s.Consume(ctx, ClassWebSocketMessages, "agent-c", 1)
	assert.True(t, d.Allowed, "a different identity must have its own bucket")
}

func TestShared_BlockOutlastsWindow(t *testing.T) {
	client, mr := newSharedTestClient(t)
	s := NewShared(client, testClasses(), "relay")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = s.Consume(ctx, ClassWebSocketMessages, "agent-d", 1)
	}

	mr.FastForward(60 * time.Millisecond)
	d, err := s.Consume(ctx, ClassWebSocketMessages, "agent-d", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "should be allowed again once the block TTL expires")
}

func TestShared_FallsBackWhenRedisUnreachable(t *testing.T) {
	client, mr := newSharedTestClient(t)
	s := NewShared(client, testClasses(), "relay")
	mr.Close()

	d, err := s.Consume(context.Background(), ClassWebSocketMessages, "agent-e", 1)
	require.NoError(t, err, "Consume must fall back instead of returning an error")
	assert.True(t, d.Allowed, "fresh in-process fallback bucket should allow the first attempt")
}
