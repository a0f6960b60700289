package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClasses() map[Class]ClassConfig {
	return map[Class]ClassConfig{
		ClassWebSocketMessages: {PointsPerMinute: 3, BlockDuration: 50 * time.Millisecond},
	}
}

func TestInProcess_AllowsUpToCap(t *testing.T) {
	p := NewInProcess(testClasses())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := p.Consume(ctx, ClassWebSocketMessages, "agent-a", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d should be allowed", i+1)
	}

	d, err := p.Consume(ctx, ClassWebSocketMessages, "agent-a", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "4th attempt should be denied")
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestInProcess_BlockOutlastsRefill(t *testing.T) {
	p := NewInProcess(testClasses())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = p.Consume(ctx, ClassWebSocketMessages, "agent-b", 1)
	}
	d, _ := p.Consume(ctx, ClassWebSocketMessages, "agent-b", 1)
	require.False(t, d.Allowed)

	time.Sleep(60 * time.Millisecond)
	d, _ = p.Consume(ctx, ClassWebSocketMessages, "agent-b", 1)
	assert.True(t, d.Allowed, "should be allowed again once the block window passes")
}

func TestInProcess_IdentitiesAreIndependent(t *testing.T) {
	p := NewInProcess(testClasses())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = p.Consume(ctx, ClassWebSocketMessages, "agent-c", 1)
	}
	d, _ := p.Consume(ctx, ClassWebSocketMessages, "agent-c", 1)
	assert.False(t, d.Allowed)

	d, _ = p.Consume(ctx, ClassWebSocketMessages, "agent-d", 1)
	assert.True(t, d.Allowed, "a different identity must have its own bucket")
}

func TestInProcess_HeartbeatCostAllowsManyMore(t *testing.T) {
	p := NewInProcess(map[Class]ClassConfig{
		ClassWebSocketMessages: {PointsPerMinute: 3, BlockDuration: time.Second},
	})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		d, err := p.Consume(ctx, ClassWebSocketMessages, "agent-e", CostHeartbeat)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "heartbeat %d should fit the cheaper cost", i+1)
	}
}

func TestInProcess_GCResetsOnceOverThreshold(t *testing.T) {
	p := NewInProcess(testClasses())
	p.maxKeys = 2
	ctx := context.Background()

	_, _ = p.Consume(ctx, ClassWebSocketMessages, "x", 1)
	_, _ = p.Consume(ctx, ClassWebSocketMessages, "y", 1)
	_, _ = p.Consume(ctx, ClassWebSocketMessages, "z", 1)
	require.Equal(t, 3, p.Len())

	p.GC()
	assert.Equal(t, 0, p.Len())
}
