package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
	}{
		{name: "standard rate", requestsPerSecond: 100, burst: 200},
		{name: "low rate", requestsPerSecond: 1, burst: 2},
		{name: "unlimited (zero rate)", requestsPerSecond: 0, burst: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			require.NotNil(t, limiter)
			require.NotNil(t, limiter.limiter)
		})
	}
}

func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(), "request %d should be allowed (within burst)", i)
	}
	assert.False(t, limiter.Allow(), "request should be rate-limited after burst exhausted")

	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow(), "request should be allowed after token replenishment")
}

func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		require.True(t, limiter.Allow())
	}
}

func TestWait(t *testing.T) {
	limiter := New(10, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitCancelled(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, limiter.Wait(ctx))
}

// ============================================================================
// KeyedLimiter
// ============================================================================

func TestKeyedLimiter(t *testing.T) {
	t.Run("KeysAreIndependent", func(t *testing.T) {
		k := NewKeyed(1, 2)

		assert.True(t, k.Allow(":1.1"))
		assert.True(t, k.Allow(":1.1"))
		assert.False(t, k.Allow(":1.1"))

		assert.True(t, k.Allow(":1.2"))
		assert.Equal(t, 2, k.Len())
	})

	t.Run("ForgetResetsBucket", func(t *testing.T) {
		k := NewKeyed(1, 1)
		assert.True(t, k.Allow(":1.1"))
		assert.False(t, k.Allow(":1.1"))

		k.Forget(":1.1")
		assert.Zero(t, k.Len())
		assert.True(t, k.Allow(":1.1"))
	})

	t.Run("DisabledTracksNothing", func(t *testing.T) {
		k := NewKeyed(0, 0)
		assert.False(t, k.Enabled())
		for i := 0; i < 100; i++ {
			assert.True(t, k.Allow(":1.1"))
		}
		assert.Zero(t, k.Len())
	})
}
