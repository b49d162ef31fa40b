package websocket

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestGlobalConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(2)

	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.False(t, limiter.Acquire())
	assert.Equal(t, int64(2), limiter.Current())

	limiter.Release()
	assert.True(t, limiter.Acquire())
}

func TestGlobalConnectionLimiter_Concurrent(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(50)
	var successes atomic.Int64

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Acquire() {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(50), successes.Load())
	assert.Equal(t, int64(50), limiter.Current())
}

func TestKeyedConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewKeyedConnectionLimiter(2)

	assert.True(t, limiter.Acquire("10.0.0.1"))
	assert.True(t, limiter.Acquire("10.0.0.1"))
	assert.False(t, limiter.Acquire("10.0.0.1"))
	assert.True(t, limiter.Acquire("10.0.0.2"), "keys are independent")

	limiter.Release("10.0.0.1")
	assert.Equal(t, 1, limiter.Count("10.0.0.1"))

	limiter.Release("10.0.0.1")
	limiter.Release("10.0.0.1")
	assert.Equal(t, 0, limiter.Count("10.0.0.1"), "extra releases do not go negative")
}

func TestConnectionRateLimiter_BurstAndRefill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionRateLimiter(clock, 1, 2)

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("b"), "buckets are per key")

	clock.Advance(time.Second)
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
}

func TestConnectionRateLimiter_Cleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionRateLimiter(clock, 10, 10)

	limiter.Allow("old")
	clock.Advance(limiterIdleTTL + limiterCleanupInterval)
	limiter.Allow("new")

	assert.Equal(t, 1, limiter.ActiveLimiters())
}

func TestConnectionLimits_Acquire(t *testing.T) {
	tests := []struct {
		name       string
		global     int64
		perKey     int
		burst      int
		attempts   int
		wantReason LimitReason
	}{
		{"global limit", 1, 10, 10, 2, LimitReasonGlobal},
		{"per origin limit", 10, 1, 10, 2, LimitReasonPerKey},
		{"rate limit", 10, 10, 1, 2, LimitReasonRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := NewConnectionLimits(clockwork.NewFakeClock(), tt.global, tt.perKey, 1, tt.burst)

			for range tt.attempts - 1 {
				ok, _ := limits.Acquire("10.0.0.1")
				assert.True(t, ok)
			}
			ok, reason := limits.Acquire("10.0.0.1")
			assert.False(t, ok)
			assert.Equal(t, tt.wantReason, reason)
			assert.Equal(t, int64(1), limits.Current())
		})
	}
}

func TestConnectionLimits_RollbackOnPerKeyFailure(t *testing.T) {
	limits := NewConnectionLimits(clockwork.NewFakeClock(), 10, 1, 100, 100)

	ok, _ := limits.Acquire("a")
	assert.True(t, ok)
	ok, reason := limits.Acquire("a")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerKey, reason)
	assert.Equal(t, int64(1), limits.Current(), "global slot is returned")

	limits.Release("a")
	assert.Equal(t, int64(0), limits.Current())
}
