package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleTTL         = 10 * time.Minute
)

// GlobalConnectionLimiter caps concurrent connections for the whole process.
type GlobalConnectionLimiter struct {
	current atomic.Int64
	max     int64
}

func NewGlobalConnectionLimiter(max int64) *GlobalConnectionLimiter {
	return &GlobalConnectionLimiter{max: max}
}

// Acquire takes a slot, returning false at capacity.
func (l *GlobalConnectionLimiter) Acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *GlobalConnectionLimiter) Release() {
	l.current.Add(-1)
}

func (l *GlobalConnectionLimiter) Current() int64 {
	return l.current.Load()
}

// KeyedConnectionLimiter caps concurrent connections per origin label.
type KeyedConnectionLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	maxPer int
}

func NewKeyedConnectionLimiter(maxPer int) *KeyedConnectionLimiter {
	return &KeyedConnectionLimiter{
		counts: make(map[string]int),
		maxPer: maxPer,
	}
}

func (l *KeyedConnectionLimiter) Acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[key] >= l.maxPer {
		return false
	}
	l.counts[key]++
	return true
}

func (l *KeyedConnectionLimiter) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.counts[key]; count > 1 {
		l.counts[key] = count - 1
	} else {
		delete(l.counts, key)
	}
}

func (l *KeyedConnectionLimiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[key]
}

// ConnectionRateLimiter is a token bucket per origin label for new connections.
type ConnectionRateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionRateLimiter(clock clockwork.Clock, perSecond float64, burst int) *ConnectionRateLimiter {
	return &ConnectionRateLimiter{
		clock:     clock,
		limiters:  make(map[string]*rateLimiterEntry),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		cleanupAt: clock.Now().Add(limiterCleanupInterval),
	}
}

func (l *ConnectionRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(limiterCleanupInterval)
	}

	entry, exists := l.limiters[key]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}

	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// cleanup drops limiters idle for longer than limiterIdleTTL. Must be called with mu held.
func (l *ConnectionRateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdleTTL)
	for key, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

func (l *ConnectionRateLimiter) ActiveLimiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// LimitReason describes why an upgrade was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerKey LimitReason = "per_origin_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits combines the rate, global and per-origin limiters.
type ConnectionLimits struct {
	global *GlobalConnectionLimiter
	perKey *KeyedConnectionLimiter
	rate   *ConnectionRateLimiter
}

func NewConnectionLimits(clock clockwork.Clock, globalMax int64, perKeyMax int, perSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		global: NewGlobalConnectionLimiter(globalMax),
		perKey: NewKeyedConnectionLimiter(perKeyMax),
		rate:   NewConnectionRateLimiter(clock, perSecond, burst),
	}
}

// Acquire checks all limits for key. On success the caller must Release(key).
func (l *ConnectionLimits) Acquire(key string) (bool, LimitReason) {
	if !l.rate.Allow(key) {
		return false, LimitReasonRate
	}
	if !l.global.Acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perKey.Acquire(key) {
		l.global.Release()
		return false, LimitReasonPerKey
	}
	return true, ""
}

func (l *ConnectionLimits) Release(key string) {
	l.perKey.Release(key)
	l.global.Release()
}

// Current returns the number of connections holding a slot.
func (l *ConnectionLimits) Current() int64 {
	return l.global.Current()
}
