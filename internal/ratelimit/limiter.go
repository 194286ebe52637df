// ABOUTME: Token bucket rate limiter gating every outbound API call
// ABOUTME: Per-endpoint buckets plus a global default, with best-effort persistence

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harborbot/harbor/internal/store"
)

// GlobalKey is the bucket used when no endpoint-specific key applies.
const GlobalKey = "global"

// DefaultRequestsPerSecond is the conservative default bucket size, kept
// below the platform's ~50/sec global limit.
const DefaultRequestsPerSecond = 40.0

type bucket struct {
	capacity     float64
	tokens       float64
	refillRate   float64 // tokens per second
	lastRefill   time.Time
	blockedUntil time.Time // set when the server told us to back off
}

// Limiter hands out tokens from per-endpoint buckets. Buckets are created on
// first use with the default capacity, seeded from the store when prior state
// exists. No lock is held while waiting for a token.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	capacity   float64
	refillRate float64

	store  store.RateLimitStore // may be nil
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Limiter with the given default bucket size. The store is
// optional; when present, bucket state is loaded on first use and mirrored
// back on every mutation, best-effort.
func New(requestsPerSecond float64, st store.RateLimitStore, logger *slog.Logger) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRequestsPerSecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		buckets:    make(map[string]*bucket),
		capacity:   requestsPerSecond,
		refillRate: requestsPerSecond,
		store:      st,
		logger:     logger.With("component", "ratelimit"),
		now:        time.Now,
	}
}

// Acquire takes one token from the bucket for key, waiting until one refills.
// The wait is bounded by ctx: pass a context with a deadline to cap it.
// A token is never handed out while the bucket is empty.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	l.seed(ctx, key)

	for {
		wait, ok := l.tryTake(key)
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for rate limit token on %q: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// tryTake consumes a token if one is available, otherwise returns how long to
// wait before trying again.
func (l *Limiter) tryTake(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(key)
	now := l.now()

	if b.blockedUntil.After(now) {
		return b.blockedUntil.Sub(now), false
	}

	// Refill from elapsed time since the last refill (or since the block
	// expired, so a drained bucket does not refill while blocked).
	from := b.lastRefill
	if b.blockedUntil.After(from) {
		from = b.blockedUntil
	}
	if now.After(from) {
		b.tokens = min(b.capacity, b.tokens+now.Sub(from).Seconds()*b.refillRate)
	}
	b.lastRefill = now
	b.blockedUntil = time.Time{}

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

// Drain empties the bucket in response to a "too many requests" rejection and
// blocks refills until the server-provided delay has elapsed.
func (l *Limiter) Drain(key string, retryAfter time.Duration) {
	l.mu.Lock()
	b := l.bucketLocked(key)
	b.tokens = 0
	b.blockedUntil = l.now().Add(retryAfter)
	snapshot := l.snapshotLocked(key, b)
	l.mu.Unlock()

	l.logger.Warn("bucket drained by server", "key", key, "retry_after", retryAfter)
	l.persist(snapshot)
}

// Observe folds response quota metadata into the bucket: the local token
// count never exceeds what the server says remains in the window.
func (l *Limiter) Observe(key string, remaining int, resetAfter time.Duration) {
	l.mu.Lock()
	b := l.bucketLocked(key)
	if float64(remaining) < b.tokens {
		b.tokens = float64(remaining)
	}
	if remaining <= 0 && resetAfter > 0 {
		b.blockedUntil = l.now().Add(resetAfter)
	}
	snapshot := l.snapshotLocked(key, b)
	l.mu.Unlock()

	l.persist(snapshot)
}

// Tokens reports the current token count for a key. Intended for tests and
// introspection.
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bucketLocked(key).tokens
}

// bucketLocked returns the bucket for key, creating a full default bucket on
// first use. Callers must hold l.mu.
func (l *Limiter) bucketLocked(key string) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			capacity:   l.capacity,
			tokens:     l.capacity,
			refillRate: l.refillRate,
			lastRefill: l.now(),
		}
		l.buckets[key] = b
	}
	return b
}

// seed loads persisted bucket state the first time a key is seen. The store
// read happens outside the mutex.
func (l *Limiter) seed(ctx context.Context, key string) {
	if l.store == nil {
		return
	}

	l.mu.Lock()
	_, known := l.buckets[key]
	l.mu.Unlock()
	if known {
		return
	}

	state, err := l.store.GetRateLimit(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.logger.Warn("loading persisted bucket failed", "key", key, "error", err)
		}
		// Fall through: bucketLocked creates the default.
		l.mu.Lock()
		l.bucketLocked(key)
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	if _, known := l.buckets[key]; !known {
		l.buckets[key] = &bucket{
			capacity:     state.Capacity,
			tokens:       state.Tokens,
			refillRate:   state.RefillRate,
			lastRefill:   state.LastRefill,
			blockedUntil: state.BlockedUntil,
		}
	}
	l.mu.Unlock()
}

func (l *Limiter) snapshotLocked(key string, b *bucket) *store.RateLimitState {
	return &store.RateLimitState{
		Key:          key,
		Capacity:     b.capacity,
		Tokens:       b.tokens,
		RefillRate:   b.refillRate,
		LastRefill:   b.lastRefill,
		BlockedUntil: b.blockedUntil,
	}
}

// persist mirrors bucket state to the store. Failures are logged, never
// surfaced: rate limiting keeps working from memory.
func (l *Limiter) persist(state *store.RateLimitState) {
	if l.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := l.store.SaveRateLimit(ctx, state); err != nil {
		l.logger.Warn("persisting bucket failed", "key", state.Key, "error", err)
	}
}
