// ABOUTME: Store interfaces and data types for harbor-bot persistence
// ABOUTME: Defines session state, session events, rate limit buckets, and the job queue

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// SessionState is the durable gateway session snapshot. Both fields are nil
// when no session has ever been established (or it was invalidated).
type SessionState struct {
	SessionID *string
	Sequence  *int64
}

// Session event kinds, written once per lifecycle occurrence.
const (
	SessionEventIdentify       = "identify"
	SessionEventResume         = "resume"
	SessionEventReady          = "ready"
	SessionEventResumed        = "resumed"
	SessionEventInvalidSession = "invalid_session"
)

// SessionEvent is an immutable record of a session lifecycle occurrence.
type SessionEvent struct {
	ID        string
	Kind      string
	SessionID *string
	Sequence  *int64
	CreatedAt time.Time
}

// RateLimitState mirrors one token bucket so limits survive restarts.
type RateLimitState struct {
	Key          string // "METHOD route-template" or "global"
	Capacity     float64
	Tokens       float64
	RefillRate   float64 // tokens per second
	LastRefill   time.Time
	BlockedUntil time.Time // zero unless the bucket was drained by the server
	UpdatedAt    time.Time
}

// SessionStartLimit records the platform's identify budget from /gateway/bot.
type SessionStartLimit struct {
	Total          int
	Remaining      int
	ResetAfter     time.Duration
	MaxConcurrency int
	Shards         int
	UpdatedAt      time.Time
}

// Job statuses for the conversion queue
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// MaxJobRetries bounds how often a failed job is re-claimed.
const MaxJobRetries = 3

// Job is one queued unit of work for an external processor. The payload is
// opaque to the engine; only the processor for the job's kind interprets it.
type Job struct {
	ID          string
	Kind        string // "blp", "rembg"
	Payload     []byte
	Status      string
	WorkerID    *string
	RetryCount  int
	Error       *string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// SessionStore persists gateway session identity and lifecycle observability.
// All calls are best-effort from the engine's point of view: callers log
// failures and continue with in-memory state.
type SessionStore interface {
	// GetSession returns the persisted session snapshot. A fresh database
	// returns a SessionState with nil fields, not ErrNotFound.
	GetSession(ctx context.Context) (*SessionState, error)
	SaveSession(ctx context.Context, sessionID string, sequence int64) error
	ClearSession(ctx context.Context) error

	// IncrementHeartbeat bumps the append-only heartbeat counter and
	// returns the new count.
	IncrementHeartbeat(ctx context.Context) (int64, error)

	AppendSessionEvent(ctx context.Context, event *SessionEvent) error
	SaveSessionStartLimit(ctx context.Context, limit *SessionStartLimit) error
}

// RateLimitStore persists token bucket state per endpoint key.
type RateLimitStore interface {
	// GetRateLimit returns ErrNotFound when no state exists for the key.
	GetRateLimit(ctx context.Context, key string) (*RateLimitState, error)
	SaveRateLimit(ctx context.Context, state *RateLimitState) error
}

// JobStore is the persistent conversion queue.
type JobStore interface {
	EnqueueJob(ctx context.Context, job *Job) error

	// ClaimNextJob atomically marks the oldest pending job of the given
	// kind as processing and returns it. Returns ErrNotFound when the
	// queue is empty. Jobs at MaxJobRetries are never claimed.
	ClaimNextJob(ctx context.Context, kind, workerID string) (*Job, error)

	CompleteJob(ctx context.Context, id string) error

	// FailJob records the error, increments the retry count, and returns
	// the job to pending unless it has exhausted its retries.
	FailJob(ctx context.Context, id, errMsg string) error

	// ResetStuckJobs returns processing jobs older than the threshold to
	// pending (e.g. after an unclean shutdown). Returns the count reset.
	ResetStuckJobs(ctx context.Context, olderThan time.Duration) (int64, error)

	CountJobs(ctx context.Context, kind, status string) (int64, error)
}

// Store combines all persistence surfaces backed by a single database.
type Store interface {
	SessionStore
	RateLimitStore
	JobStore
	Close() error
}
