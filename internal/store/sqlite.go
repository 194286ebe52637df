// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists session state, session events, rate limit buckets, and the job queue

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS gateway_session (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			session_id TEXT,
			sequence INTEGER,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS heartbeats (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			count INTEGER NOT NULL,
			last_sent DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			session_id TEXT,
			sequence INTEGER,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_events_created
			ON session_events(created_at);

		CREATE TABLE IF NOT EXISTS rate_limits (
			key TEXT PRIMARY KEY,
			capacity REAL NOT NULL,
			tokens REAL NOT NULL,
			refill_rate REAL NOT NULL,
			last_refill DATETIME NOT NULL,
			blocked_until DATETIME,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_start_limits (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			total INTEGER NOT NULL,
			remaining INTEGER NOT NULL,
			reset_after_ms INTEGER NOT NULL,
			max_concurrency INTEGER NOT NULL,
			shards INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload BLOB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			worker_id TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_kind_status
			ON jobs(kind, status, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSession returns the persisted session snapshot.
func (s *SQLiteStore) GetSession(ctx context.Context) (*SessionState, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT session_id, sequence FROM gateway_session WHERE id = 1")

	var state SessionState
	err := row.Scan(&state.SessionID, &state.Sequence)
	if errors.Is(err, sql.ErrNoRows) {
		return &SessionState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return &state, nil
}

// SaveSession upserts the session identity and sequence.
func (s *SQLiteStore) SaveSession(ctx context.Context, sessionID string, sequence int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_session (id, session_id, sequence, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			sequence = excluded.sequence,
			updated_at = excluded.updated_at`,
		sessionID, sequence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// ClearSession removes the persisted session identity.
func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_session (id, session_id, sequence, updated_at)
		VALUES (1, NULL, NULL, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = NULL,
			sequence = NULL,
			updated_at = excluded.updated_at`,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// IncrementHeartbeat bumps the heartbeat counter and returns the new count.
func (s *SQLiteStore) IncrementHeartbeat(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO heartbeats (id, count, last_sent)
		VALUES (1, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			count = count + 1,
			last_sent = excluded.last_sent
		RETURNING count`,
		time.Now().UTC())

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("incrementing heartbeat: %w", err)
	}
	return count, nil
}

// AppendSessionEvent writes one immutable lifecycle record.
func (s *SQLiteStore) AppendSessionEvent(ctx context.Context, event *SessionEvent) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (id, kind, session_id, sequence, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.Kind, event.SessionID, event.Sequence, createdAt)
	if err != nil {
		return fmt.Errorf("appending session event: %w", err)
	}
	return nil
}

// SaveSessionStartLimit upserts the identify budget from /gateway/bot.
func (s *SQLiteStore) SaveSessionStartLimit(ctx context.Context, limit *SessionStartLimit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_start_limits (id, total, remaining, reset_after_ms, max_concurrency, shards, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total = excluded.total,
			remaining = excluded.remaining,
			reset_after_ms = excluded.reset_after_ms,
			max_concurrency = excluded.max_concurrency,
			shards = excluded.shards,
			updated_at = excluded.updated_at`,
		limit.Total, limit.Remaining, limit.ResetAfter.Milliseconds(),
		limit.MaxConcurrency, limit.Shards, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving session start limit: %w", err)
	}
	return nil
}

// GetRateLimit loads persisted bucket state for one endpoint key.
func (s *SQLiteStore) GetRateLimit(ctx context.Context, key string) (*RateLimitState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, capacity, tokens, refill_rate, last_refill, blocked_until, updated_at
		FROM rate_limits WHERE key = ?`, key)

	var state RateLimitState
	var blockedUntil sql.NullTime
	err := row.Scan(&state.Key, &state.Capacity, &state.Tokens, &state.RefillRate,
		&state.LastRefill, &blockedUntil, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading rate limit %q: %w", key, err)
	}
	if blockedUntil.Valid {
		state.BlockedUntil = blockedUntil.Time
	}
	return &state, nil
}

// SaveRateLimit upserts bucket state for one endpoint key.
func (s *SQLiteStore) SaveRateLimit(ctx context.Context, state *RateLimitState) error {
	var blockedUntil any
	if !state.BlockedUntil.IsZero() {
		blockedUntil = state.BlockedUntil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (key, capacity, tokens, refill_rate, last_refill, blocked_until, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			capacity = excluded.capacity,
			tokens = excluded.tokens,
			refill_rate = excluded.refill_rate,
			last_refill = excluded.last_refill,
			blocked_until = excluded.blocked_until,
			updated_at = excluded.updated_at`,
		state.Key, state.Capacity, state.Tokens, state.RefillRate,
		state.LastRefill, blockedUntil, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving rate limit %q: %w", state.Key, err)
	}
	return nil
}

// EnqueueJob inserts a new pending job.
func (s *SQLiteStore) EnqueueJob(ctx context.Context, job *Job) error {
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, payload, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		job.ID, job.Kind, job.Payload, JobStatusPending, createdAt)
	if err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}

// ClaimNextJob atomically claims the oldest pending job of the given kind.
func (s *SQLiteStore) ClaimNextJob(ctx context.Context, kind, workerID string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, kind, payload, retry_count, created_at
		FROM jobs
		WHERE kind = ? AND status = ? AND retry_count < ?
		ORDER BY created_at
		LIMIT 1`,
		kind, JobStatusPending, MaxJobRetries)

	job := &Job{Status: JobStatusProcessing}
	err = row.Scan(&job.ID, &job.Kind, &job.Payload, &job.RetryCount, &job.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting pending job: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, worker_id = ?, started_at = ?
		WHERE id = ?`,
		JobStatusProcessing, workerID, now, job.ID); err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	job.WorkerID = &workerID
	job.StartedAt = &now
	return job, nil
}

// CompleteJob marks a job as completed.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?`,
		JobStatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return nil
}

// FailJob records the error and returns the job to pending while retries
// remain; once exhausted the job stays failed.
func (s *SQLiteStore) FailJob(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END,
			error = ?,
			retry_count = retry_count + 1,
			worker_id = NULL,
			completed_at = ?
		WHERE id = ?`,
		MaxJobRetries, JobStatusFailed, JobStatusPending,
		errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	return nil
}

// ResetStuckJobs returns long-running processing jobs to pending.
func (s *SQLiteStore) ResetStuckJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-olderThan)

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?,
			worker_id = NULL,
			retry_count = retry_count + 1
		WHERE status = ? AND started_at < ?`,
		JobStatusPending, JobStatusProcessing, threshold)
	if err != nil {
		return 0, fmt.Errorf("resetting stuck jobs: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting reset jobs: %w", err)
	}
	if count > 0 {
		s.logger.Warn("reset stuck jobs", "count", count)
	}
	return count, nil
}

// CountJobs counts jobs of one kind in the given status.
func (s *SQLiteStore) CountJobs(ctx context.Context, kind, status string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE kind = ? AND status = ?", kind, status)

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return count, nil
}
