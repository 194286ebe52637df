// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	session    SessionState
	heartbeats int64
	events     []*SessionEvent
	rateLimits map[string]*RateLimitState
	startLimit *SessionStartLimit
	jobs       map[string]*Job

	// FailPersistence makes every write return an error, for exercising
	// the engine's degraded (memory-only) mode.
	FailPersistence error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		rateLimits: make(map[string]*RateLimitState),
		jobs:       make(map[string]*Job),
	}
}

// GetSession returns a copy of the stored session snapshot.
func (m *MockStore) GetSession(ctx context.Context) (*SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailPersistence != nil {
		return nil, m.FailPersistence
	}

	state := SessionState{}
	if m.session.SessionID != nil {
		id := *m.session.SessionID
		state.SessionID = &id
	}
	if m.session.Sequence != nil {
		seq := *m.session.Sequence
		state.Sequence = &seq
	}
	return &state, nil
}

// SaveSession stores the session identity and sequence.
func (m *MockStore) SaveSession(ctx context.Context, sessionID string, sequence int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return m.FailPersistence
	}

	m.session.SessionID = &sessionID
	m.session.Sequence = &sequence
	return nil
}

// ClearSession removes the stored session identity.
func (m *MockStore) ClearSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return m.FailPersistence
	}

	m.session = SessionState{}
	return nil
}

// IncrementHeartbeat bumps the counter.
func (m *MockStore) IncrementHeartbeat(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return 0, m.FailPersistence
	}

	m.heartbeats++
	return m.heartbeats, nil
}

// HeartbeatCount returns the current counter value.
func (m *MockStore) HeartbeatCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heartbeats
}

// AppendSessionEvent records a lifecycle event.
func (m *MockStore) AppendSessionEvent(ctx context.Context, event *SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return m.FailPersistence
	}

	e := *event
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, &e)
	return nil
}

// SessionEvents returns recorded lifecycle events in insertion order.
func (m *MockStore) SessionEvents() []*SessionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SessionEvent, len(m.events))
	copy(out, m.events)
	return out
}

// SaveSessionStartLimit stores the identify budget.
func (m *MockStore) SaveSessionStartLimit(ctx context.Context, limit *SessionStartLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return m.FailPersistence
	}

	l := *limit
	m.startLimit = &l
	return nil
}

// StartLimit returns the last saved identify budget, or nil.
func (m *MockStore) StartLimit() *SessionStartLimit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.startLimit == nil {
		return nil
	}
	l := *m.startLimit
	return &l
}

// GetRateLimit returns stored bucket state or ErrNotFound.
func (m *MockStore) GetRateLimit(ctx context.Context, key string) (*RateLimitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailPersistence != nil {
		return nil, m.FailPersistence
	}

	state, ok := m.rateLimits[key]
	if !ok {
		return nil, ErrNotFound
	}
	s := *state
	return &s, nil
}

// SaveRateLimit stores bucket state.
func (m *MockStore) SaveRateLimit(ctx context.Context, state *RateLimitState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return m.FailPersistence
	}

	s := *state
	m.rateLimits[s.Key] = &s
	return nil
}

// EnqueueJob stores a new pending job.
func (m *MockStore) EnqueueJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return m.FailPersistence
	}

	j := *job
	j.Status = JobStatusPending
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	m.jobs[j.ID] = &j
	return nil
}

// ClaimNextJob claims the oldest pending job of the given kind.
func (m *MockStore) ClaimNextJob(ctx context.Context, kind, workerID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return nil, m.FailPersistence
	}

	var pending []*Job
	for _, j := range m.jobs {
		if j.Kind == kind && j.Status == JobStatusPending && j.RetryCount < MaxJobRetries {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return nil, ErrNotFound
	}

	sort.Slice(pending, func(i, k int) bool {
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})

	job := pending[0]
	now := time.Now().UTC()
	job.Status = JobStatusProcessing
	job.WorkerID = &workerID
	job.StartedAt = &now

	j := *job
	return &j, nil
}

// CompleteJob marks a job completed.
func (m *MockStore) CompleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return m.FailPersistence
	}

	if job, ok := m.jobs[id]; ok {
		now := time.Now().UTC()
		job.Status = JobStatusCompleted
		job.CompletedAt = &now
	}
	return nil
}

// FailJob records the error and requeues while retries remain.
func (m *MockStore) FailJob(ctx context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return m.FailPersistence
	}

	if job, ok := m.jobs[id]; ok {
		now := time.Now().UTC()
		job.RetryCount++
		job.Error = &errMsg
		job.WorkerID = nil
		job.CompletedAt = &now
		if job.RetryCount >= MaxJobRetries {
			job.Status = JobStatusFailed
		} else {
			job.Status = JobStatusPending
		}
	}
	return nil
}

// ResetStuckJobs returns old processing jobs to pending.
func (m *MockStore) ResetStuckJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPersistence != nil {
		return 0, m.FailPersistence
	}

	threshold := time.Now().UTC().Add(-olderThan)
	var count int64
	for _, job := range m.jobs {
		if job.Status == JobStatusProcessing && job.StartedAt != nil && job.StartedAt.Before(threshold) {
			job.Status = JobStatusPending
			job.WorkerID = nil
			job.RetryCount++
			count++
		}
	}
	return count, nil
}

// CountJobs counts jobs of one kind in the given status.
func (m *MockStore) CountJobs(ctx context.Context, kind, status string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailPersistence != nil {
		return 0, m.FailPersistence
	}

	var count int64
	for _, job := range m.jobs {
		if job.Kind == kind && job.Status == status {
			count++
		}
	}
	return count, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
