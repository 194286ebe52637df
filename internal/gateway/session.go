// ABOUTME: Session state machine: connection phase plus persisted session identity
// ABOUTME: Single logical writer for session_id/sequence, with best-effort persistence

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborbot/harbor/internal/store"
)

// Phase is the connection lifecycle state. Exactly one Session (and so one
// phase) is live per bot process.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseAwaitingHello
	PhaseIdentifying
	PhaseResuming
	PhaseConnected
	PhaseClosing
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseConnecting:
		return "Connecting"
	case PhaseAwaitingHello:
		return "AwaitingHello"
	case PhaseIdentifying:
		return "Identifying"
	case PhaseResuming:
		return "Resuming"
	case PhaseConnected:
		return "Connected"
	case PhaseClosing:
		return "Closing"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Session owns the connection phase and the durable session identity. All
// mutation goes through its methods; persistence is best-effort and a failed
// store call flips the session into degraded (memory-only) mode until a
// later call succeeds.
type Session struct {
	mu          sync.Mutex
	phase       Phase
	sessionID   string
	hasSession  bool
	sequence    int64
	hasSequence bool
	resumable   bool
	degraded    bool

	store  store.SessionStore
	logger *slog.Logger
}

// NewSession creates a Session in the Disconnected phase. The store may be
// nil for tests that only exercise in-memory behavior.
func NewSession(st store.SessionStore, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		phase:  PhaseDisconnected,
		store:  st,
		logger: logger.With("component", "session"),
	}
}

// Load pulls the persisted session snapshot, if any. A persisted session is
// considered resumable on startup: the process may have crashed mid-session.
func (s *Session) Load(ctx context.Context) {
	if s.store == nil {
		return
	}

	state, err := s.store.GetSession(ctx)
	if err != nil {
		s.logger.Warn("loading persisted session failed, starting fresh", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state.SessionID != nil {
		s.sessionID = *state.SessionID
		s.hasSession = true
		s.resumable = true
	}
	if state.Sequence != nil {
		s.sequence = *state.Sequence
		s.hasSequence = true
	}
}

// Phase returns the current connection phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPhase transitions to the given phase.
func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	old := s.phase
	s.phase = p
	s.mu.Unlock()

	if old != p {
		s.logger.Debug("phase transition", "from", old.String(), "to", p.String())
	}
}

// Sequence returns the last-seen sequence, or nil before any event frame.
func (s *Session) Sequence() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSequence {
		return nil
	}
	seq := s.sequence
	return &seq
}

// Snapshot returns the session identity for a resume attempt. ok is false
// when no complete identity exists.
func (s *Session) Snapshot() (sessionID string, sequence int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSession || !s.hasSequence {
		return "", 0, false
	}
	return s.sessionID, s.sequence, true
}

// CanResume reports whether the next connect attempt should resume: a full
// identity exists and the prior disconnect was flagged resumable.
func (s *Session) CanResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasSession && s.hasSequence && s.resumable
}

// MarkResumable flags whether the in-progress disconnect permits resuming.
func (s *Session) MarkResumable(ok bool) {
	s.mu.Lock()
	s.resumable = ok
	s.mu.Unlock()
}

// UpdateSequence applies a received sequence number. A value lower than the
// last-seen one is a protocol violation and returns ErrProtocol; the update
// is persisted before the caller processes the frame further.
func (s *Session) UpdateSequence(ctx context.Context, seq int64) error {
	s.mu.Lock()
	if s.hasSequence && seq < s.sequence {
		phase := s.phase
		last := s.sequence
		s.mu.Unlock()
		return engineErr(ErrProtocol, phase, "sequence update",
			fmt.Errorf("sequence went backwards: got %d after %d", seq, last))
	}
	s.sequence = seq
	s.hasSequence = true
	snap := s.persistSnapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, snap)
	return nil
}

// HandleReady records the newly assigned session from a READY confirmation
// and moves to Connected.
func (s *Session) HandleReady(ctx context.Context, sessionID string, seq *int64) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.hasSession = true
	s.resumable = true
	if seq != nil {
		s.sequence = *seq
		s.hasSequence = true
	}
	s.phase = PhaseConnected
	snap := s.persistSnapshotLocked()
	s.mu.Unlock()

	s.logger.Info("session established", "session_id", sessionID)
	s.persist(ctx, snap)
	s.appendEvent(ctx, store.SessionEventReady)
}

// HandleResumed marks a successful resume; the sequence continues from the
// persisted value.
func (s *Session) HandleResumed(ctx context.Context) {
	s.mu.Lock()
	s.phase = PhaseConnected
	s.mu.Unlock()

	s.logger.Info("session resumed")
	s.appendEvent(ctx, store.SessionEventResumed)
}

// Clear discards the session identity, in memory and in the store. The next
// connect attempt will identify from scratch.
func (s *Session) Clear(ctx context.Context) {
	s.mu.Lock()
	s.sessionID = ""
	s.hasSession = false
	s.sequence = 0
	s.hasSequence = false
	s.resumable = false
	s.mu.Unlock()

	s.logger.Info("session cleared")
	if s.store == nil {
		return
	}
	if err := s.store.ClearSession(ctx); err != nil {
		s.setDegraded(true, err)
	} else {
		s.setDegraded(false, nil)
	}
}

// AppendEvent records a lifecycle occurrence with the current identity.
// Exported for the supervisor's identify/resume bookkeeping.
func (s *Session) AppendEvent(ctx context.Context, kind string) {
	s.appendEvent(ctx, kind)
}

type persistSnapshot struct {
	sessionID string
	sequence  int64
	ok        bool
}

// persistSnapshotLocked captures what to write. Callers must hold s.mu.
// Nothing is persisted before a session id exists: sequence numbers are
// meaningless without one.
func (s *Session) persistSnapshotLocked() persistSnapshot {
	return persistSnapshot{
		sessionID: s.sessionID,
		sequence:  s.sequence,
		ok:        s.hasSession,
	}
}

// persist writes the snapshot outside the lock. Failures degrade to
// memory-only tracking and are logged on state change, not per call.
func (s *Session) persist(ctx context.Context, snap persistSnapshot) {
	if s.store == nil || !snap.ok {
		return
	}

	if err := s.store.SaveSession(ctx, snap.sessionID, snap.sequence); err != nil {
		s.setDegraded(true, err)
		return
	}
	s.setDegraded(false, nil)
}

func (s *Session) setDegraded(degraded bool, cause error) {
	s.mu.Lock()
	changed := s.degraded != degraded
	s.degraded = degraded
	s.mu.Unlock()

	if !changed {
		return
	}
	if degraded {
		s.logger.Warn("persistence failing, session tracking is memory-only", "error", cause)
	} else {
		s.logger.Info("persistence recovered")
	}
}

func (s *Session) appendEvent(ctx context.Context, kind string) {
	if s.store == nil {
		return
	}

	s.mu.Lock()
	event := &store.SessionEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if s.hasSession {
		id := s.sessionID
		event.SessionID = &id
	}
	if s.hasSequence {
		seq := s.sequence
		event.Sequence = &seq
	}
	s.mu.Unlock()

	if err := s.store.AppendSessionEvent(ctx, event); err != nil {
		s.logger.Warn("appending session event failed", "kind", kind, "error", err)
	}
}
