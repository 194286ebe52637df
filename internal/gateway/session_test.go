// ABOUTME: Tests for the session state machine and its persistence behavior

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborbot/harbor/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64Ptr(v int64) *int64 { return &v }

func TestSessionFreshProcessIdentifies(t *testing.T) {
	sess := NewSession(store.NewMockStore(), testLogger())
	sess.Load(context.Background())

	assert.False(t, sess.CanResume())
	assert.Equal(t, PhaseDisconnected, sess.Phase())
	assert.Nil(t, sess.Sequence())
}

func TestSessionHandleReadyPersists(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	sess := NewSession(st, testLogger())

	sess.HandleReady(ctx, "sess-abc", int64Ptr(1))

	assert.Equal(t, PhaseConnected, sess.Phase())
	id, seq, ok := sess.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "sess-abc", id)
	assert.Equal(t, int64(1), seq)

	state, err := st.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.SessionID)
	assert.Equal(t, "sess-abc", *state.SessionID)
	require.NotNil(t, state.Sequence)
	assert.Equal(t, int64(1), *state.Sequence)
}

func TestSessionSequencePersistsHighestSeen(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	sess := NewSession(st, testLogger())

	sess.HandleReady(ctx, "sess-abc", int64Ptr(1))
	require.NoError(t, sess.UpdateSequence(ctx, 5))
	require.NoError(t, sess.UpdateSequence(ctx, 42))

	state, err := st.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.Sequence)
	assert.Equal(t, int64(42), *state.Sequence)
}

func TestSessionSequenceRegressionIsProtocolError(t *testing.T) {
	ctx := context.Background()
	sess := NewSession(store.NewMockStore(), testLogger())

	sess.HandleReady(ctx, "sess-abc", int64Ptr(10))

	// Repeats are tolerated, going backwards is not.
	require.NoError(t, sess.UpdateSequence(ctx, 10))
	err := sess.UpdateSequence(ctx, 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)

	var engErr *EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "sequence update", engErr.Op)
}

func TestSessionLoadTreatsPersistedAsResumable(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	require.NoError(t, st.SaveSession(ctx, "sess-prior", 7))

	sess := NewSession(st, testLogger())
	sess.Load(ctx)

	assert.True(t, sess.CanResume())
	id, seq, ok := sess.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "sess-prior", id)
	assert.Equal(t, int64(7), seq)
}

func TestSessionMarkResumableGatesResume(t *testing.T) {
	ctx := context.Background()
	sess := NewSession(store.NewMockStore(), testLogger())

	sess.HandleReady(ctx, "sess-abc", int64Ptr(3))
	assert.True(t, sess.CanResume())

	sess.MarkResumable(false)
	assert.False(t, sess.CanResume())

	sess.MarkResumable(true)
	assert.True(t, sess.CanResume())
}

func TestSessionClearWipesStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	sess := NewSession(st, testLogger())

	sess.HandleReady(ctx, "sess-abc", int64Ptr(3))
	sess.Clear(ctx)

	assert.False(t, sess.CanResume())
	assert.Nil(t, sess.Sequence())

	state, err := st.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, state.SessionID)
	assert.Nil(t, state.Sequence)
}

func TestSessionDegradedModeKeepsWorking(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	st.FailPersistence = errors.New("disk full")
	sess := NewSession(st, testLogger())

	// Every store write fails; in-memory tracking must be unaffected.
	sess.HandleReady(ctx, "sess-abc", int64Ptr(1))
	require.NoError(t, sess.UpdateSequence(ctx, 2))

	assert.Equal(t, PhaseConnected, sess.Phase())
	id, seq, ok := sess.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "sess-abc", id)
	assert.Equal(t, int64(2), seq)
	assert.True(t, sess.CanResume())
}

func TestSessionLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	sess := NewSession(st, testLogger())

	sess.AppendEvent(ctx, store.SessionEventIdentify)
	sess.HandleReady(ctx, "sess-abc", int64Ptr(1))
	sess.HandleResumed(ctx)

	events := st.SessionEvents()
	require.Len(t, events, 3)
	assert.Equal(t, store.SessionEventIdentify, events[0].Kind)
	assert.Equal(t, store.SessionEventReady, events[1].Kind)
	assert.Equal(t, store.SessionEventResumed, events[2].Kind)

	// Events recorded after READY carry the session identity.
	require.NotNil(t, events[1].SessionID)
	assert.Equal(t, "sess-abc", *events[1].SessionID)
}

func TestSessionNilStoreIsMemoryOnly(t *testing.T) {
	ctx := context.Background()
	sess := NewSession(nil, testLogger())

	sess.Load(ctx)
	sess.HandleReady(ctx, "sess-abc", int64Ptr(1))
	require.NoError(t, sess.UpdateSequence(ctx, 2))
	sess.Clear(ctx)

	assert.False(t, sess.CanResume())
}
