// ABOUTME: Tests for the heartbeat driver and dead-connection detection

package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeaterAckedBeatsStayAlive(t *testing.T) {
	var sends, deads atomic.Int32

	h := newHeartbeater(10*time.Millisecond, 1.0, testLogger())
	h.seq = func() *int64 { return nil }
	h.onDead = func() { deads.Add(1) }
	h.send = func(*int64) error {
		sends.Add(1)
		h.ack() // the server acks promptly
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.run(ctx)

	require.Eventually(t, func() bool { return sends.Load() >= 3 },
		time.Second, 2*time.Millisecond)
	assert.Equal(t, int32(0), deads.Load())
}

func TestHeartbeaterMissedAckDeclaresDeadOnce(t *testing.T) {
	var deads atomic.Int32

	h := newHeartbeater(10*time.Millisecond, 1.0, testLogger())
	h.seq = func() *int64 { return nil }
	h.send = func(*int64) error { return nil } // acks never arrive
	h.onDead = func() { deads.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.run(ctx)

	require.Eventually(t, func() bool { return deads.Load() == 1 },
		time.Second, 2*time.Millisecond)

	// Keep ticking well past the deadline: still exactly one signal.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), deads.Load())
}

func TestHeartbeaterSendFailureDeclaresDead(t *testing.T) {
	var deads atomic.Int32

	h := newHeartbeater(5*time.Millisecond, 1.0, testLogger())
	h.seq = func() *int64 { return nil }
	h.send = func(*int64) error { return errors.New("broken pipe") }
	h.onDead = func() { deads.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.run(ctx)

	require.Eventually(t, func() bool { return deads.Load() == 1 },
		time.Second, 2*time.Millisecond)
}

func TestHeartbeaterOutOfCycleBeat(t *testing.T) {
	var sends atomic.Int32

	// Interval is effectively never; only the kick can cause a send.
	h := newHeartbeater(time.Hour, 1.0, testLogger())
	h.seq = func() *int64 { return nil }
	h.send = func(*int64) error {
		sends.Add(1)
		h.ack()
		return nil
	}
	h.onDead = func() {}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.run(ctx)

	h.requestBeat()
	require.Eventually(t, func() bool { return sends.Load() == 1 },
		time.Second, 2*time.Millisecond)
}

func TestHeartbeaterBeatCarriesSequence(t *testing.T) {
	got := make(chan *int64, 1)

	h := newHeartbeater(time.Hour, 1.0, testLogger())
	seq := int64(99)
	h.seq = func() *int64 { return &seq }
	h.send = func(s *int64) error {
		got <- s
		return nil
	}
	h.onDead = func() {}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.run(ctx)

	h.requestBeat()
	select {
	case s := <-got:
		require.NotNil(t, s)
		assert.Equal(t, int64(99), *s)
	case <-time.After(time.Second):
		t.Fatal("beat never sent")
	}
}

func TestHeartbeaterObservabilityHook(t *testing.T) {
	var beats atomic.Int32

	h := newHeartbeater(time.Hour, 1.0, testLogger())
	h.seq = func() *int64 { return nil }
	h.send = func(*int64) error { return nil }
	h.onDead = func() {}
	h.onBeat = func() { beats.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.run(ctx)

	h.requestBeat()
	require.Eventually(t, func() bool { return beats.Load() == 1 },
		time.Second, 2*time.Millisecond)
}
