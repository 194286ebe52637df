// ABOUTME: Heartbeat driver: periodic liveness beats and dead-connection detection
// ABOUTME: Runs on its own timer at the server-announced interval

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// heartbeater sends a beat every interval and watches for the ack. A tick
// that finds the previous beat still unacknowledged past interval*tolerance
// declares the connection dead, exactly once.
type heartbeater struct {
	interval  time.Duration
	tolerance float64

	send   func(seq *int64) error // writes a heartbeat frame to the socket
	seq    func() *int64          // current sequence for the beat payload
	onDead func()                 // invoked once when the connection is declared dead
	onBeat func()                 // observability hook, called after each send

	logger *slog.Logger

	mu            sync.Mutex
	awaiting      bool
	awaitingSince time.Time
	dead          bool

	kick chan struct{} // out-of-cycle beat requests from the server
}

func newHeartbeater(interval time.Duration, tolerance float64, logger *slog.Logger) *heartbeater {
	if tolerance <= 0 {
		tolerance = 1.0
	}
	return &heartbeater{
		interval:  interval,
		tolerance: tolerance,
		logger:    logger.With("component", "heartbeat"),
		kick:      make(chan struct{}, 1),
	}
}

// run drives the timer loop until ctx is cancelled.
func (h *heartbeater) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.kick:
			h.beat()
		case <-ticker.C:
			h.tick()
		}
	}
}

// tick checks the previous beat's ack, then sends the next beat.
func (h *heartbeater) tick() {
	h.mu.Lock()
	if h.awaiting {
		deadline := time.Duration(float64(h.interval) * h.tolerance)
		if time.Since(h.awaitingSince) >= deadline {
			h.declareDeadLocked("heartbeat ack never arrived")
			h.mu.Unlock()
			return
		}
	}
	h.mu.Unlock()

	h.beat()
}

// beat sends one heartbeat. The lock is not held across the socket write.
func (h *heartbeater) beat() {
	h.mu.Lock()
	if h.dead {
		h.mu.Unlock()
		return
	}
	if !h.awaiting {
		h.awaiting = true
		h.awaitingSince = time.Now()
	}
	h.mu.Unlock()

	if err := h.send(h.seq()); err != nil {
		h.logger.Warn("heartbeat send failed", "error", err)
		h.mu.Lock()
		h.declareDeadLocked("heartbeat write failed")
		h.mu.Unlock()
		return
	}

	if h.onBeat != nil {
		h.onBeat()
	}
}

// ack clears the awaiting flag on receipt of a heartbeat-ack frame.
func (h *heartbeater) ack() {
	h.mu.Lock()
	h.awaiting = false
	h.mu.Unlock()
}

// requestBeat schedules an immediate out-of-cycle beat, for server-initiated
// heartbeat requests. Coalesces if one is already pending.
func (h *heartbeater) requestBeat() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// declareDeadLocked fires onDead exactly once. Callers must hold h.mu.
func (h *heartbeater) declareDeadLocked(reason string) {
	if h.dead {
		return
	}
	h.dead = true
	h.logger.Warn("connection declared dead", "reason", reason)
	if h.onDead != nil {
		// Release the lock for the callback: it may close channels that
		// other goroutines consume while calling back into the driver.
		h.mu.Unlock()
		h.onDead()
		h.mu.Lock()
	}
}
