// ABOUTME: Capped exponential backoff for reconnect attempts
// ABOUTME: Resets only after a connection has stayed up past the grace window

package gateway

import "time"

// Backoff computes the delay before the next reconnect attempt:
// min(base * 2^N, max), where N counts consecutive failed attempts.
// The zero value is unusable; set Base and Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempts int
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	shift := b.attempts
	b.attempts++

	if shift > 30 {
		return b.Max
	}
	d := b.Base << uint(shift)
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}

// Reset returns the backoff to its baseline. Call only after a connection has
// stayed Connected past the grace window, never on mere connect success: a
// flapping connection must keep escalating.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the consecutive failure count so far.
func (b *Backoff) Attempts() int {
	return b.attempts
}
