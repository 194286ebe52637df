// ABOUTME: Tests for the reconnect backoff schedule

package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: 30 * time.Second}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i)
	}
	assert.Equal(t, len(want), b.Attempts())
}

func TestBackoffReset(t *testing.T) {
	b := &Backoff{Base: 250 * time.Millisecond, Max: 5 * time.Second}

	b.Next()
	b.Next()
	b.Next()
	assert.Equal(t, 3, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, 250*time.Millisecond, b.Next())
}

func TestBackoffOverflowGuard(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: time.Minute}
	for i := 0; i < 100; i++ {
		d := b.Next()
		assert.LessOrEqual(t, d, time.Minute)
		assert.Positive(t, d)
	}
}
