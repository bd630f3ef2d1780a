package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDoubles(t *testing.T) {
	p := Policy{Base: time.Second, Max: time.Minute}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 32*time.Second, p.Delay(5))
}

func TestDelayCapped(t *testing.T) {
	p := Policy{Base: time.Second, Max: 10 * time.Second}

	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(50))
	// Large attempt counts must not overflow past the cap.
	assert.Equal(t, 10*time.Second, p.Delay(1000))
}

func TestDelayMonotonic(t *testing.T) {
	p := Policy{Base: 500 * time.Millisecond, Max: 2 * time.Minute}

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing at attempt %d", attempt)
		assert.LessOrEqual(t, d, p.Max)
		prev = d
	}
}

func TestNegativeAttemptClamped(t *testing.T) {
	p := Policy{Base: time.Second, Max: time.Minute}
	assert.Equal(t, time.Second, p.Delay(-3))
}
