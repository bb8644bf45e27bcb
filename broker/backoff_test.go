package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayNonDecreasing(t *testing.T) {
	b := Backoff{
		Initial: 100 * time.Millisecond,
		Max:     5 * time.Second,
		Jitter:  0, // deterministic
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay decreased at attempt %d", attempt)
		assert.LessOrEqual(t, d, b.Max)
		prev = d
	}

	// Eventually pinned at the cap.
	assert.Equal(t, 5*time.Second, b.Delay(20))
}

func TestBackoffDelayExponentialGrowth(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: time.Minute}

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 32*time.Second, b.Delay(6))
	assert.Equal(t, time.Minute, b.Delay(7))
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	b := Backoff{
		Initial: time.Second,
		Max:     time.Minute,
		Jitter:  0.25,
	}

	for i := 0; i < 50; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 2*time.Second+500*time.Millisecond)
	}
}

func TestBackoffDelayDefaults(t *testing.T) {
	var b Backoff // zero value

	// Zero config still produces sane delays.
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(-3))
	assert.Equal(t, time.Second, b.Delay(100)) // Max clamps to Initial
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "unknown", ConnState(42).String())
}
