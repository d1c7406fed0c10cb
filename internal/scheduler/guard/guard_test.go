package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingleFlight_AcquireReleaseCycle(t *testing.T) {
	g := NewSingleFlight()

	assert.True(t, g.TryAcquire("sweep"))
	assert.False(t, g.TryAcquire("sweep"))

	// Distinct keys never contend.
	assert.True(t, g.TryAcquire("usage_reset"))

	g.Release("sweep")
	assert.True(t, g.TryAcquire("sweep"))
}

func TestSingleFlight_ReleaseUnheldIsHarmless(t *testing.T) {
	g := NewSingleFlight()

	g.Release("never_acquired")
	assert.True(t, g.TryAcquire("never_acquired"))
}
