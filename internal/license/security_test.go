package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttemptLimiterBurstThenBlock(t *testing.T) {
	limiter := NewAttemptLimiter(0.0, 3)
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "attempt %d should be within the burst", i+1)
	}
	assert.False(t, limiter.Allow("10.0.0.1"), "attempts past the burst must be blocked")
}

func TestAttemptLimiterIsolatesSources(t *testing.T) {
	limiter := NewAttemptLimiter(0.0, 1)
	defer limiter.Stop()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"), "a throttled source must not affect others")
}

func TestAttemptLimiterStopIdempotent(t *testing.T) {
	limiter := NewAttemptLimiter(1, 1)
	limiter.Stop()
	limiter.Stop()
}
