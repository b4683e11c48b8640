package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.isAllowed("10.0.0.1"))
	}
	assert.False(t, rl.isAllowed("10.0.0.1"))

	// Other clients have their own budget.
	assert.True(t, rl.isAllowed("10.0.0.2"))
}

func TestRateLimiterRecoversAfterWindow(t *testing.T) {
	rl := newRateLimiter(1, 50*time.Millisecond)

	assert.True(t, rl.isAllowed("10.0.0.1"))
	assert.False(t, rl.isAllowed("10.0.0.1"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.isAllowed("10.0.0.1"))
}
