package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	for want := 2; want >= 0; want-- {
		d := rl.Allow("10.0.0.1")
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
	}

	d := rl.Allow("10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.ResetMs, int64(0))
}

func TestRateLimiter_BucketsArePerIP(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1").Allowed)
	assert.False(t, rl.Allow("10.0.0.1").Allowed)
	assert.True(t, rl.Allow("10.0.0.2").Allowed)
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := NewRateLimiter(1, 30*time.Millisecond)
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.3").Allowed)
	assert.False(t, rl.Allow("10.0.0.3").Allowed)

	time.Sleep(40 * time.Millisecond)
	assert.True(t, rl.Allow("10.0.0.3").Allowed)
}
