package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimiter_DisabledWhenNonPositive(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, float64(rate.Inf), rl.Limit())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimiter_UpdateLimits(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.UpdateLimits(50, 10)
	assert.Equal(t, float64(50), rl.Limit())
}
