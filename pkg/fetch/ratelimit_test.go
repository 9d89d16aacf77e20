package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitFirstRequestIsImmediate(t *testing.T) {
	rl := NewRateLimiter(testLog())

	start := time.Now()
	err := rl.Wait(context.Background(), "example.com", time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitEnforcesMinDelay(t *testing.T) {
	rl := NewRateLimiter(testLog())
	rl.UpdateLastRequest("example.com")

	start := time.Now()
	err := rl.Wait(context.Background(), "example.com", 150*time.Millisecond)
	require.NoError(t, err)
	// Jitter allows up to 10% early.
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestWaitPerHostIsolation(t *testing.T) {
	rl := NewRateLimiter(testLog())
	rl.UpdateLastRequest("slow.example.com")

	start := time.Now()
	err := rl.Wait(context.Background(), "other.example.com", time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitElapsedDelayIsImmediate(t *testing.T) {
	rl := NewRateLimiter(testLog())
	rl.UpdateLastRequest("example.com")
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	err := rl.Wait(context.Background(), "example.com", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitCancellable(t *testing.T) {
	rl := NewRateLimiter(testLog())
	rl.UpdateLastRequest("example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Wait(ctx, "example.com", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitZeroDelay(t *testing.T) {
	rl := NewRateLimiter(testLog())
	rl.UpdateLastRequest("example.com")
	assert.NoError(t, rl.Wait(context.Background(), "example.com", 0))
}
