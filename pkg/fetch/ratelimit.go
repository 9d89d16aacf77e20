package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter enforces the politeness interval between consecutive requests
// to the same host. The crawl worker is serial, but robots fetches and page
// fetches share one limiter, so the map is still guarded.
type RateLimiter struct {
	hostLastRequest   map[string]time.Time
	hostLastRequestMu sync.Mutex
	log               *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostLastRequest: make(map[string]time.Time),
		log:             log,
	}
}

// Wait sleeps until at least minDelay has passed since the last request to
// host, honoring ctx. A small jitter (+/- 10%) desynchronizes request timing.
// Returns ctx.Err() if cancelled mid-sleep.
func (rl *RateLimiter) Wait(ctx context.Context, host string, minDelay time.Duration) error {
	if minDelay <= 0 {
		return nil
	}

	rl.hostLastRequestMu.Lock()
	lastReqTime, exists := rl.hostLastRequest[host]
	rl.hostLastRequestMu.Unlock() // Unlock before sleeping

	if !exists {
		return nil
	}

	elapsed := time.Since(lastReqTime)
	if elapsed >= minDelay {
		return nil
	}
	sleep := minDelay - elapsed

	// Jitter: +/- 10% of the remaining sleep
	if jitterRange := int64(sleep) / 5; jitterRange > 0 {
		sleep += time.Duration(rand.Int63n(jitterRange)) - (sleep / 10)
	}
	if sleep <= 0 {
		return nil
	}

	rl.log.WithFields(logrus.Fields{
		"host": host, "sleep": sleep, "required_delay": minDelay, "elapsed": elapsed,
	}).Debug("Politeness delay")

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateLastRequest records the current time as the last request attempt time
// for the host. Call this after an HTTP request attempt, success or not.
func (rl *RateLimiter) UpdateLastRequest(host string) {
	rl.hostLastRequestMu.Lock()
	rl.hostLastRequest[host] = time.Now()
	rl.hostLastRequestMu.Unlock()
}
