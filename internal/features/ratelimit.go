package features

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// rateLimiter is a token bucket holding up to one minute of requests and
// refilled continuously. A nil limiter never blocks.
type rateLimiter struct {
	last     time.Time
	tokens   float64
	capacity float64
	perSec   float64
	mu       sync.Mutex
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return &rateLimiter{
		last:     time.Now(),
		tokens:   float64(requestsPerMinute),
		capacity: float64(requestsPerMinute),
		perSec:   float64(requestsPerMinute) / 60,
	}
}

// wait blocks until a token is available or ctx is done.
func (rl *rateLimiter) wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	for {
		delay := rl.reserve()
		if delay == 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// reserve takes a token and returns 0, or returns how long until one is due.
func (rl *rateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.tokens = min(rl.capacity, rl.tokens+now.Sub(rl.last).Seconds()*rl.perSec)
	rl.last = now

	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.perSec * float64(time.Second))
}
