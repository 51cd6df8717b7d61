package server

import (
	"sync"
	"time"
)

// rateLimiter admits at most burst frames per interval from one peer, with
// the allowance recovering evenly over the interval. It tracks the earliest
// time the next frame would be admitted on an empty allowance instead of
// counting tokens.
type rateLimiter struct {
	mu        sync.Mutex
	spacing   time.Duration // interval / burst
	tolerance time.Duration // how far ahead of now nextFree may run
	nextFree  time.Time
	now       func() time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	return newRateLimiterWithClock(burst, interval, time.Now)
}

func newRateLimiterWithClock(burst int, interval time.Duration, now func() time.Time) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	spacing := interval / time.Duration(burst)
	return &rateLimiter{
		spacing:   spacing,
		tolerance: interval - spacing,
		nextFree:  now(),
		now:       now,
	}
}

// allow reports whether a frame arriving now may be routed.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	next := rl.nextFree
	if next.Before(now) {
		next = now
	}
	if next.Sub(now) > rl.tolerance {
		return false
	}
	rl.nextFree = next.Add(rl.spacing)
	return true
}
