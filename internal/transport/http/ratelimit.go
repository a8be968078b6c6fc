package http

import "time"

// rateLimiter counts inbound frames per fixed window.
// It is used by a single read loop and is not safe for concurrent use.
type rateLimiter struct {
	limit   int
	window  time.Duration
	counter int
	start   time.Time
	now     func() time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	if limit <= 0 {
		return &rateLimiter{limit: 0}
	}
	return &rateLimiter{
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.now()
	if now.Sub(r.start) >= r.window {
		r.start = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
