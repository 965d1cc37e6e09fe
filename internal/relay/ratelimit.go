package relay

import (
	"sync"
	"time"
)

// limiter throttles inbound events per connection: a bucket of whole
// tokens that refills one token every step, where capacity tokens accrue
// over the configured interval.
type limiter struct {
	mu       sync.Mutex
	tokens   int
	capacity int
	step     time.Duration
	last     time.Time
}

func newLimiter(capacity int, interval time.Duration) *limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	step := interval / time.Duration(capacity)
	if step <= 0 {
		step = time.Nanosecond
	}
	return &limiter{
		tokens:   capacity,
		capacity: capacity,
		step:     step,
		last:     time.Now(),
	}
}

func (l *limiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if n := int(now.Sub(l.last) / l.step); n > 0 {
		l.tokens += n
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
		// Advance by whole steps only, keeping the fractional remainder.
		l.last = l.last.Add(time.Duration(n) * l.step)
	}

	if l.tokens == 0 {
		return false
	}
	l.tokens--
	return true
}
