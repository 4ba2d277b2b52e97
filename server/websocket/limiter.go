package websocket

import (
	"time"
)

// limiter is a token bucket over inbound frames. Frames over the limit
// are dropped without a reply. A nil limiter allows everything.
type limiter struct {
	tokens int
	burst  int
	refill time.Duration
	last   time.Time
}

func newLimiter(burst int, refill time.Duration) *limiter {
	if burst <= 0 || refill <= 0 {
		return nil
	}
	return &limiter{
		tokens: burst,
		burst:  burst,
		refill: refill,
		last:   time.Now(),
	}
}

// allow consumes a token, refilling one per interval elapsed. Only ever
// called from the connection's read loop, so no locking.
func (l *limiter) allow() bool {
	if l == nil {
		return true
	}
	now := time.Now()
	if elapsed := now.Sub(l.last); elapsed >= l.refill {
		refilled := int(elapsed / l.refill)
		l.tokens += refilled
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
		l.last = l.last.Add(time.Duration(refilled) * l.refill)
	}
	if l.tokens <= 0 {
		return false
	}
	l.tokens--
	return true
}
