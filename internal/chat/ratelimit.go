package chat

import (
	"sync"
	"time"
)

// rateLimiter throttles room messages per session. Commands are not limited.
//
// It holds up to burst integer tokens and regrows one token every
// refill/burst, so a session can send a burst of messages and then settles
// to the configured sustained rate. Each allowed message costs one token.
type rateLimiter struct {
	mu         sync.Mutex
	burst      int
	tokenEvery time.Duration
	tokens     int
	last       time.Time
}

func newRateLimiter(burst int, refill time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if refill <= 0 {
		refill = time.Second
	}
	tokenEvery := refill / time.Duration(burst)
	if tokenEvery <= 0 {
		tokenEvery = time.Nanosecond
	}

	return &rateLimiter{
		burst:      burst,
		tokenEvery: tokenEvery,
		tokens:     burst,
		last:       time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if regrown := int(now.Sub(rl.last) / rl.tokenEvery); regrown > 0 {
		rl.tokens += regrown
		if rl.tokens > rl.burst {
			rl.tokens = rl.burst
		}
		// Advance by whole tokens only, keeping partial credit for the next
		// call.
		rl.last = rl.last.Add(time.Duration(regrown) * rl.tokenEvery)
	}

	if rl.tokens == 0 {
		return false
	}
	rl.tokens--
	return true
}
