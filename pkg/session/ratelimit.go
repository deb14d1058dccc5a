package session

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Default publish limit per member.
const (
	DefaultPublishBurst  = 20
	DefaultPublishPeriod = time.Second
)

// RateLimiter is a token bucket holding up to maxOps tokens and refilling
// maxOps per period. The hub gives each member one so a misbehaving device
// cannot flood its account room.
type RateLimiter struct {
	clock   clockwork.Clock
	limiter *rate.Limiter
}

// NewRateLimiter allows maxOps operations per period, refilling continuously.
func NewRateLimiter(maxOps int, period time.Duration, c clockwork.Clock) *RateLimiter {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	limit := rate.Limit(float64(maxOps) / period.Seconds())
	return &RateLimiter{
		clock:   c,
		limiter: rate.NewLimiter(limit, maxOps),
	}
}

// Allow takes one token if available.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN takes n tokens if available.
func (rl *RateLimiter) AllowN(n int) bool {
	return rl.limiter.AllowN(rl.clock.Now(), n)
}

// TokensAvailable returns the current number of available tokens.
func (rl *RateLimiter) TokensAvailable() float64 {
	return rl.limiter.TokensAt(rl.clock.Now())
}
