package httpclient

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy is a capped exponential backoff: base * 2^attempt, where
// attempt counts retries already made. Rate-limited responses back off from
// their own, usually longer, base.
type RetryPolicy struct {
	MaxRetries       int
	BaseDelay        time.Duration
	RateLimitedDelay time.Duration
	MaxDelay         time.Duration
	// Jitter spreads each delay over [d/2, d).
	Jitter bool
}

// NewRetryPolicy builds a policy from its knobs. A zero rate-limit base
// falls back to base.
func NewRetryPolicy(maxRetries int, base, rateLimited, maxDelay time.Duration, jitter bool) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if rateLimited <= 0 {
		rateLimited = base
	}
	return RetryPolicy{
		MaxRetries:       maxRetries,
		BaseDelay:        base,
		RateLimitedDelay: rateLimited,
		MaxDelay:         maxDelay,
		Jitter:           jitter,
	}
}

// MaxAttempts is the total number of network attempts allowed.
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Backoff returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Backoff(attempt int, rateLimited bool) time.Duration {
	base := p.BaseDelay
	if rateLimited {
		base = p.RateLimitedDelay
	}
	if base <= 0 {
		return 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if !p.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
