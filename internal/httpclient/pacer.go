package httpclient

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/county-wage-etl/internal/metrics"
)

// Pacer spaces network requests. Every Wait draws a delay uniformly from
// [min, max] and sleeps it while holding a lock, so concurrent callers share
// one delay budget instead of each sleeping in parallel. An optional token
// bucket caps the overall request rate on top of that.
type Pacer struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
	sleep    func(context.Context, time.Duration) error
	draw     func(min, max time.Duration) time.Duration
}

// PacerConfig configures a Pacer.
type PacerConfig struct {
	MinDelay          time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewPacer builds a Pacer. A non-positive rate disables the token bucket.
func NewPacer(cfg PacerConfig) *Pacer {
	p := &Pacer{
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
		sleep:    sleepContext,
		draw:     uniformDuration,
	}
	if p.maxDelay < p.minDelay {
		p.maxDelay = p.minDelay
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return p
}

// Wait blocks for the courtesy delay and, when configured, a rate token.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	start := time.Now()
	if p.maxDelay > 0 {
		p.mu.Lock()
		err := p.sleep(ctx, p.draw(p.minDelay, p.maxDelay))
		p.mu.Unlock()
		if err != nil {
			return err
		}
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveCourtesyDelay(waited)
	}
	return nil
}

func uniformDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
