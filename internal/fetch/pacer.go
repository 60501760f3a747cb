package fetch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/orderscraper/internal/scraper"
)

// Default pacing bounds between live fetches.
const (
	DefaultMinDelay = 2 * time.Second
	DefaultMaxDelay = 5 * time.Second
)

// PacerConfig controls the delay inserted after each live fetch.
type PacerConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// MaxRequestsPerSecond adds a token-bucket floor when positive.
	MaxRequestsPerSecond float64
}

// Pacer spaces live fetches with a random delay and an optional rate limit.
type Pacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
	clock    scraper.Clock
}

// NewPacer builds a Pacer. Swapped bounds are reordered.
func NewPacer(cfg PacerConfig, clock scraper.Clock) *Pacer {
	minDelay, maxDelay := cfg.MinDelay, cfg.MaxDelay
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
		if minDelay < 0 {
			minDelay = 0
		}
	}
	p := &Pacer{minDelay: minDelay, maxDelay: maxDelay, clock: clock}
	if cfg.MaxRequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1)
	}
	return p
}

// Wait blocks on the rate limiter, if any, before a live fetch.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Delay picks the next pacing delay in [min, max].
func (p *Pacer) Delay() time.Duration {
	if p == nil {
		return 0
	}
	return p.minDelay + randomDuration(p.maxDelay-p.minDelay+1)
}

// Pause sleeps for a random pacing delay and returns it.
func (p *Pacer) Pause(ctx context.Context) (time.Duration, error) {
	if p == nil || p.clock == nil {
		return 0, nil
	}
	d := p.Delay()
	if err := p.clock.Sleep(ctx, d); err != nil {
		return d, fmt.Errorf("pacing delay: %w", err)
	}
	return d, nil
}
