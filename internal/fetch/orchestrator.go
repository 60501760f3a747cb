// Package fetch wraps a session driver with caching, pacing and bounded
// re-authentication.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/clock/system"
	"github.com/JakeFAU/orderscraper/internal/hash/sha256"
	"github.com/JakeFAU/orderscraper/internal/metrics"
	"github.com/JakeFAU/orderscraper/internal/scraper"
)

// DefaultCacheTTL is how long fetched pages stay cached.
const DefaultCacheTTL = 6 * time.Hour

// Config describes one authenticated session.
type Config struct {
	Credentials scraper.Credentials
	CacheTTL    time.Duration
}

// Result is the outcome of one Fetch.
type Result struct {
	Content   []byte
	FromCache bool
	FinalURL  string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the clock used for pacing and backoff.
func WithClock(clock scraper.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRetryPolicy overrides the re-authentication policy.
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(o *Orchestrator) {
		if policy != nil {
			o.policy = policy
		}
	}
}

// WithPacer overrides the pacer.
func WithPacer(pacer *Pacer) Option {
	return func(o *Orchestrator) {
		o.pacer = pacer
	}
}

// Orchestrator owns one session driver for the length of a run.
type Orchestrator struct {
	driver scraper.SessionDriver
	cache  scraper.Cache
	creds  scraper.Credentials
	ttl    time.Duration

	policy *RetryPolicy
	pacer  *Pacer
	clock  scraper.Clock
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// New wires an Orchestrator. cache may be nil to disable caching.
func New(driver scraper.SessionDriver, cache scraper.Cache, cfg Config, opts ...Option) (*Orchestrator, error) {
	if driver == nil {
		return nil, errors.New("session driver is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	o := &Orchestrator{
		driver: driver,
		cache:  cache,
		creds:  cfg.Credentials,
		ttl:    ttl,
		policy: NewRetryPolicy(DefaultMaxReauthAttempts),
		clock:  system.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pacer == nil {
		o.pacer = NewPacer(PacerConfig{MinDelay: DefaultMinDelay, MaxDelay: DefaultMaxDelay}, o.clock)
	}
	return o, nil
}

// Open establishes the session.
func (o *Orchestrator) Open(ctx context.Context) error {
	return o.login(ctx)
}

func (o *Orchestrator) login(ctx context.Context) error {
	o.logger.Info("logging in", zap.String("user", o.creds.User))
	if err := o.driver.Login(ctx, o.creds); err != nil {
		var authErr *scraper.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		return &scraper.AuthError{User: o.creds.User, Err: err}
	}
	return nil
}

// Fetch returns the content at url, from cache when allowed and fresh,
// otherwise live through the session.
func (o *Orchestrator) Fetch(ctx context.Context, url string, allowCache bool) (Result, error) {
	key := sha256.Fingerprint(url)
	logger := o.logger.With(zap.String("url", url))

	if allowCache && o.cache != nil {
		content, ok, err := o.cache.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn("cache read failed, fetching live", zap.Error(err))
		case ok:
			logger.Info("fetched", zap.String("source", metrics.SourceCache))
			metrics.ObserveFetch(metrics.SourceCache, 0)
			return Result{Content: content, FromCache: true, FinalURL: url}, nil
		}
	}

	page, err := o.fetchLive(ctx, url, logger)
	if err != nil {
		return Result{}, err
	}

	d, err := o.pacer.Pause(ctx)
	if err != nil {
		return Result{}, err
	}
	metrics.ObservePacingDelay(d)

	if o.cache != nil {
		if err := o.cache.Put(ctx, key, page.Body, o.ttl); err != nil {
			logger.Warn("cache write failed", zap.Error(err))
		}
	}
	finalURL := page.FinalURL
	if finalURL == "" {
		finalURL = url
	}
	logger.Info("fetched", zap.String("source", metrics.SourceLive), zap.Int("bytes", len(page.Body)))
	return Result{Content: page.Body, FromCache: false, FinalURL: finalURL}, nil
}

func (o *Orchestrator) fetchLive(ctx context.Context, url string, logger *zap.Logger) (scraper.Page, error) {
	for attempt := 0; ; attempt++ {
		if err := o.pacer.Wait(ctx); err != nil {
			return scraper.Page{}, err
		}
		start := o.clock.Now()
		page, err := o.driver.Fetch(ctx, url)
		if err != nil {
			return scraper.Page{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		metrics.ObserveFetch(metrics.SourceLive, o.clock.Now().Sub(start))

		if !o.policy.ShouldReauth(url, page) {
			return page, nil
		}
		if attempt >= o.policy.MaxAttempts() {
			return scraper.Page{}, fmt.Errorf("%w: %s still lands on %s after %d re-authentications",
				scraper.ErrSessionLost, url, page.FinalURL, attempt)
		}

		backoff := o.policy.Backoff(attempt)
		logger.Warn("redirected away from requested page, re-authenticating",
			zap.String("final_url", page.FinalURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff))
		metrics.ObserveReauth()
		if err := o.clock.Sleep(ctx, backoff); err != nil {
			return scraper.Page{}, fmt.Errorf("re-auth backoff: %w", err)
		}
		if err := o.login(ctx); err != nil {
			return scraper.Page{}, err
		}
	}
}

// Close releases the session. Safe to call more than once.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		if err := o.driver.Close(); err != nil {
			o.closeErr = fmt.Errorf("close session: %w", err)
		}
	})
	return o.closeErr
}
