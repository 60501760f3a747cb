// Package app builds the long-lived services a run needs from configuration
// and owns their shutdown.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/artifact"
	"github.com/JakeFAU/orderscraper/internal/artifact/gcs"
	"github.com/JakeFAU/orderscraper/internal/cache"
	"github.com/JakeFAU/orderscraper/internal/cache/memory"
	"github.com/JakeFAU/orderscraper/internal/cache/redis"
	"github.com/JakeFAU/orderscraper/internal/clock/system"
	"github.com/JakeFAU/orderscraper/internal/config"
	"github.com/JakeFAU/orderscraper/internal/convert"
	"github.com/JakeFAU/orderscraper/internal/delivery"
	"github.com/JakeFAU/orderscraper/internal/discovery"
	"github.com/JakeFAU/orderscraper/internal/fetch"
	"github.com/JakeFAU/orderscraper/internal/ledger/postgres"
	"github.com/JakeFAU/orderscraper/internal/logging"
	"github.com/JakeFAU/orderscraper/internal/pipeline"
	"github.com/JakeFAU/orderscraper/internal/publisher/pubsub"
	"github.com/JakeFAU/orderscraper/internal/record"
	"github.com/JakeFAU/orderscraper/internal/scraper"
	collysession "github.com/JakeFAU/orderscraper/internal/session/colly"
	"github.com/JakeFAU/orderscraper/internal/session/headless"
)

// Source is attached to published notifications.
const Source = "orderscraper"

type closer struct {
	name string
	fn   func() error
}

// App holds the services shared by every year of a run.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runID     string
	clock     scraper.Clock
	cache     scraper.Cache
	dir       *artifact.Dir
	converter scraper.Converter
	handoff   *delivery.Handoff
	closers   []closer
}

// New initializes every configured service. Optional sinks (mirror,
// notifications, ledger, email) are only built when configured. On error the
// services built so far are closed.
func New(ctx context.Context, cfg config.Config) (a *App, err error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	runID := id.String()

	a = &App{cfg: cfg, logger: logger.With(zap.String("run_id", runID)), runID: runID, clock: system.New()}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()
	a.logger.Info("initializing services", zap.String("driver", cfg.Session.Driver), zap.String("cache", cfg.Cache.Provider))

	if a.cache, err = a.buildCache(ctx); err != nil {
		return a, err
	}
	if a.dir, err = artifact.New(artifact.Config{Dir: cfg.Output.DestDir, StrictDedup: cfg.Output.StrictDedup}); err != nil {
		return a, fmt.Errorf("init output directory: %w", err)
	}

	conv := convert.New(convert.Config{
		Binary:      cfg.Converter.Binary,
		Args:        cfg.Converter.Args,
		ValidatePDF: cfg.Converter.ValidatePDF,
		Timeout:     cfg.Converter.Timeout,
	}, a.logger)
	if _, err = conv.LookPath(); err != nil {
		return a, fmt.Errorf("init converter: %w", err)
	}
	a.converter = conv

	opts := delivery.Options{RunID: runID, Logger: a.logger, From: cfg.Delivery.From, To: cfg.Delivery.To}
	if err = a.buildSinks(ctx, &opts); err != nil {
		return a, err
	}
	a.handoff = delivery.NewHandoff(opts)

	a.logger.Info("services initialized", zap.Bool("email", a.handoff.EmailEnabled()))
	return a, nil
}

func (a *App) buildCache(ctx context.Context) (scraper.Cache, error) {
	switch a.cfg.Cache.Provider {
	case config.CacheMemory:
		return memory.New(), nil
	case config.CacheNone:
		a.logger.Info("page cache disabled")
		return cache.NoOp{}, nil
	case config.CacheRedis:
		store, err := redis.New(ctx, redis.Config{
			Addr:      a.cfg.Cache.Redis.Addr,
			Password:  a.cfg.Cache.Redis.Password,
			DB:        a.cfg.Cache.Redis.DB,
			KeyPrefix: a.cfg.Cache.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		a.addCloser("redis cache", store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache provider: %s", a.cfg.Cache.Provider)
	}
}

func (a *App) buildSinks(ctx context.Context, opts *delivery.Options) error {
	cfg := a.cfg
	if cfg.Delivery.Enabled() {
		mailer, err := delivery.NewSMTPMailer(delivery.SMTPConfig{
			Host:     cfg.Delivery.SMTP.Host,
			Port:     cfg.Delivery.SMTP.Port,
			User:     cfg.Delivery.SMTP.User,
			Password: cfg.Delivery.SMTP.Password,
		})
		if err != nil {
			return fmt.Errorf("init smtp mailer: %w", err)
		}
		opts.Mailer = mailer
	}

	if cfg.GCS.Bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.addCloser("gcs client", client.Close)
		mirror, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs mirror: %w", err)
		}
		opts.Mirror = mirror
	}

	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsub.New(ctx, cfg.PubSub.ProjectID, Source)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.addCloser("pubsub publisher", pub.Close)
		opts.Publisher = pub
		opts.Topic = cfg.PubSub.Topic
	}

	if cfg.Ledger.DSN != "" {
		ledger, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Ledger.DSN,
			Table:           cfg.Ledger.Table,
			MaxConns:        cfg.Ledger.MaxConns,
			MaxConnLifetime: cfg.Ledger.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("init ledger: %w", err)
		}
		a.addCloser("ledger", func() error {
			ledger.Close()
			return nil
		})
		opts.Ledger = ledger
	}
	return nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunID identifies this run in logs, ledger rows and notifications.
func (a *App) RunID() string {
	return a.runID
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// NewDriver returns a fresh session driver of the configured kind.
func (a *App) NewDriver() (scraper.SessionDriver, error) {
	s := a.cfg.Session
	switch s.Driver {
	case config.DriverColly:
		return collysession.New(collysession.Config{
			BaseURL:    a.cfg.Site.BaseURL,
			SignInPath: a.cfg.Site.SignInPath,
			UserAgent:  s.UserAgent,
			Timeout:    s.Timeout,
		}, a.logger)
	case config.DriverHeadless:
		return headless.New(headless.Config{
			BaseURL:           a.cfg.Site.BaseURL,
			SignInPath:        a.cfg.Site.SignInPath,
			UserAgent:         s.UserAgent,
			ExecPath:          s.ChromePath,
			Headful:           s.Headful,
			NavigationTimeout: s.Timeout,
			DoubleLoad:        s.DoubleLoad,
			NoSandbox:         s.NoSandbox,
		}, a.logger)
	default:
		return nil, fmt.Errorf("unknown session driver: %s", s.Driver)
	}
}

// Runner wires a pipeline.Runner around the App's services.
func (a *App) Runner() (*pipeline.Runner, error) {
	cfg := a.cfg
	return pipeline.New(pipeline.Options{
		RunID:     a.runID,
		NewDriver: a.NewDriver,
		Cache:     a.cache,
		Fetch: fetch.Config{
			Credentials: scraper.Credentials{User: cfg.Credentials.User, Password: cfg.Credentials.Password},
			CacheTTL:    cfg.Cache.TTL,
		},
		FetchOptions: []fetch.Option{
			fetch.WithClock(a.clock),
			fetch.WithRetryPolicy(fetch.NewRetryPolicy(cfg.Session.MaxReauthAttempts)),
			fetch.WithPacer(fetch.NewPacer(fetch.PacerConfig{
				MinDelay:             cfg.Fetch.MinDelay,
				MaxDelay:             cfg.Fetch.MaxDelay,
				MaxRequestsPerSecond: cfg.Fetch.MaxRequestsPerSecond,
			}, a.clock)),
		},
		Discovery: discovery.Config{BaseURL: cfg.Site.BaseURL, ListingPath: cfg.Site.ListingPath},
		Record:    record.Config{BaseURL: cfg.Site.BaseURL, RecordPath: cfg.Site.RecordPath},
		Dir:       a.dir,
		Converter: a.converter,
		Deliverer: a.handoff,
		Clock:     a.clock,
		Logger:    a.logger,
	})
}

// Close shuts down services in reverse order of creation and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
