// Package pipeline runs the per-year discover-then-process loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/artifact"
	"github.com/JakeFAU/orderscraper/internal/clock/system"
	"github.com/JakeFAU/orderscraper/internal/discovery"
	"github.com/JakeFAU/orderscraper/internal/fetch"
	"github.com/JakeFAU/orderscraper/internal/metrics"
	"github.com/JakeFAU/orderscraper/internal/record"
	"github.com/JakeFAU/orderscraper/internal/scraper"
)

// Run statuses reported to metrics.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusAborted = "aborted"
)

const outcomeFailed = "failed"

// DriverFactory returns a fresh, unauthenticated session driver.
type DriverFactory func() (scraper.SessionDriver, error)

// Deliverer hands a created artifact to the configured sinks.
type Deliverer interface {
	Deliver(ctx context.Context, a scraper.Artifact) error
}

// Options wires a Runner. NewDriver, Cache, Dir and Converter are required.
type Options struct {
	RunID        string
	NewDriver    DriverFactory
	Cache        scraper.Cache
	Fetch        fetch.Config
	FetchOptions []fetch.Option
	Discovery    discovery.Config
	Record       record.Config
	Dir          *artifact.Dir
	Converter    scraper.Converter
	Deliverer    Deliverer
	Clock        scraper.Clock
	Logger       *zap.Logger
}

// Runner processes target years one session at a time.
type Runner struct {
	opts   Options
	logger *zap.Logger
	clock  scraper.Clock
}

// New validates opts and returns a Runner.
func New(opts Options) (*Runner, error) {
	switch {
	case opts.NewDriver == nil:
		return nil, errors.New("driver factory is required")
	case opts.Cache == nil:
		return nil, errors.New("cache is required")
	case opts.Dir == nil:
		return nil, errors.New("artifact directory is required")
	case opts.Converter == nil:
		return nil, errors.New("converter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Runner{opts: opts, logger: logger, clock: clock}, nil
}

// Run processes every year in order. A fatal error stops the run; the
// returned Summary still covers the work done before it.
func (r *Runner) Run(ctx context.Context, years []int) (Summary, error) {
	summary := Summary{RunID: r.opts.RunID}
	for _, year := range years {
		ys, err := r.runYear(ctx, year)
		summary.add(ys)
		if err != nil {
			summary.Aborted = true
			metrics.ObserveRun(StatusAborted)
			r.logger.Error("run aborted", zap.Int("year", year), zap.Error(err))
			r.logSummary(summary)
			return summary, err
		}
		if ys.Failed > 0 || ys.DeliveryFailures > 0 {
			metrics.ObserveRun(StatusPartial)
		} else {
			metrics.ObserveRun(StatusOK)
		}
	}
	r.logSummary(summary)
	return summary, nil
}

func (r *Runner) runYear(ctx context.Context, year int) (YearSummary, error) {
	ys := YearSummary{Year: year}
	logger := r.logger.With(zap.Int("year", year))

	driver, err := r.opts.NewDriver()
	if err != nil {
		return ys, fmt.Errorf("create session driver: %w", err)
	}
	opts := append([]fetch.Option{fetch.WithLogger(logger)}, r.opts.FetchOptions...)
	orch, err := fetch.New(driver, r.opts.Cache, r.opts.Fetch, opts...)
	if err != nil {
		_ = driver.Close()
		return ys, fmt.Errorf("create fetch orchestrator: %w", err)
	}
	defer func() {
		if cerr := orch.Close(); cerr != nil {
			logger.Warn("close session", zap.Error(cerr))
		}
	}()

	if err := orch.Open(ctx); err != nil {
		return ys, err
	}

	engine, err := discovery.New(orch, r.opts.Discovery, logger)
	if err != nil {
		return ys, fmt.Errorf("create discovery engine: %w", err)
	}
	ids, err := engine.DiscoverRecordIDs(ctx, year)
	if err != nil {
		return ys, err
	}
	ys.Discovered = len(ids)

	proc, err := record.NewProcessor(orch, r.opts.Dir, r.opts.Converter, r.opts.Record, logger)
	if err != nil {
		return ys, fmt.Errorf("create record processor: %w", err)
	}

	for _, id := range ids.Sorted() {
		if err := ctx.Err(); err != nil {
			return ys, fmt.Errorf("year %d interrupted: %w", year, err)
		}
		res, err := proc.Process(ctx, id)
		if err != nil {
			if scraper.IsFatal(err) || ctx.Err() != nil {
				return ys, err
			}
			ys.Failed++
			metrics.ObserveRecord(outcomeFailed)
			logger.Warn("record failed", zap.String("record_id", id), zap.Error(err))
			continue
		}
		metrics.ObserveRecord(res.Outcome.String())
		ys.count(res.Outcome)
		if res.Outcome == scraper.OutcomeCreated {
			r.deliver(ctx, id, res, &ys, logger)
		}
	}
	return ys, nil
}

func (r *Runner) deliver(ctx context.Context, id string, res record.Result, ys *YearSummary, logger *zap.Logger) {
	if r.opts.Deliverer == nil {
		return
	}
	err := r.opts.Deliverer.Deliver(ctx, scraper.Artifact{
		RecordID:  id,
		OrderDate: res.OrderDate,
		Path:      res.ArtifactPath,
		CreatedAt: r.clock.Now(),
	})
	if err != nil {
		ys.DeliveryFailures++
		logger.Warn("delivery failed", zap.String("record_id", id), zap.Error(err))
	}
}

func (r *Runner) logSummary(s Summary) {
	r.logger.Info("run finished",
		zap.Int("years", len(s.Years)),
		zap.Int("created", s.Total.Created),
		zap.Int("skipped_existing", s.Total.SkippedExisting),
		zap.Int("skipped_incomplete", s.Total.SkippedIncomplete),
		zap.Int("failed", s.Total.Failed),
		zap.Int("delivery_failures", s.Total.DeliveryFailures),
		zap.Bool("aborted", s.Aborted),
	)
}
