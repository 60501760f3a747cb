package delivery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/metrics"
	"github.com/JakeFAU/orderscraper/internal/scraper"
)

// Sink names used in logs and metrics.
const (
	SinkMirror = "mirror"
	SinkLedger = "ledger"
	SinkNotify = "notify"
	SinkEmail  = "email"
)

// Options configures a Handoff. Every collaborator is optional.
type Options struct {
	RunID     string
	From      string
	To        []string
	Mailer    scraper.Mailer
	Mirror    scraper.Mirror
	Ledger    scraper.Ledger
	Publisher scraper.Publisher
	Topic     string
	Logger    *zap.Logger
}

// Handoff forwards each created artifact to the configured sinks.
type Handoff struct {
	opts   Options
	logger *zap.Logger
}

// NewHandoff returns a Handoff.
func NewHandoff(opts Options) *Handoff {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handoff{opts: opts, logger: logger}
}

// EmailEnabled reports whether email delivery is fully configured.
func (h *Handoff) EmailEnabled() bool {
	return h.opts.Mailer != nil && h.opts.From != "" && len(h.opts.To) > 0
}

// Deliver runs the mirror, ledger, notification and email sinks in that
// order. Sink failures never remove the artifact; they are joined into one
// *scraper.DeliveryError.
func (h *Handoff) Deliver(ctx context.Context, a scraper.Artifact) error {
	logger := h.logger.With(zap.String("record_id", a.RecordID), zap.String("path", a.Path))
	var errs []error
	record := func(sink string, err error) {
		metrics.ObserveHandoff(sink, err)
		if err != nil {
			logger.Warn("hand-off failed", zap.String("sink", sink), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", sink, err))
		}
	}

	mirrorURI := ""
	if h.opts.Mirror != nil {
		uri, err := h.opts.Mirror.Upload(ctx, a.Path)
		record(SinkMirror, err)
		mirrorURI = uri
	}

	if h.opts.Ledger != nil {
		record(SinkLedger, h.opts.Ledger.Record(ctx, scraper.LedgerEntry{
			RunID:     h.opts.RunID,
			RecordID:  a.RecordID,
			OrderDate: a.OrderDate,
			Path:      a.Path,
			MirrorURI: mirrorURI,
			CreatedAt: a.CreatedAt,
		}))
	}

	if h.opts.Publisher != nil && h.opts.Topic != "" {
		_, err := h.opts.Publisher.Publish(ctx, h.opts.Topic, scraper.ArtifactEvent{
			RunID:     h.opts.RunID,
			RecordID:  a.RecordID,
			OrderDate: a.OrderDate,
			Path:      a.Path,
			MirrorURI: mirrorURI,
			CreatedAt: a.CreatedAt,
		})
		record(SinkNotify, err)
	}

	if h.EmailEnabled() {
		record(SinkEmail, h.email(ctx, a))
	} else {
		logger.Info("skipping email send")
	}

	if len(errs) == 0 {
		return nil
	}
	return &scraper.DeliveryError{RecordID: a.RecordID, Err: errors.Join(errs...)}
}

func (h *Handoff) email(ctx context.Context, a scraper.Artifact) error {
	d, err := NewDispatch(h.opts.From, h.opts.To, a.Path)
	if err != nil {
		return err
	}
	return h.opts.Mailer.Send(ctx, d.From, d.To, d.Subject, d.Body, d.Attachments) //nolint:wrapcheck // wrapped in Deliver
}
