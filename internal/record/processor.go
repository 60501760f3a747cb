// Package record turns one discovered record id into a converted document.
package record

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/artifact"
	"github.com/JakeFAU/orderscraper/internal/fetch"
	"github.com/JakeFAU/orderscraper/internal/scraper"
)

// DefaultRecordPath is the printable record URL path template; {id} is substituted.
const DefaultRecordPath = "/gp/css/summary/print.html/ref=od_aui_print_invoice?ie=UTF8&orderID={id}"

// Fetcher is the subset of the fetch orchestrator the processor needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, allowCache bool) (fetch.Result, error)
}

// Config locates record pages.
type Config struct {
	BaseURL    string
	RecordPath string
}

// Result describes what Process did with one record.
type Result struct {
	Outcome      scraper.Outcome
	ArtifactPath string
	OrderDate    string
}

// Processor fetches, validates and converts individual records.
type Processor struct {
	fetcher    Fetcher
	dir        *artifact.Dir
	converter  scraper.Converter
	baseURL    string
	recordPath string
	logger     *zap.Logger
}

// NewProcessor wires a Processor.
func NewProcessor(fetcher Fetcher, dir *artifact.Dir, converter scraper.Converter, cfg Config, logger *zap.Logger) (*Processor, error) {
	switch {
	case fetcher == nil:
		return nil, errors.New("fetcher is required")
	case dir == nil:
		return nil, errors.New("output directory is required")
	case converter == nil:
		return nil, errors.New("converter is required")
	case strings.TrimSpace(cfg.BaseURL) == "":
		return nil, errors.New("base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	recordPath := cfg.RecordPath
	if recordPath == "" {
		recordPath = DefaultRecordPath
	}
	return &Processor{
		fetcher:    fetcher,
		dir:        dir,
		converter:  converter,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		recordPath: recordPath,
		logger:     logger,
	}, nil
}

// RecordURL returns the printable page URL for id.
func (p *Processor) RecordURL(id string) string {
	return p.baseURL + strings.ReplaceAll(p.recordPath, "{id}", id)
}

// Process handles one record end to end.
func (p *Processor) Process(ctx context.Context, id string) (Result, error) {
	logger := p.logger.With(zap.String("record_id", id))

	exists, err := p.dir.Exists(id)
	if err != nil {
		return Result{}, fmt.Errorf("check existing artifact for %s: %w", id, err)
	}
	if exists {
		logger.Info("skipping record", zap.String("reason", "already exists"))
		return Result{Outcome: scraper.OutcomeSkippedExisting}, nil
	}

	snap, err := p.snapshot(ctx, id, logger)
	if err != nil {
		return Result{}, err
	}
	if !snap.Final {
		logger.Info("skipping record", zap.String("reason", "not final"))
		return Result{Outcome: scraper.OutcomeSkippedIncomplete}, nil
	}

	date, snippet, err := ExtractOrderDate(snap.Content)
	if err != nil {
		return Result{}, &scraper.ParseError{RecordID: id, Snippet: snippet, Err: err}
	}
	snap.OrderDate = date

	pdfPath, err := p.convert(ctx, id, snap)
	if err != nil {
		return Result{}, err
	}
	logger.Info("created artifact", zap.String("path", pdfPath), zap.String("order_date", date))
	return Result{Outcome: scraper.OutcomeCreated, ArtifactPath: pdfPath, OrderDate: date}, nil
}

// snapshot fetches the record, forcing one live refetch when the cached copy
// is not final yet. A live interim copy is accepted as is.
func (p *Processor) snapshot(ctx context.Context, id string, logger *zap.Logger) (Snapshot, error) {
	url := p.RecordURL(id)
	res, err := p.fetcher.Fetch(ctx, url, true)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch record %s: %w", id, err)
	}
	if !IsFinal(res.Content) && res.FromCache {
		logger.Info("cached record not final, refetching live")
		res, err = p.fetcher.Fetch(ctx, url, false)
		if err != nil {
			return Snapshot{}, fmt.Errorf("refetch record %s: %w", id, err)
		}
	}
	return Snapshot{Content: res.Content, Final: IsFinal(res.Content)}, nil
}

func (p *Processor) convert(ctx context.Context, id string, snap Snapshot) (string, error) {
	src, err := p.dir.WriteIntermediate(snap.OrderDate, id, snap.Content)
	if err != nil {
		return "", &scraper.ConversionError{RecordID: id, Err: err}
	}
	defer func() {
		if rmErr := artifact.Remove(src); rmErr != nil {
			p.logger.Warn("remove intermediate file", zap.String("record_id", id), zap.Error(rmErr))
		}
	}()

	dst := p.dir.DocumentPath(snap.OrderDate, id)
	if err := p.converter.Convert(ctx, src, dst); err != nil {
		if rmErr := artifact.Remove(dst); rmErr != nil {
			p.logger.Warn("remove partial document", zap.String("record_id", id), zap.Error(rmErr))
		}
		return "", &scraper.ConversionError{RecordID: id, Err: err}
	}
	return dst, nil
}
