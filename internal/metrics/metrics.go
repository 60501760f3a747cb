// Package metrics exposes Prometheus collectors for scraper runs.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch sources.
const (
	SourceCache = "cache"
	SourceLive  = "live"
)

var (
	fetchesTotal         *prometheus.CounterVec
	fetchDurationSeconds prometheus.Histogram
	reauthTotal          prometheus.Counter
	pacingDelaySeconds   prometheus.Histogram
	listingPagesTotal    prometheus.Counter
	recordsTotal         *prometheus.CounterVec
	handoffsTotal        *prometheus.CounterVec
	runsTotal            *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderscraper_fetches_total",
				Help: "Total page fetches, labeled by source (cache or live).",
			},
			[]string{"source"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orderscraper_live_fetch_duration_seconds",
				Help:    "Histogram of live fetch latencies through the session driver.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		reauthTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orderscraper_reauth_total",
				Help: "Total session re-authentications triggered by sign-in redirects.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orderscraper_pacing_delay_seconds",
				Help:    "Histogram of pacing delays inserted after live fetches.",
				Buckets: []float64{0.5, 1, 2, 3, 4, 5, 10},
			},
		)

		listingPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orderscraper_listing_pages_total",
				Help: "Total listing pages walked during discovery.",
			},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderscraper_records_total",
				Help: "Total records processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		handoffsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderscraper_handoffs_total",
				Help: "Total post-creation hand-offs, labeled by sink and status.",
			},
			[]string{"sink", "status"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderscraper_runs_total",
				Help: "Total per-year runs, labeled by status.",
			},
			[]string{"status"},
		)
	})
}

// ObserveFetch counts a fetch from source; live fetches also record latency.
func ObserveFetch(source string, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(source).Inc()
	if source == SourceLive && duration > 0 {
		fetchDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveReauth counts a session re-authentication.
func ObserveReauth() {
	Init()
	reauthTotal.Inc()
}

// ObservePacingDelay records a pacing sleep.
func ObservePacingDelay(d time.Duration) {
	Init()
	pacingDelaySeconds.Observe(d.Seconds())
}

// ObserveListingPage counts a walked listing page.
func ObserveListingPage() {
	Init()
	listingPagesTotal.Inc()
}

// ObserveRecord counts a processed record by outcome ("created", "failed", ...).
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHandoff counts a sink hand-off ("email", "mirror", "ledger", "notify").
func ObserveHandoff(sink string, err error) {
	Init()
	status := "ok"
	if err != nil {
		status = "error"
	}
	handoffsTotal.WithLabelValues(sink, status).Inc()
}

// ObserveRun counts a finished per-year run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// WriteTextfile dumps the default registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
