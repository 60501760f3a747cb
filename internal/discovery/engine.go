// Package discovery walks the paginated order listing for a year and collects
// record identifiers.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/fetch"
	"github.com/JakeFAU/orderscraper/internal/metrics"
	"github.com/JakeFAU/orderscraper/internal/scraper"
)

// DefaultListingPath is the listing URL path template; {year} is substituted.
const DefaultListingPath = "/gp/css/history/orders/view.html?orderFilter=year-{year}&startAtIndex=1000"

var recordIDPattern = regexp.MustCompile(`orderID=([0-9-]+)`)

// Fetcher is the subset of the fetch orchestrator discovery needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, allowCache bool) (fetch.Result, error)
}

// Config locates the listing pages.
type Config struct {
	BaseURL     string
	ListingPath string
}

// Engine discovers record identifiers.
type Engine struct {
	fetcher     Fetcher
	baseURL     string
	listingPath string
	logger      *zap.Logger
}

// New builds an Engine.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	listing := cfg.ListingPath
	if listing == "" {
		listing = DefaultListingPath
	}
	return &Engine{
		fetcher:     fetcher,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		listingPath: listing,
		logger:      logger,
	}, nil
}

// ListingURL returns the first listing page for year.
func (e *Engine) ListingURL(year int) string {
	return e.baseURL + strings.ReplaceAll(e.listingPath, "{year}", strconv.Itoa(year))
}

// DiscoverRecordIDs follows "next page" links until none is found and returns
// every record id seen. Any fetch or parse failure discards the partial set.
func (e *Engine) DiscoverRecordIDs(ctx context.Context, year int) (scraper.RecordSet, error) {
	ids := scraper.NewRecordSet()
	current := e.ListingURL(year)
	visited := map[string]struct{}{}
	logger := e.logger.With(zap.Int("year", year))

	for page := 2; ; page++ {
		if key, err := fetch.NormalizeURL(current); err == nil {
			visited[key] = struct{}{}
		}

		res, err := e.fetcher.Fetch(ctx, current, true)
		if err != nil {
			return nil, &scraper.DiscoveryError{Year: year, URL: current, Err: err}
		}
		metrics.ObserveListingPage()

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Content))
		if err != nil {
			return nil, &scraper.DiscoveryError{Year: year, URL: current, Err: fmt.Errorf("parse listing: %w", err)}
		}

		found := collectIDs(doc, ids)
		logger.Debug("listing page parsed", zap.String("url", current), zap.Int("new_ids", found))

		href, ok := nextPageHref(doc, page)
		if !ok {
			break
		}
		base := res.FinalURL
		if base == "" {
			base = current
		}
		next, err := resolve(base, href)
		if err != nil {
			return nil, &scraper.DiscoveryError{Year: year, URL: current, Err: fmt.Errorf("resolve next page %q: %w", href, err)}
		}
		if key, err := fetch.NormalizeURL(next); err == nil {
			if _, seen := visited[key]; seen {
				logger.Warn("next page already visited, stopping", zap.String("url", next), zap.Int("page", page))
				break
			}
		}
		current = next
	}

	logger.Info("discovered records", zap.Int("count", len(ids)))
	return ids, nil
}

func collectIDs(doc *goquery.Document, ids scraper.RecordSet) int {
	added := 0
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if m := recordIDPattern.FindStringSubmatch(href); m != nil && ids.Add(m[1]) {
			added++
		}
	})
	return added
}

func nextPageHref(doc *goquery.Document, page int) (string, bool) {
	label := strconv.Itoa(page)
	var href string
	var ok bool
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) != label {
			return true
		}
		href, ok = s.Attr("href")
		return !ok
	})
	return href, ok
}

func resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return b.ResolveReference(ref).String(), nil
}
