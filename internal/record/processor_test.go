package record_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/orderscraper/internal/artifact"
	"github.com/JakeFAU/orderscraper/internal/cache/memory"
	"github.com/JakeFAU/orderscraper/internal/fetch"
	"github.com/JakeFAU/orderscraper/internal/record"
	"github.com/JakeFAU/orderscraper/internal/scraper"
	"github.com/JakeFAU/orderscraper/internal/scraper/scrapertest"
)

const (
	baseURL  = "https://store.example"
	recordID = "111-2222222-3333333"

	finalPage   = `<html><body><h1>Final Details for Order #111-2222222-3333333</h1><table><tr><td><b>Order Placed:</b> March 3, 2021</td></tr></table></body></html>`
	interimPage = `<html><body><h1>Details for Order #111-2222222-3333333</h1><b>Order Placed:</b> March 3, 2021</body></html>`
)

// copyConverter copies the intermediate file and records what it saw.
type copyConverter struct {
	calls   int
	srcSeen string
	err     error
}

func (c *copyConverter) Convert(_ context.Context, src, dst string) error {
	c.calls++
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	c.srcSeen = src
	if c.err != nil {
		_ = os.WriteFile(dst, []byte("partial"), 0o600)
		return c.err
	}
	return os.WriteFile(dst, append([]byte("%PDF-"), data...), 0o600)
}

type fixture struct {
	driver    *scrapertest.Driver
	dir       *artifact.Dir
	converter *copyConverter
	proc      *record.Processor
}

func newFixture(t *testing.T, page string) *fixture {
	t.Helper()

	clock := scrapertest.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dir, err := artifact.New(artifact.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	conv := &copyConverter{}
	url := baseURL + strings.ReplaceAll(record.DefaultRecordPath, "{id}", recordID)
	driver := scrapertest.NewDriver(map[string]string{url: page})
	orch, err := fetch.New(driver, memory.New(memory.WithNow(clock.Now)), fetch.Config{}, fetch.WithClock(clock))
	require.NoError(t, err)

	proc, err := record.NewProcessor(orch, dir, conv, record.Config{BaseURL: baseURL}, nil)
	require.NoError(t, err)
	return &fixture{driver: driver, dir: dir, converter: conv, proc: proc}
}

func (f *fixture) url() string {
	return f.proc.RecordURL(recordID)
}

func TestProcessCreatesArtifact(t *testing.T) {
	t.Parallel()

	f := newFixture(t, finalPage)
	res, err := f.proc.Process(context.Background(), recordID)
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeCreated, res.Outcome)
	require.Equal(t, "2021-03-03", res.OrderDate)
	require.Equal(t, filepath.Join(f.dir.Path(), "amazon_order_2021-03-03_111-2222222-3333333.pdf"), res.ArtifactPath)

	_, err = os.Stat(res.ArtifactPath)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(f.dir.Path(), "amazon_order_2021-03-03_111-2222222-3333333.html"), f.converter.srcSeen)
	_, err = os.Stat(f.converter.srcSeen)
	require.True(t, os.IsNotExist(err), "intermediate file should be removed")
}

func TestProcessSkipsExisting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, finalPage)
	require.NoError(t, os.WriteFile(
		filepath.Join(f.dir.Path(), "amazon_order_2021-03-03_111-2222222-3333333.pdf"), []byte("%PDF"), 0o600))

	res, err := f.proc.Process(context.Background(), recordID)
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeSkippedExisting, res.Outcome)
	require.Zero(t, f.driver.TotalFetches())
	require.Zero(t, f.converter.calls)
}

func TestProcessLiveInterimIsIncomplete(t *testing.T) {
	t.Parallel()

	f := newFixture(t, interimPage)
	res, err := f.proc.Process(context.Background(), recordID)
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeSkippedIncomplete, res.Outcome)
	require.Equal(t, 1, f.driver.Fetches(f.url()))
	require.Zero(t, f.converter.calls)
}

func TestProcessRefetchesStaleInterimOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, interimPage)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, recordID)
	require.NoError(t, err)
	require.Equal(t, 1, f.driver.Fetches(f.url()))

	f.driver.SetPage(f.url(), finalPage)
	res, err := f.proc.Process(ctx, recordID)
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeCreated, res.Outcome)
	require.Equal(t, 2, f.driver.Fetches(f.url()))
}

func TestProcessCachedInterimStillInterim(t *testing.T) {
	t.Parallel()

	f := newFixture(t, interimPage)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, recordID)
	require.NoError(t, err)
	res, err := f.proc.Process(ctx, recordID)
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeSkippedIncomplete, res.Outcome)
	require.Equal(t, 2, f.driver.Fetches(f.url()))
}

func TestProcessParseError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `<html><h1>Final Details for Order #1</h1><b>Order Placed:</b> 03/03/2021</html>`)
	_, err := f.proc.Process(context.Background(), recordID)

	var parseErr *scraper.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, recordID, parseErr.RecordID)
	require.Equal(t, "03/03/2021", parseErr.Snippet)
	require.False(t, scraper.IsFatal(err))
}

func TestProcessConversionFailureRemovesPartialOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, finalPage)
	f.converter.err = errors.New("wkhtmltopdf exited 1")

	_, err := f.proc.Process(context.Background(), recordID)
	var convErr *scraper.ConversionError
	require.ErrorAs(t, err, &convErr)

	entries, err := os.ReadDir(f.dir.Path())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestProcessSessionLostPropagates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, finalPage)
	f.driver.BounceNext(100)

	_, err := f.proc.Process(context.Background(), recordID)
	require.ErrorIs(t, err, scraper.ErrSessionLost)
	require.True(t, scraper.IsFatal(err))
}

func TestProcessWithMockConverter(t *testing.T) {
	t.Parallel()

	f := newFixture(t, finalPage)
	conv := &scrapertest.MockConverter{}
	conv.On("Convert", mock.Anything,
		filepath.Join(f.dir.Path(), "amazon_order_2021-03-03_111-2222222-3333333.html"),
		filepath.Join(f.dir.Path(), "amazon_order_2021-03-03_111-2222222-3333333.pdf"),
	).Return(nil).Once()

	url := f.url()
	driver := scrapertest.NewDriver(map[string]string{url: finalPage})
	orch, err := fetch.New(driver, nil, fetch.Config{}, fetch.WithClock(scrapertest.NewClock(time.Now())))
	require.NoError(t, err)
	proc, err := record.NewProcessor(orch, f.dir, conv, record.Config{BaseURL: baseURL}, nil)
	require.NoError(t, err)

	res, err := proc.Process(context.Background(), recordID)
	require.NoError(t, err)
	require.Equal(t, scraper.OutcomeCreated, res.Outcome)
	conv.AssertExpectations(t)
}

func TestNewProcessorValidation(t *testing.T) {
	t.Parallel()

	dir, err := artifact.New(artifact.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	orch, err := fetch.New(scrapertest.NewDriver(nil), nil, fetch.Config{})
	require.NoError(t, err)

	_, err = record.NewProcessor(nil, dir, &copyConverter{}, record.Config{BaseURL: baseURL}, nil)
	require.Error(t, err)
	_, err = record.NewProcessor(orch, nil, &copyConverter{}, record.Config{BaseURL: baseURL}, nil)
	require.Error(t, err)
	_, err = record.NewProcessor(orch, dir, nil, record.Config{BaseURL: baseURL}, nil)
	require.Error(t, err)
	_, err = record.NewProcessor(orch, dir, &copyConverter{}, record.Config{}, nil)
	require.Error(t, err)
}
