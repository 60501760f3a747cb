package fetch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/orderscraper/internal/cache/memory"
	"github.com/JakeFAU/orderscraper/internal/fetch"
	"github.com/JakeFAU/orderscraper/internal/hash/sha256"
	"github.com/JakeFAU/orderscraper/internal/scraper"
	"github.com/JakeFAU/orderscraper/internal/scraper/scrapertest"
)

const pageURL = "https://store.example/gp/css/summary/print.html?orderID=111-2222222-3333333"

type harness struct {
	driver *scrapertest.Driver
	clock  *scrapertest.Clock
	cache  *memory.Store
	orch   *fetch.Orchestrator
}

func newHarness(t *testing.T, opts ...fetch.Option) *harness {
	t.Helper()
	clock := scrapertest.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	driver := scrapertest.NewDriver(map[string]string{pageURL: "<html>order</html>"})
	cache := memory.New(memory.WithNow(clock.Now))
	all := append([]fetch.Option{fetch.WithClock(clock)}, opts...)
	orch, err := fetch.New(driver, cache, fetch.Config{
		Credentials: scraper.Credentials{User: "me@example.com", Password: "pw"},
		CacheTTL:    6 * time.Hour,
	}, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })
	return &harness{driver: driver, clock: clock, cache: cache, orch: orch}
}

func TestFetchServesCacheWithinTTL(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Fetch(ctx, pageURL, true)
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.Equal(t, "<html>order</html>", string(first.Content))

	h.clock.Advance(time.Hour)
	second, err := h.orch.Fetch(ctx, pageURL, true)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Content, second.Content)
	require.Equal(t, 1, h.driver.Fetches(pageURL))
}

func TestFetchStoresUnderBareFingerprint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Fetch(ctx, pageURL, true)
	require.NoError(t, err)

	content, ok, err := h.cache.Get(ctx, sha256.Fingerprint(pageURL))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "<html>order</html>", string(content))
	require.Equal(t, 1, h.cache.Len())
}

func TestFetchGoesLiveAfterTTL(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Fetch(ctx, pageURL, true)
	require.NoError(t, err)

	h.clock.Advance(6*time.Hour + time.Minute)
	res, err := h.orch.Fetch(ctx, pageURL, true)
	require.NoError(t, err)
	require.False(t, res.FromCache)
	require.Equal(t, 2, h.driver.Fetches(pageURL))
}

func TestFetchBypassesCacheWhenNotAllowed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Fetch(ctx, pageURL, true)
	require.NoError(t, err)
	h.driver.SetPage(pageURL, "<html>updated</html>")

	res, err := h.orch.Fetch(ctx, pageURL, false)
	require.NoError(t, err)
	require.False(t, res.FromCache)
	require.Equal(t, "<html>updated</html>", string(res.Content))

	cached, err := h.orch.Fetch(ctx, pageURL, true)
	require.NoError(t, err)
	require.True(t, cached.FromCache)
	require.Equal(t, "<html>updated</html>", string(cached.Content))
}

func TestFetchPacesLiveFetches(t *testing.T) {
	t.Parallel()

	clock := scrapertest.NewClock(time.Now())
	pacer := fetch.NewPacer(fetch.PacerConfig{MinDelay: 2 * time.Second, MaxDelay: 5 * time.Second}, clock)
	h := newHarness(t, fetch.WithClock(clock), fetch.WithPacer(pacer))

	_, err := h.orch.Fetch(context.Background(), pageURL, true)
	require.NoError(t, err)
	_, err = h.orch.Fetch(context.Background(), pageURL, true)
	require.NoError(t, err)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 1)
	require.GreaterOrEqual(t, sleeps[0], 2*time.Second)
	require.LessOrEqual(t, sleeps[0], 5*time.Second)
}

func TestFetchReauthenticatesOnRedirect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.orch.Open(ctx))
	h.driver.BounceNext(2)

	res, err := h.orch.Fetch(ctx, pageURL, true)
	require.NoError(t, err)
	require.Equal(t, "<html>order</html>", string(res.Content))
	require.Equal(t, 3, h.driver.Logins())
	require.Equal(t, 3, h.driver.Fetches(pageURL))
}

func TestFetchSessionLostAfterBound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fetch.WithRetryPolicy(fetch.NewRetryPolicy(2)))
	ctx := context.Background()
	require.NoError(t, h.orch.Open(ctx))
	h.driver.BounceNext(100)

	_, err := h.orch.Fetch(ctx, pageURL, true)
	require.ErrorIs(t, err, scraper.ErrSessionLost)
	require.True(t, scraper.IsFatal(err))
	require.Equal(t, 3, h.driver.Logins())
	require.Equal(t, 3, h.driver.Fetches(pageURL))

	_, ok, err := h.cache.Get(ctx, "anything")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenWrapsLoginFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.driver.LoginErr = errors.New("form not found")

	err := h.orch.Open(context.Background())
	var authErr *scraper.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "me@example.com", authErr.User)
	require.True(t, scraper.IsFatal(err))
}

func TestFetchDriverErrorIsWrapped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.orch.Fetch(context.Background(), "https://store.example/missing", true)
	require.ErrorContains(t, err, "no page scripted")
	require.False(t, scraper.IsFatal(err))
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Put(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func TestFetchTreatsCacheErrorsAsMiss(t *testing.T) {
	t.Parallel()

	clock := scrapertest.NewClock(time.Now())
	driver := scrapertest.NewDriver(map[string]string{pageURL: "body"})
	orch, err := fetch.New(driver, failingCache{}, fetch.Config{}, fetch.WithClock(clock))
	require.NoError(t, err)

	res, err := orch.Fetch(context.Background(), pageURL, true)
	require.NoError(t, err)
	require.Equal(t, "body", string(res.Content))
	require.False(t, res.FromCache)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.orch.Close())
	require.NoError(t, h.orch.Close())
	require.Equal(t, 1, h.driver.Closes())
}

func TestNewRequiresDriver(t *testing.T) {
	t.Parallel()

	_, err := fetch.New(nil, nil, fetch.Config{})
	require.Error(t, err)
}
