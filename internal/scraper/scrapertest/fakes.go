// Package scrapertest provides in-memory fakes of the scraper interfaces for tests.
package scrapertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/orderscraper/internal/scraper"
)

// Clock is a manual clock. Sleep advances time instead of blocking.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewClock returns a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleep records d, advances the clock and returns ctx.Err().
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.mu.Unlock()
	return nil
}

// Sleeps returns every recorded sleep.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Driver is a scripted storefront session.
type Driver struct {
	mu sync.Mutex

	pages   map[string]string
	fetches map[string]int

	// SignInURL is reported as the final location of bounced fetches.
	SignInURL string
	// LoginErr is returned by every Login call when set.
	LoginErr error

	bounces int
	logins  int
	closes  int
}

// NewDriver returns a Driver serving pages keyed by exact URL.
func NewDriver(pages map[string]string) *Driver {
	d := &Driver{
		pages:     make(map[string]string, len(pages)),
		fetches:   make(map[string]int),
		SignInURL: "https://store.example/ap/signin",
	}
	for k, v := range pages {
		d.pages[k] = v
	}
	return d
}

// SetPage replaces the body served at url.
func (d *Driver) SetPage(url, body string) {
	d.mu.Lock()
	d.pages[url] = body
	d.mu.Unlock()
}

// BounceNext makes the next n fetches land on the sign-in page.
func (d *Driver) BounceNext(n int) {
	d.mu.Lock()
	d.bounces = n
	d.mu.Unlock()
}

// Login counts the call and returns LoginErr.
func (d *Driver) Login(ctx context.Context, _ scraper.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins++
	return d.LoginErr
}

// Fetch serves the scripted page for url.
func (d *Driver) Fetch(ctx context.Context, url string) (scraper.Page, error) {
	if err := ctx.Err(); err != nil {
		return scraper.Page{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetches[url]++
	if d.bounces > 0 {
		d.bounces--
		return scraper.Page{RequestedURL: url, FinalURL: d.SignInURL, StatusCode: 200, Body: []byte("<html>sign in</html>")}, nil
	}
	body, ok := d.pages[url]
	if !ok {
		return scraper.Page{}, fmt.Errorf("no page scripted for %s", url)
	}
	return scraper.Page{RequestedURL: url, FinalURL: url, StatusCode: 200, Body: []byte(body)}, nil
}

// Close counts the call.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	return nil
}

// Fetches returns how many live fetches url received.
func (d *Driver) Fetches(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetches[url]
}

// TotalFetches returns the number of live fetches across all URLs.
func (d *Driver) TotalFetches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.fetches {
		total += n
	}
	return total
}

// Logins returns the number of Login calls.
func (d *Driver) Logins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logins
}

// Closes returns the number of Close calls.
func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// MockMailer is a testify mock of scraper.Mailer.
type MockMailer struct {
	mock.Mock
}

// Send is the mock implementation of the Send method.
func (m *MockMailer) Send(ctx context.Context, from string, to []string, subject, body string, attachments []string) error {
	args := m.Called(ctx, from, to, subject, body, attachments)
	return args.Error(0)
}

// MockConverter is a testify mock of scraper.Converter.
type MockConverter struct {
	mock.Mock
}

// Convert is the mock implementation of the Convert method.
func (m *MockConverter) Convert(ctx context.Context, srcPath, dstPath string) error {
	args := m.Called(ctx, srcPath, dstPath)
	return args.Error(0)
}

// MockMirror is a testify mock of scraper.Mirror.
type MockMirror struct {
	mock.Mock
}

// Upload is the mock implementation of the Upload method.
func (m *MockMirror) Upload(ctx context.Context, localPath string) (string, error) {
	args := m.Called(ctx, localPath)
	return args.String(0), args.Error(1)
}

// MockLedger is a testify mock of scraper.Ledger.
type MockLedger struct {
	mock.Mock
}

// Record is the mock implementation of the Record method.
func (m *MockLedger) Record(ctx context.Context, entry scraper.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// MockPublisher is a testify mock of scraper.Publisher.
type MockPublisher struct {
	mock.Mock
}

// Publish is the mock implementation of the Publish method.
func (m *MockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}
