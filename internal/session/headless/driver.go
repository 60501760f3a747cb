// Package headless implements scraper.SessionDriver with a single Chrome tab
// driven over the DevTools protocol. The tab lives for the whole session so
// the browser keeps the sign-in cookies.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/scraper"
	"github.com/JakeFAU/orderscraper/internal/session"
)

// Sign-in form selectors.
const (
	EmailSelector    = "#ap_email"
	ContinueSelector = "#continue"
	PasswordSelector = "#ap_password"
	SubmitSelector   = "#signInSubmit"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultReloadPause       = time.Second
)

// Config controls the browser and navigation behavior.
type Config struct {
	BaseURL      string
	SignInPath   string
	SignInPrefix string
	UserAgent    string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	// Headful shows the browser window.
	Headful           bool
	NavigationTimeout time.Duration
	// DoubleLoad navigates to every page twice; the second render is the one kept.
	DoubleLoad  bool
	ReloadPause time.Duration
	// NoSandbox disables the Chrome sandbox, needed when running as root in a container.
	NoSandbox bool
}

// Driver is a browser session against the storefront.
type Driver struct {
	cfg    Config
	logger *zap.Logger

	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	meta        *responseMeta

	startOnce sync.Once
	started   chan struct{}
	startErr  error

	mu        sync.Mutex
	closeOnce sync.Once
}

// New prepares the allocator and tab. Chrome is launched by the first Login
// or Fetch and lives until Close.
func New(cfg Config, logger *zap.Logger) (*Driver, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	meta := newResponseMeta()
	chromedp.ListenTarget(tab, meta.captureEvent)

	return &Driver{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
		meta:        meta,
		started:     make(chan struct{}),
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.SignInPrefix == "" {
		cfg.SignInPrefix = session.DefaultSignInPrefix
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ReloadPause <= 0 {
		cfg.ReloadPause = defaultReloadPause
	}
	return cfg
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Login walks the sign-in form: email, an optional Continue step, then password.
func (d *Driver) Login(ctx context.Context, creds scraper.Credentials) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.start(ctx); err != nil {
		return err
	}
	runCtx, cancel := d.runContext(ctx)
	defer cancel()

	err := chromedp.Run(runCtx,
		d.networkSetupAction(),
		chromedp.Navigate(session.SignInURL(d.cfg.BaseURL, d.cfg.SignInPath)),
		chromedp.WaitVisible(EmailSelector, chromedp.ByQuery),
		chromedp.Clear(EmailSelector, chromedp.ByQuery),
		chromedp.SendKeys(EmailSelector, creds.User, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("headless sign-in: %w", err)
	}

	var split []*cdp.Node
	if err := chromedp.Run(runCtx, chromedp.Nodes(ContinueSelector, &split, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return fmt.Errorf("headless sign-in: look up continue button: %w", err)
	}
	if len(split) > 0 {
		if _, err := chromedp.RunResponse(runCtx, chromedp.Click(ContinueSelector, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("headless sign-in: continue: %w", err)
		}
	}

	err = chromedp.Run(runCtx,
		chromedp.WaitVisible(PasswordSelector, chromedp.ByQuery),
		chromedp.Clear(PasswordSelector, chromedp.ByQuery),
		chromedp.SendKeys(PasswordSelector, creds.Password, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("headless sign-in: %w", err)
	}
	if _, err := chromedp.RunResponse(runCtx, chromedp.Click(SubmitSelector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("headless sign-in: submit: %w", err)
	}

	var finalURL string
	if err := chromedp.Run(runCtx, chromedp.WaitReady("body", chromedp.ByQuery), chromedp.Location(&finalURL)); err != nil {
		return fmt.Errorf("headless sign-in: %w", err)
	}
	if !session.OnSignInPage(finalURL, d.cfg.SignInPrefix) {
		d.logger.Info("signed in", zap.String("final_url", finalURL))
		return nil
	}

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return &scraper.AuthError{User: creds.User, Reason: "still on sign-in page", Err: err}
	}
	reason := session.SignInFailure([]byte(html))
	if reason == "" {
		reason = "still on sign-in page"
	}
	return &scraper.AuthError{User: creds.User, Reason: reason}
}

// Fetch navigates the tab to url and returns the rendered DOM.
func (d *Driver) Fetch(ctx context.Context, url string) (scraper.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.start(ctx); err != nil {
		return scraper.Page{}, err
	}
	runCtx, cancel := d.runContext(ctx)
	defer cancel()

	d.meta.reset()
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		d.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if d.cfg.DoubleLoad {
		actions = append(actions,
			chromedp.Sleep(d.cfg.ReloadPause),
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return scraper.Page{}, fmt.Errorf("chromedp run %s: %w", url, err)
	}

	status, responseURL := d.meta.snapshotWithFallbacks(url, finalURL)
	if finalURL == "" {
		finalURL = responseURL
	}
	return scraper.Page{
		RequestedURL: url,
		FinalURL:     finalURL,
		StatusCode:   status,
		Body:         []byte(html),
	}, nil
}

// Close shuts down the tab and the browser.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.tabCancel()
		d.allocCancel()
	})
	return nil
}

// start launches Chrome and opens the tab once. The first Run on a chromedp
// context owns the browser process, so it must not carry a deadline; ctx and
// the navigation timeout only bound the wait.
func (d *Driver) start(ctx context.Context) error {
	d.startOnce.Do(func() {
		go func() {
			d.startErr = chromedp.Run(d.tab)
			close(d.started)
		}()
	})

	timer := time.NewTimer(d.cfg.NavigationTimeout)
	defer timer.Stop()
	select {
	case <-d.started:
		if d.startErr != nil {
			return fmt.Errorf("start browser: %w", d.startErr)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("start browser: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("start browser: timed out after %s", d.cfg.NavigationTimeout)
	}
}

// runContext derives a bounded context on the session tab that also stops
// when the caller's ctx does.
func (d *Driver) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(d.tab, d.cfg.NavigationTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (d *Driver) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if d.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(d.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// responseMeta records the status of the last document response seen on the tab.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
