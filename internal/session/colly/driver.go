// Package collysession implements scraper.SessionDriver with a gocolly collector
// and a cookie jar shared across requests.
package collysession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/scraper"
	"github.com/JakeFAU/orderscraper/internal/session"
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

const (
	defaultTimeout = 30 * time.Second
	maxSignInSteps = 3
)

// Config controls the collector and the sign-in flow.
type Config struct {
	BaseURL string
	// SignInPath is visited to obtain the sign-in form.
	SignInPath string
	// SignInPrefix is the path prefix that means "still on the sign-in page".
	SignInPrefix string
	UserAgent    string
	Timeout      time.Duration
}

// Driver is an HTTP session against the storefront.
type Driver struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Driver.
func New(cfg Config, logger *zap.Logger) (*Driver, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	if cfg.SignInPrefix == "" {
		cfg.SignInPrefix = session.DefaultSignInPrefix
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Driver{cfg: cfg, base: c, logger: logger}, nil
}

// Login submits the sign-in form, following an intermediate "Continue" step
// when the storefront asks for the email first.
func (d *Driver) Login(ctx context.Context, creds scraper.Credentials) error {
	page, err := d.do(ctx, http.MethodGet, session.SignInURL(d.cfg.BaseURL, d.cfg.SignInPath), nil)
	if err != nil {
		return &scraper.AuthError{User: creds.User, Reason: "load sign-in page", Err: err}
	}

	submittedPassword := false
	for step := 0; step < maxSignInSteps && !submittedPassword; step++ {
		form, err := parseLoginForm(page.FinalURL, page.Body)
		if err != nil {
			return &scraper.AuthError{User: creds.User, Err: err}
		}
		if form.hasEmail {
			form.fields["email"] = creds.User
		}
		if form.hasPassword {
			form.fields["password"] = creds.Password
			submittedPassword = true
		} else {
			d.logger.Debug("sign-in form asks for email only, continuing")
		}
		page, err = d.do(ctx, http.MethodPost, form.action, form.fields)
		if err != nil {
			return &scraper.AuthError{User: creds.User, Reason: "submit sign-in form", Err: err}
		}
	}
	if !submittedPassword {
		return &scraper.AuthError{User: creds.User, Reason: "password field never offered"}
	}
	if session.OnSignInPage(page.FinalURL, d.cfg.SignInPrefix) {
		reason := session.SignInFailure(page.Body)
		if reason == "" {
			reason = "still on sign-in page"
		}
		return &scraper.AuthError{User: creds.User, Reason: reason}
	}
	d.logger.Info("signed in", zap.String("user", creds.User))
	return nil
}

// Fetch GETs url with the session cookies.
func (d *Driver) Fetch(ctx context.Context, url string) (scraper.Page, error) {
	return d.do(ctx, http.MethodGet, url, nil)
}

// Close drops the session cookies.
func (d *Driver) Close() error {
	d.base.SetCookieJar(nil)
	return nil
}

func (d *Driver) do(ctx context.Context, method, target string, form map[string]string) (scraper.Page, error) {
	if err := ctx.Err(); err != nil {
		return scraper.Page{}, fmt.Errorf("colly %s canceled: %w", strings.ToLower(method), err)
	}
	var (
		page     scraper.Page
		fetchErr error
	)
	collector := d.base.Clone()
	configureHooks(collector, target, &page, &fetchErr)

	done := make(chan error, 1)
	go func() {
		if method == http.MethodPost {
			done <- collector.Post(target, form)
			return
		}
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return scraper.Page{}, fmt.Errorf("colly %s canceled: %w", strings.ToLower(method), ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return scraper.Page{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if err != nil {
			return scraper.Page{}, fmt.Errorf("colly %s %s: %w", method, target, err)
		}
		return page, nil
	}
}

func configureHooks(hooks collectorHooks, requested string, page *scraper.Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*page = scraper.Page{
			RequestedURL: requested,
			FinalURL:     r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			Body:         append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
