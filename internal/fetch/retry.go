package fetch

import (
	"crypto/rand"
	"math"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/orderscraper/internal/scraper"
)

// RetryPolicy bounds session re-establishment when a fetch lands somewhere
// other than the page that was asked for.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// DefaultMaxReauthAttempts is used when the configured bound is not positive.
const DefaultMaxReauthAttempts = 3

// NewRetryPolicy builds a policy allowing maxAttempts re-authentications.
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReauthAttempts
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    10 * time.Second,
	}
}

// MaxAttempts returns the re-authentication bound.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldReauth reports whether page ended up on a different location than
// requested, which the storefront does when it wants the user to sign in again.
// Only scheme-insensitive host and path are compared; query order and
// fragments are ignored.
func (p *RetryPolicy) ShouldReauth(requested string, page scraper.Page) bool {
	if page.FinalURL == "" {
		return false
	}
	want, err := locationKey(requested)
	if err != nil {
		return false
	}
	got, err := locationKey(page.FinalURL)
	if err != nil {
		return true
	}
	return want != got
}

// Backoff returns the wait before re-authentication attempt n (zero based).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay/2) + randomDuration(time.Duration(delay)/2)
}

// NormalizeURL lowercases the scheme and host, removes default ports and the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := normalize(rawURL)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func normalize(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err //nolint:wrapcheck // url.Error already names the input
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u, nil
}

func locationKey(rawURL string) (string, error) {
	u, err := normalize(rawURL)
	if err != nil {
		return "", err
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return u.Host + p, nil
}

// randomDuration returns a uniformly random duration in [0, limit).
func randomDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
