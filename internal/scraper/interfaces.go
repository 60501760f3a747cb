package scraper

import (
	"context"
	"time"
)

// SessionDriver logs in to the storefront and fetches rendered pages with the
// resulting authenticated session.
type SessionDriver interface {
	Login(ctx context.Context, creds Credentials) error
	Fetch(ctx context.Context, url string) (Page, error)
	Close() error
}

// Cache is a passive key-value store for fetched page content.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, content []byte, ttl time.Duration) error
}

// Converter turns a raw page on disk into a durable document.
type Converter interface {
	Convert(ctx context.Context, srcPath, dstPath string) error
}

// Mailer sends a message with file attachments.
type Mailer interface {
	Send(ctx context.Context, from string, to []string, subject, body string, attachments []string) error
}

// Mirror copies a produced artifact to secondary storage and returns its URI.
type Mirror interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Publisher pushes artifact notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Ledger records archived artifacts in a queryable index.
type Ledger interface {
	Record(ctx context.Context, entry LedgerEntry) error
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
