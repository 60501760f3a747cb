package scraper

import (
	"sort"
	"time"
)

// Credentials identify the storefront account a session logs in as.
type Credentials struct {
	User     string
	Password string
}

// Page is the rendered content returned by a SessionDriver.
type Page struct {
	// RequestedURL is the URL passed to Fetch.
	RequestedURL string
	// FinalURL is where the driver ended up after redirects.
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Outcome is the terminal state of processing one record.
type Outcome int

// Record processing outcomes.
const (
	OutcomeCreated Outcome = iota + 1
	OutcomeSkippedExisting
	OutcomeSkippedIncomplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeSkippedExisting:
		return "skipped_existing"
	case OutcomeSkippedIncomplete:
		return "skipped_incomplete"
	default:
		return "unknown"
	}
}

// RecordSet holds distinct record identifiers discovered on listing pages.
type RecordSet map[string]struct{}

// NewRecordSet returns an empty set.
func NewRecordSet() RecordSet {
	return make(RecordSet)
}

// Add inserts id and reports whether it was new.
func (s RecordSet) Add(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Contains reports whether id is in the set.
func (s RecordSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the identifiers in lexical order.
func (s RecordSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Artifact describes a document produced for one record.
type Artifact struct {
	RecordID  string
	OrderDate string
	Path      string
	CreatedAt time.Time
}

// ArtifactEvent is published when a new artifact lands in the output directory.
type ArtifactEvent struct {
	RunID     string    `json:"run_id"`
	RecordID  string    `json:"record_id"`
	OrderDate string    `json:"order_date"`
	Path      string    `json:"path"`
	MirrorURI string    `json:"mirror_uri,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is the row written to the record ledger for a new artifact.
type LedgerEntry struct {
	RunID     string
	RecordID  string
	OrderDate string
	Path      string
	MirrorURI string
	CreatedAt time.Time
}
