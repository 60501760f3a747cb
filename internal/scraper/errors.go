package scraper

import (
	"errors"
	"fmt"
)

// ErrSessionLost is returned once the session keeps bouncing to the sign-in
// page after the bounded number of re-authentications.
var ErrSessionLost = errors.New("session lost: re-authentication attempts exhausted")

// AuthError reports rejected credentials or an unexpected sign-in redirect.
type AuthError struct {
	User   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("login failed for %s", e.User)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// DiscoveryError reports a listing page that could not be fetched or parsed.
type DiscoveryError struct {
	Year int
	URL  string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover records for %d at %s: %v", e.Year, e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ParseError reports a record page whose order date could not be extracted.
type ParseError struct {
	RecordID string
	Snippet  string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse record %s (near %q): %v", e.RecordID, e.Snippet, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConversionError reports a converter failure for one record.
type ConversionError struct {
	RecordID string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert record %s: %v", e.RecordID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// DeliveryError reports a failed hand-off of an already created artifact.
type DeliveryError struct {
	RecordID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver record %s: %v", e.RecordID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the whole run rather than a single record.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	var discErr *DiscoveryError
	switch {
	case errors.As(err, &authErr), errors.As(err, &discErr):
		return true
	case errors.Is(err, ErrSessionLost):
		return true
	}
	return false
}
