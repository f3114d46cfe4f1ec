package scraper

import (
	"errors"
	"fmt"
)

// FetchError is surfaced by the Fetcher for network and HTTP-status failures.
// Transient marks failures that are likely to succeed on retry (timeouts,
// connection resets, 429/5xx); the Fetcher itself never retries.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s failure (status %d): %v", e.URL, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s failure: %v", e.URL, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports that a page's structure did not match expectations,
// typically a removed or expired listing.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

// StoreError wraps a persistence-layer rejection of a single record.
type StoreError struct {
	URL string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.URL, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransientFetch reports whether err is a FetchError marked transient.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}
