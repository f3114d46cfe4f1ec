package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// FetcherConfig controls the shared fetch budget.
type FetcherConfig struct {
	UserAgent      string
	AcceptLanguage string
	MaxConcurrent  int
	Delay          time.Duration
	Timeout        time.Duration
}

// RateLimitedFetcher issues HTTP requests through Colly under a global
// admission gate. At most MaxConcurrent requests are in flight at any
// instant, and successive request starts are spaced at least Delay apart
// regardless of which stage issues them.
//
// The fetcher never retries: throttling (429) and network failures surface
// as *FetchError and retry policy belongs to the caller.
type RateLimitedFetcher struct {
	cfg     FetcherConfig
	gate    chan struct{}
	spacing *rate.Limiter
	base    *colly.Collector
}

// NewFetcher builds a RateLimitedFetcher. MaxConcurrent must be positive.
func NewFetcher(cfg FetcherConfig) (*RateLimitedFetcher, error) {
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent requests must be > 0, got %d", cfg.MaxConcurrent)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "uk-UA,uk;q=0.9,en-US;q=0.8,en;q=0.7"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	spacing := rate.NewLimiter(rate.Inf, 1)
	if cfg.Delay > 0 {
		spacing = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}
	// Revisits are the norm here: every run re-fetches the same listing URLs.
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	return &RateLimitedFetcher{
		cfg:     cfg,
		gate:    make(chan struct{}, cfg.MaxConcurrent),
		spacing: spacing,
		base:    c,
	}, nil
}

// Get fetches url and returns the response body.
func (f *RateLimitedFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	return f.do(ctx, http.MethodGet, url, nil, nil)
}

// PostJSON posts body to url with the given extra headers and returns the
// response body. Used for the contact-popup endpoint.
func (f *RateLimitedFetcher) PostJSON(ctx context.Context, url string, body []byte, header http.Header) ([]byte, error) {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	return f.do(ctx, http.MethodPost, url, body, header)
}

// do admits the request through the gate, enforces start spacing, and runs
// the request on a cloned collector. Admission honors ctx cancellation, but
// once a request is admitted it runs to completion bounded only by the
// configured timeout, so cancellation drains gracefully instead of dropping
// half-finished work.
func (f *RateLimitedFetcher) do(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	select {
	case f.gate <- struct{}{}:
		// The select can win the slot even when ctx died first.
		if ctx.Err() != nil {
			<-f.gate
			return nil, ctx.Err()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-f.gate }()

	observeFetchAdmitted()
	defer observeFetchDone()

	if err := f.spacing.Wait(ctx); err != nil {
		return nil, err
	}

	collector := f.base.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		respBody   []byte
		fetchErr   error
		statusCode int
	)
	collector.OnRequest(func(r *colly.Request) {
		if r.Headers.Get("Accept") == "" {
			r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		}
		if r.Headers.Get("Accept-Language") == "" {
			r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		}
		for key, values := range header {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		respBody = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	var visitErr error
	if method == http.MethodGet {
		visitErr = collector.Visit(url)
	} else {
		visitErr = collector.Request(method, url, reqBody, nil, header)
	}
	collector.Wait()

	if fetchErr == nil {
		fetchErr = visitErr
	}
	if fetchErr != nil {
		return nil, &FetchError{
			URL:        url,
			StatusCode: statusCode,
			Transient:  classifyTransient(fetchErr, statusCode),
			Err:        fetchErr,
		}
	}
	return respBody, nil
}

// classifyTransient maps a failed request to the retryability taxonomy:
// throttling, server errors, and network-level failures are transient;
// structural HTTP failures (404, 403, ...) are permanent.
func classifyTransient(err error, status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	case status > 0:
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	// No HTTP status at all: connection-level failure, worth retrying.
	return true
}
