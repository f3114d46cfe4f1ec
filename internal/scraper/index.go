package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// ListingIndexReader turns paginated search-result pages into detail-page
// URLs. Pagination correctness depends on pages being read strictly in
// increasing order, which the orchestrator guarantees.
type ListingIndexReader struct {
	fetcher   Fetcher
	baseURL   *url.URL
	searchURL string
	logger    *zap.Logger
}

// NewListingIndexReader builds a reader for the given search URL. Relative
// listing hrefs are resolved against baseURL.
func NewListingIndexReader(fetcher Fetcher, baseURL, searchURL string, logger *zap.Logger) (*ListingIndexReader, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingIndexReader{
		fetcher:   fetcher,
		baseURL:   base,
		searchURL: searchURL,
		logger:    logger,
	}, nil
}

// ReadPage fetches and parses one index page. A page with no listings marks
// the end of pagination.
func (r *ListingIndexReader) ReadPage(ctx context.Context, page int) (PageResult, error) {
	pageURL := fmt.Sprintf("%s?page=%d", r.searchURL, page)
	body, err := r.fetcher.Get(ctx, pageURL)
	if err != nil {
		return PageResult{}, fmt.Errorf("read index page %d: %w", page, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageResult{}, &ParseError{URL: pageURL, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	var urls []string
	doc.Find("section.ticket-item a.m-link-ticket").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved := r.resolve(href)
		if resolved == "" {
			return
		}
		urls = append(urls, resolved)
	})

	r.logger.Debug("index page parsed",
		zap.Int("page", page),
		zap.Int("listings", len(urls)),
	)
	return PageResult{URLs: urls, LastPage: len(urls) == 0}, nil
}

// resolve joins a possibly relative listing href to the base URL and strips
// fragments so the same listing always normalizes to one key.
func (r *ListingIndexReader) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := r.baseURL.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String()
}
