package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testBaseURL   = "https://auto.example"
	testSearchURL = "https://auto.example/uk/car/used/"
)

func pageURL(page int) string {
	return fmt.Sprintf("%s?page=%d", testSearchURL, page)
}

func listingURL(i int) string {
	return fmt.Sprintf("%s/auto_test_%d.html", testBaseURL, i)
}

func detailHTML(title string, price int, withPopup bool) []byte {
	popup := ""
	if withPopup {
		popup = `,"buttons":[{"id":"autoPhone","actionData":{"autoId":42}}]`
	}
	return []byte(fmt.Sprintf(
		`<html><head><title>%s</title></head><body><h1 class="head">%s</h1>`+
			`<script>{"priceValue":%d%s}</script></body></html>`,
		title, title, price, popup))
}

// fakeStore is a mutex-guarded upsert target with per-URL failure injection.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]VehicleRecord
	failURLs map[string]bool
	upserts  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string]VehicleRecord),
		failURLs: make(map[string]bool),
	}
}

func (s *fakeStore) Upsert(_ context.Context, record VehicleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failURLs[record.URL] {
		return &StoreError{URL: record.URL, Err: fmt.Errorf("injected failure")}
	}
	s.records[record.URL] = record
	return nil
}

func (s *fakeStore) CountAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *fakeStore) CountWithPhone(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.records {
		if rec.PhoneNumber != nil {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) get(url string) (VehicleRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[url]
	return rec, ok
}

func newTestOrchestrator(t *testing.T, fetcher Fetcher, store RecordStore, maxPages int) *Orchestrator {
	t.Helper()
	index, err := NewListingIndexReader(fetcher, testBaseURL, testSearchURL, nil)
	require.NoError(t, err)
	return NewOrchestrator(
		index,
		NewDetailExtractor(),
		NewContactResolver(fetcher, testBaseURL, nil),
		fetcher,
		store,
		OrchestratorConfig{MaxPages: maxPages, DrainTimeout: 2 * time.Second},
		zap.NewNop(),
	)
}

func TestOrchestrator_PaginationStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = indexPageHTML("/auto_test_1.html", "/auto_test_2.html")
	fetcher.pages[pageURL(2)] = indexPageHTML("/auto_test_3.html")
	fetcher.pages[pageURL(3)] = indexPageHTML()
	for i := 1; i <= 3; i++ {
		fetcher.pages[listingURL(i)] = detailHTML(fmt.Sprintf("Car %d", i), 5000+i, false)
	}

	summary := newTestOrchestrator(t, fetcher, newFakeStore(), 10).RunOnce(context.Background())

	require.Equal(t, 3, summary.PagesVisited)
	require.Equal(t, 3, summary.URLsFound)
	for _, got := range fetcher.gets() {
		require.NotEqual(t, pageURL(4), got, "pagination must stop at the empty page")
	}
}

func TestOrchestrator_DeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	// auto_test_1 appears on both pages; it must be scheduled once.
	fetcher.pages[pageURL(1)] = indexPageHTML("/auto_test_1.html", "/auto_test_2.html")
	fetcher.pages[pageURL(2)] = indexPageHTML("/auto_test_1.html", "/auto_test_3.html")
	fetcher.pages[pageURL(3)] = indexPageHTML()
	for i := 1; i <= 3; i++ {
		fetcher.pages[listingURL(i)] = detailHTML(fmt.Sprintf("Car %d", i), 6000+i, false)
	}
	store := newFakeStore()

	summary := newTestOrchestrator(t, fetcher, store, 10).RunOnce(context.Background())

	require.Equal(t, 3, summary.URLsFound)
	require.Equal(t, 3, summary.RecordsSaved)

	detailFetches := 0
	for _, got := range fetcher.gets() {
		if got == listingURL(1) {
			detailFetches++
		}
	}
	require.Equal(t, 1, detailFetches)
}

func TestOrchestrator_TransientPageErrorKeepsPartialResults(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = indexPageHTML("/auto_test_1.html")
	fetcher.errs[pageURL(2)] = &FetchError{URL: pageURL(2), Transient: true}
	fetcher.pages[listingURL(1)] = detailHTML("Car 1", 7500, false)
	store := newFakeStore()

	summary := newTestOrchestrator(t, fetcher, store, 10).RunOnce(context.Background())

	require.Equal(t, 1, summary.PagesVisited)
	require.Equal(t, 1, summary.RecordsSaved)
	_, ok := store.get(listingURL(1))
	require.True(t, ok)
}

func TestOrchestrator_DetailFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	var hrefs []string
	for i := 1; i <= 10; i++ {
		hrefs = append(hrefs, fmt.Sprintf("/auto_test_%d.html", i))
		if i == 4 || i == 7 {
			// Removed listings: pages with no extractable content.
			fetcher.pages[listingURL(i)] = []byte("<html><body>видалено</body></html>")
			continue
		}
		fetcher.pages[listingURL(i)] = detailHTML(fmt.Sprintf("Car %d", i), 8000+i, false)
	}
	fetcher.pages[pageURL(1)] = indexPageHTML(hrefs...)
	fetcher.pages[pageURL(2)] = indexPageHTML()
	store := newFakeStore()

	summary := newTestOrchestrator(t, fetcher, store, 10).RunOnce(context.Background())

	require.Equal(t, 8, summary.RecordsSaved)
	require.Equal(t, 2, summary.DetailFailures)
	count, err := store.CountAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 8, count)
}

func TestOrchestrator_PhoneFailureNeverDropsRecords(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.postErr = &FetchError{URL: "popup", Transient: true}
	var hrefs []string
	for i := 1; i <= 5; i++ {
		hrefs = append(hrefs, fmt.Sprintf("/auto_test_%d.html", i))
		fetcher.pages[listingURL(i)] = detailHTML(fmt.Sprintf("Car %d", i), 9000+i, true)
	}
	fetcher.pages[pageURL(1)] = indexPageHTML(hrefs...)
	fetcher.pages[pageURL(2)] = indexPageHTML()
	store := newFakeStore()

	summary := newTestOrchestrator(t, fetcher, store, 10).RunOnce(context.Background())

	require.Equal(t, 5, summary.RecordsSaved)
	require.Equal(t, 5, summary.PhoneFailures)
	require.Zero(t, summary.DetailFailures)
	for i := 1; i <= 5; i++ {
		rec, ok := store.get(listingURL(i))
		require.True(t, ok)
		require.Nil(t, rec.PhoneNumber)
		require.NotEmpty(t, rec.Title)
	}
}

func TestOrchestrator_SaveFailureIsCountedNotFatal(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	var hrefs []string
	for i := 1; i <= 4; i++ {
		hrefs = append(hrefs, fmt.Sprintf("/auto_test_%d.html", i))
		fetcher.pages[listingURL(i)] = detailHTML(fmt.Sprintf("Car %d", i), 10000+i, false)
	}
	fetcher.pages[pageURL(1)] = indexPageHTML(hrefs...)
	fetcher.pages[pageURL(2)] = indexPageHTML()
	store := newFakeStore()
	store.failURLs[listingURL(2)] = true

	summary := newTestOrchestrator(t, fetcher, store, 10).RunOnce(context.Background())

	require.Equal(t, 3, summary.RecordsSaved)
	require.Equal(t, 1, summary.SaveFailures)
}

func TestOrchestrator_RepeatRunsAreIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	var hrefs []string
	for i := 1; i <= 3; i++ {
		hrefs = append(hrefs, fmt.Sprintf("/auto_test_%d.html", i))
		fetcher.pages[listingURL(i)] = detailHTML(fmt.Sprintf("Car %d", i), 11000+i, false)
	}
	fetcher.pages[pageURL(1)] = indexPageHTML(hrefs...)
	fetcher.pages[pageURL(2)] = indexPageHTML()
	store := newFakeStore()
	orch := newTestOrchestrator(t, fetcher, store, 10)

	first := orch.RunOnce(context.Background())
	second := orch.RunOnce(context.Background())

	require.Equal(t, 3, first.RecordsSaved)
	require.Equal(t, 3, second.RecordsSaved)
	count, err := store.CountAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, count, "re-scraping must replace rows, not duplicate them")
	require.Equal(t, 6, store.upserts)
}

func TestOrchestrator_ScrapedAtReflectsLatestRun(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = indexPageHTML("/auto_test_1.html")
	fetcher.pages[pageURL(2)] = indexPageHTML()
	fetcher.pages[listingURL(1)] = detailHTML("Car 1", 12000, false)
	store := newFakeStore()
	orch := newTestOrchestrator(t, fetcher, store, 10)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := t0
	var mu sync.Mutex
	orch.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	orch.RunOnce(context.Background())
	mu.Lock()
	current = t0.Add(24 * time.Hour)
	mu.Unlock()
	orch.RunOnce(context.Background())

	rec, ok := store.get(listingURL(1))
	require.True(t, ok)
	require.Equal(t, t0.Add(24*time.Hour), rec.ScrapedAt)
}

// gatedFetcher enforces an admission cap like the real fetcher and lets the
// test freeze admitted detail fetches until it releases them.
type gatedFetcher struct {
	inner   *fakeFetcher
	gate    chan struct{}
	started chan string
	proceed chan struct{}
}

func newGatedFetcher(inner *fakeFetcher, capacity int) *gatedFetcher {
	return &gatedFetcher{
		inner:   inner,
		gate:    make(chan struct{}, capacity),
		started: make(chan string, 64),
		proceed: make(chan struct{}),
	}
}

func (g *gatedFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	if strings.Contains(url, "?page=") {
		return g.inner.Get(ctx, url)
	}
	select {
	case g.gate <- struct{}{}:
		if ctx.Err() != nil {
			<-g.gate
			return nil, ctx.Err()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-g.gate }()
	g.started <- url
	<-g.proceed
	return g.inner.Get(ctx, url)
}

func (g *gatedFetcher) PostJSON(ctx context.Context, url string, body []byte, header http.Header) ([]byte, error) {
	return g.inner.PostJSON(ctx, url, body, header)
}

func TestOrchestrator_CancellationDrainsAdmittedTasksOnly(t *testing.T) {
	t.Parallel()

	inner := newFakeFetcher()
	var hrefs []string
	for i := 1; i <= 10; i++ {
		hrefs = append(hrefs, fmt.Sprintf("/auto_test_%d.html", i))
		inner.pages[listingURL(i)] = detailHTML(fmt.Sprintf("Car %d", i), 13000+i, false)
	}
	inner.pages[pageURL(1)] = indexPageHTML(hrefs...)
	inner.pages[pageURL(2)] = indexPageHTML()

	const admitted = 4
	fetcher := newGatedFetcher(inner, admitted)
	store := newFakeStore()
	orch := newTestOrchestrator(t, fetcher, store, 10)

	ctx, cancel := context.WithCancel(context.Background())
	summaryCh := make(chan RunSummary, 1)
	go func() {
		summaryCh <- orch.RunOnce(ctx)
	}()

	// Wait until exactly `admitted` detail tasks hold gate slots.
	for i := 0; i < admitted; i++ {
		select {
		case <-fetcher.started:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks to be admitted")
		}
	}
	cancel()
	close(fetcher.proceed)

	var summary RunSummary
	select {
	case summary = <-summaryCh:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}

	require.True(t, summary.Canceled)
	require.Equal(t, admitted, summary.RecordsSaved)
	require.Zero(t, summary.DetailFailures)
	count, err := store.CountAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, admitted, count, "only admitted tasks may persist records")
}
