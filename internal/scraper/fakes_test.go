package scraper

import (
	"context"
	"net/http"
	"sync"
)

type postCall struct {
	url    string
	body   []byte
	header http.Header
}

// fakeFetcher serves canned bodies per URL and records calls. Safe for
// concurrent use so orchestrator fan-out tests can share it.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string][]byte
	errs     map[string]error
	getCalls []string

	postResponse []byte
	postErr      error
	postCalls    []postCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string][]byte),
		errs:  make(map[string]error),
	}
}

func (f *fakeFetcher) Get(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls = append(f.getCalls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if body, ok := f.pages[url]; ok {
		return body, nil
	}
	return nil, &FetchError{URL: url, StatusCode: http.StatusNotFound, Err: http.ErrMissingFile}
}

func (f *fakeFetcher) PostJSON(_ context.Context, url string, body []byte, header http.Header) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls = append(f.postCalls, postCall{url: url, body: body, header: header})
	if f.postErr != nil {
		return nil, f.postErr
	}
	return f.postResponse, nil
}

func (f *fakeFetcher) gets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.getCalls...)
}
