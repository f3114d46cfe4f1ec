package scraper

import (
	"context"
	"net/http"
)

// Fetcher issues HTTP requests under the shared admission gate. Every stage
// that touches the network goes through the same Fetcher instance, so list,
// detail, and phone fetches share one concurrency budget.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	PostJSON(ctx context.Context, url string, body []byte, header http.Header) ([]byte, error)
}

// RecordStore persists vehicle records. Upsert must be atomic per row and
// safe to call concurrently for distinct URLs.
type RecordStore interface {
	Upsert(ctx context.Context, record VehicleRecord) error
	CountAll(ctx context.Context) (int, error)
	CountWithPhone(ctx context.Context) (int, error)
}
