// Package memory provides an in-memory record store for tests and
// database-less dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/autoharvest/ria-scraper/internal/scraper"
)

// RecordStore is a mutex-guarded map keyed on URL with the same upsert
// semantics as the Postgres store.
type RecordStore struct {
	mu      sync.Mutex
	records map[string]scraper.VehicleRecord
}

// NewRecordStore creates an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]scraper.VehicleRecord)}
}

// Upsert inserts or replaces the record for its URL.
func (s *RecordStore) Upsert(_ context.Context, record scraper.VehicleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.URL] = record
	return nil
}

// CountAll returns the number of stored records.
func (s *RecordStore) CountAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

// CountWithPhone returns the number of records with a phone number.
func (s *RecordStore) CountWithPhone(_ context.Context) (int, error) {
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

// Stats aggregates statistics over the stored records.
func (s *RecordStore) Stats(_ context.Context) (scraper.StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats scraper.StoreStats
	stats.TotalRecords = len(s.records)
	priced := 0
	sum := 0
	for _, rec := range s.records {
		if rec.PhoneNumber != nil {
			stats.WithPhone++
		}
		if rec.VIN != nil {
			stats.WithVIN++
		}
		if rec.PriceUSD == nil {
			continue
		}
		price := *rec.PriceUSD
		sum += price
		priced++
		if stats.MinPriceUSD == 0 || price < stats.MinPriceUSD {
			stats.MinPriceUSD = price
		}
		if price > stats.MaxPriceUSD {
			stats.MaxPriceUSD = price
		}
	}
	if priced > 0 {
		stats.AvgPriceUSD = sum / priced
	}
	return stats, nil
}

// Get returns the record for url, if present.
func (s *RecordStore) Get(url string) (scraper.VehicleRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[url]
	return rec, ok
}

// Close is a no-op; it exists so the memory store satisfies the same
// teardown surface as the Postgres store.
func (s *RecordStore) Close() {}
