// Package postgres provides the Postgres-backed vehicle record store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autoharvest/ria-scraper/internal/scraper"
)

// Config controls the connection pool backing the record store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RecordStore persists vehicle records keyed on URL. Upserts are atomic per
// row; concurrent writes to distinct URLs need no external locking.
type RecordStore struct {
	pool querier
}

// New connects a pool and returns a ready store.
func New(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Bootstrap creates the vehicles table and its unique URL index if needed.
func (s *RecordStore) Bootstrap(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS vehicles (
	id            BIGSERIAL PRIMARY KEY,
	url           TEXT NOT NULL UNIQUE,
	title         TEXT NOT NULL DEFAULT '',
	price_usd     INTEGER,
	odometer_km   INTEGER,
	seller_name   TEXT,
	phone_number  TEXT,
	image_url     TEXT,
	images_count  INTEGER NOT NULL DEFAULT 0,
	license_plate TEXT,
	vin           TEXT,
	scraped_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vehicles_vin ON vehicles(vin);
CREATE INDEX IF NOT EXISTS idx_vehicles_scraped_at ON vehicles(scraped_at);
`)
	if err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

// Upsert inserts the record or, when the URL already exists, replaces the
// prior row's mutable fields. scraped_at always reflects the most recent
// persistence.
func (s *RecordStore) Upsert(ctx context.Context, record scraper.VehicleRecord) error {
	query := `
INSERT INTO vehicles (
	url, title, price_usd, odometer_km, seller_name, phone_number,
	image_url, images_count, license_plate, vin, scraped_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (url) DO UPDATE SET
	title         = EXCLUDED.title,
	price_usd     = EXCLUDED.price_usd,
	odometer_km   = EXCLUDED.odometer_km,
	seller_name   = EXCLUDED.seller_name,
	phone_number  = EXCLUDED.phone_number,
	image_url     = EXCLUDED.image_url,
	images_count  = EXCLUDED.images_count,
	license_plate = EXCLUDED.license_plate,
	vin           = EXCLUDED.vin,
	scraped_at    = EXCLUDED.scraped_at
`
	_, err := s.pool.Exec(ctx, query,
		record.URL,
		record.Title,
		record.PriceUSD,
		record.OdometerKm,
		record.SellerName,
		record.PhoneNumber,
		record.ImageURL,
		record.ImagesCount,
		record.LicensePlate,
		record.VIN,
		record.ScrapedAt,
	)
	if err != nil {
		return &scraper.StoreError{URL: record.URL, Err: err}
	}
	return nil
}

// CountAll returns the number of persisted records.
func (s *RecordStore) CountAll(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vehicles`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vehicles: %w", err)
	}
	return count, nil
}

// CountWithPhone returns the number of records with a resolved phone number.
func (s *RecordStore) CountWithPhone(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vehicles WHERE phone_number IS NOT NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vehicles with phone: %w", err)
	}
	return count, nil
}

// Stats aggregates store-wide statistics for the ops surface.
func (s *RecordStore) Stats(ctx context.Context) (scraper.StoreStats, error) {
	var stats scraper.StoreStats
	err := s.pool.QueryRow(ctx, `
SELECT
	COUNT(*),
	COUNT(phone_number),
	COUNT(vin),
	COALESCE(AVG(price_usd), 0)::INT,
	COALESCE(MIN(price_usd), 0),
	COALESCE(MAX(price_usd), 0)
FROM vehicles
`).Scan(
		&stats.TotalRecords,
		&stats.WithPhone,
		&stats.WithVIN,
		&stats.AvgPriceUSD,
		&stats.MinPriceUSD,
		&stats.MaxPriceUSD,
	)
	if err != nil {
		return scraper.StoreStats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}
