package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autoharvest/ria-scraper/internal/scraper"
)

func record(url string, price *int, phone *string) scraper.VehicleRecord {
	return scraper.VehicleRecord{
		URL:         url,
		Title:       "Ford Fusion 2019",
		PriceUSD:    price,
		PhoneNumber: phone,
		ScrapedAt:   time.Now().UTC(),
	}
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestRecordStore_UpsertReplacesByURL(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, record("https://auto.example/a.html", intPtr(5000), nil)))
	require.NoError(t, store.Upsert(ctx, record("https://auto.example/a.html", intPtr(4800), strPtr("380631234567"))))
	require.NoError(t, store.Upsert(ctx, record("https://auto.example/b.html", nil, nil)))

	total, err := store.CountAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, total)

	got, ok := store.Get("https://auto.example/a.html")
	require.True(t, ok)
	require.Equal(t, 4800, *got.PriceUSD)
	require.Equal(t, "380631234567", *got.PhoneNumber)
}

func TestRecordStore_CountWithPhone(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, record("https://auto.example/a.html", nil, strPtr("380671112233"))))
	require.NoError(t, store.Upsert(ctx, record("https://auto.example/b.html", nil, nil)))
	require.NoError(t, store.Upsert(ctx, record("https://auto.example/c.html", nil, strPtr("380997654321"))))

	withPhone, err := store.CountWithPhone(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, withPhone)
}

func TestRecordStore_Stats(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	vin := "WF0UXXGBBU5K12345"
	recA := record("https://auto.example/a.html", intPtr(4000), strPtr("380631234567"))
	recA.VIN = &vin
	require.NoError(t, store.Upsert(ctx, recA))
	require.NoError(t, store.Upsert(ctx, record("https://auto.example/b.html", intPtr(8000), nil)))
	require.NoError(t, store.Upsert(ctx, record("https://auto.example/c.html", nil, nil)))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, scraper.StoreStats{
		TotalRecords: 3,
		WithPhone:    1,
		WithVIN:      1,
		AvgPriceUSD:  6000,
		MinPriceUSD:  4000,
		MaxPriceUSD:  8000,
	}, stats)
}

func TestRecordStore_ConcurrentUpserts(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			url := fmt.Sprintf("https://auto.example/auto_%d.html", n)
			_ = store.Upsert(ctx, record(url, intPtr(1000+n), nil))
		}(i)
	}
	wg.Wait()

	total, err := store.CountAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, total)
}
