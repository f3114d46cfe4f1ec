// Package scraper implements the scrape orchestration pipeline: paginated
// listing discovery, bounded-concurrency detail enrichment, and idempotent
// persistence of vehicle records.
package scraper

import (
	"time"
)

// VehicleRecord is the unit of persistence, keyed on URL.
// Nullable fields use pointers; a nil value means the field could not be
// extracted from the listing page or, for PhoneNumber, that the contact
// lookup failed.
type VehicleRecord struct {
	URL          string
	Title        string
	PriceUSD     *int
	OdometerKm   *int
	SellerName   *string
	PhoneNumber  *string
	ImageURL     *string
	ImagesCount  int
	LicensePlate *string
	VIN          *string
	ScrapedAt    time.Time
}

// Detail is the outcome of parsing one listing-detail page. The record is
// complete except for PhoneNumber, which is resolved in a separate,
// independently failable step using PopupPayload.
type Detail struct {
	Record VehicleRecord

	// PopupPayload is the raw actionData JSON embedded next to the page's
	// autoPhone button. It is the request body for the contact-popup
	// endpoint; empty when the page carries no phone button.
	PopupPayload []byte
}

// PageResult is one parsed index page.
type PageResult struct {
	URLs     []string
	LastPage bool
}

// RunState tracks the orchestrator's position in a single run.
type RunState string

// Run states, in order of transition.
const (
	StatePaginating RunState = "paginating"
	StateFanningOut RunState = "fanning_out"
	StateDraining   RunState = "draining"
	StateDone       RunState = "done"
)

// RunSummary is produced once per orchestrator invocation and returned to the
// external trigger. It is never persisted.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	PagesVisited   int           `json:"pages_visited"`
	URLsFound      int           `json:"urls_found"`
	RecordsSaved   int           `json:"records_saved"`
	DetailFailures int           `json:"detail_failures"`
	PhoneFailures  int           `json:"phone_failures"`
	SaveFailures   int           `json:"save_failures"`
	Canceled       bool          `json:"canceled"`
	Elapsed        time.Duration `json:"elapsed"`
}

// StoreStats aggregates persisted-record statistics for the ops surface.
type StoreStats struct {
	TotalRecords int `json:"total_records"`
	WithPhone    int `json:"with_phone"`
	WithVIN      int `json:"with_vin"`
	AvgPriceUSD  int `json:"avg_price_usd"`
	MinPriceUSD  int `json:"min_price_usd"`
	MaxPriceUSD  int `json:"max_price_usd"`
}
