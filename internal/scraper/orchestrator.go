package scraper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrchestratorConfig bounds a single pipeline run. The values are immutable
// for the duration of the run.
type OrchestratorConfig struct {
	MaxPages int
	// DrainTimeout caps how long a canceled run waits for already-admitted
	// tasks to finish before returning a partial summary.
	DrainTimeout time.Duration
}

// Orchestrator drives one full pipeline run: paginate the listing index,
// fan detail-plus-phone tasks out under the fetcher's shared admission gate,
// upsert each completed record, and aggregate a RunSummary.
type Orchestrator struct {
	index    *ListingIndexReader
	details  *DetailExtractor
	contacts *ContactResolver
	fetcher  Fetcher
	store    RecordStore
	cfg      OrchestratorConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(
	index *ListingIndexReader,
	details *DetailExtractor,
	contacts *ContactResolver,
	fetcher Fetcher,
	store RecordStore,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		index:    index,
		details:  details,
		contacts: contacts,
		fetcher:  fetcher,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// runCounters collects cross-task tallies. Tasks finish in arbitrary order,
// so every update goes through the mutex.
type runCounters struct {
	mu             sync.Mutex
	recordsSaved   int
	detailFailures int
	phoneFailures  int
	saveFailures   int
}

func (c *runCounters) add(field *int) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// RunOnce executes the full pipeline and returns its summary. Errors at the
// per-page and per-URL level are contained and counted; the only way to end
// a run early is cancellation of ctx, which stops admitting new work and
// drains what is already in flight.
func (o *Orchestrator) RunOnce(ctx context.Context) RunSummary {
	start := o.now()
	summary := RunSummary{RunID: uuid.NewString()}
	log := o.logger.With(zap.String("run_id", summary.RunID))
	log.Info("run starting", zap.Int("max_pages", o.cfg.MaxPages))

	urls := o.paginate(ctx, log, &summary)

	log.Info("run state change",
		zap.String("state", string(StateFanningOut)),
		zap.Int("urls", len(urls)),
	)
	counters := &runCounters{}
	var wg sync.WaitGroup
	for _, listingURL := range urls {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			o.processListing(ctx, log, u, counters)
		}(listingURL)
	}

	log.Debug("run state change", zap.String("state", string(StateDraining)))
	o.drain(ctx, &wg)

	counters.mu.Lock()
	summary.RecordsSaved = counters.recordsSaved
	summary.DetailFailures = counters.detailFailures
	summary.PhoneFailures = counters.phoneFailures
	summary.SaveFailures = counters.saveFailures
	counters.mu.Unlock()
	summary.Canceled = ctx.Err() != nil
	summary.Elapsed = o.now().Sub(start)
	observeRun(summary, summary.Elapsed)

	log.Info("run finished",
		zap.String("state", string(StateDone)),
		zap.Int("pages_visited", summary.PagesVisited),
		zap.Int("urls_found", summary.URLsFound),
		zap.Int("records_saved", summary.RecordsSaved),
		zap.Int("detail_failures", summary.DetailFailures),
		zap.Int("phone_failures", summary.PhoneFailures),
		zap.Int("save_failures", summary.SaveFailures),
		zap.Bool("canceled", summary.Canceled),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary
}

// paginate reads index pages strictly in increasing order, accumulating a
// deduplicated URL set. Any page error ends pagination fail-soft: the URLs
// collected so far still feed the fan-out.
func (o *Orchestrator) paginate(ctx context.Context, log *zap.Logger, summary *RunSummary) []string {
	log.Debug("run state change", zap.String("state", string(StatePaginating)))
	seen := make(map[string]struct{})
	var urls []string
	for page := 1; page <= o.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		result, err := o.index.ReadPage(ctx, page)
		if err != nil {
			log.Warn("index page failed, ending pagination", zap.Int("page", page), zap.Error(err))
			break
		}
		summary.PagesVisited++
		fresh := 0
		for _, u := range result.URLs {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
			fresh++
		}
		summary.URLsFound += fresh
		log.Debug("index page done", zap.Int("page", page), zap.Int("new_urls", fresh))
		if fresh == 0 {
			break
		}
	}
	return urls
}

// processListing runs one detail-plus-phone task. Admission happens inside
// the fetcher's gate; a task whose first fetch was refused because the run
// was canceled simply never started and leaves no trace in the counters.
func (o *Orchestrator) processListing(ctx context.Context, log *zap.Logger, listingURL string, counters *runCounters) {
	body, err := o.fetcher.Get(ctx, listingURL)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		log.Warn("detail fetch failed", zap.String("url", listingURL), zap.Error(err))
		counters.add(&counters.detailFailures)
		return
	}

	detail, err := o.details.Extract(body, listingURL)
	if err != nil {
		log.Warn("detail extract failed", zap.String("url", listingURL), zap.Error(err))
		counters.add(&counters.detailFailures)
		return
	}

	record := detail.Record
	if phone := o.contacts.ResolvePhone(ctx, listingURL, detail.PopupPayload); phone != nil {
		record.PhoneNumber = phone
	} else {
		counters.add(&counters.phoneFailures)
	}

	record.ScrapedAt = o.now().UTC()
	// A task that made it this far persists its record even if the run was
	// canceled meanwhile.
	if err := o.store.Upsert(context.WithoutCancel(ctx), record); err != nil {
		log.Error("upsert failed", zap.String("url", listingURL), zap.Error(err))
		counters.add(&counters.saveFailures)
		return
	}
	counters.add(&counters.recordsSaved)
}

// drain waits for in-flight tasks. On a live context it waits indefinitely;
// once canceled, the wait is bounded by DrainTimeout.
func (o *Orchestrator) drain(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	timer := time.NewTimer(o.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		o.logger.Warn("drain timeout expired with tasks still in flight")
	}
}
