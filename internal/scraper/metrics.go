package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesVisitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_pages_visited_total",
		Help: "Total number of listing index pages fetched.",
	})

	recordsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_records_saved_total",
		Help: "Total number of vehicle records upserted.",
	})

	taskFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_task_failures_total",
		Help: "Total per-URL failures, labeled by stage (detail, phone, save).",
	}, []string{"stage"})

	fetchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_fetch_in_flight",
		Help: "Number of HTTP fetches currently admitted through the gate.",
	})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_run_duration_seconds",
		Help:    "Histogram of full pipeline run durations.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

func observeFetchAdmitted() { fetchInFlight.Inc() }
func observeFetchDone()     { fetchInFlight.Dec() }

func observeRun(summary RunSummary, elapsed time.Duration) {
	pagesVisitedTotal.Add(float64(summary.PagesVisited))
	recordsSavedTotal.Add(float64(summary.RecordsSaved))
	taskFailuresTotal.WithLabelValues("detail").Add(float64(summary.DetailFailures))
	taskFailuresTotal.WithLabelValues("phone").Add(float64(summary.PhoneFailures))
	taskFailuresTotal.WithLabelValues("save").Add(float64(summary.SaveFailures))
	runDurationSeconds.Observe(elapsed.Seconds())
}
