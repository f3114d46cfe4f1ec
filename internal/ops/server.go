// Package ops exposes the service's operational HTTP surface: liveness,
// Prometheus metrics, and store statistics.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/autoharvest/ria-scraper/internal/scraper"
)

// StatsSource supplies aggregate store statistics for /stats.
type StatsSource interface {
	Stats(ctx context.Context) (scraper.StoreStats, error)
}

// NewServer builds the ops HTTP server on the given port.
func NewServer(port int, stats StatsSource, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		snapshot, err := stats.Stats(ctx)
		if err != nil {
			logger.Error("stats query failed", zap.Error(err))
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			logger.Error("stats encode failed", zap.Error(err))
		}
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
