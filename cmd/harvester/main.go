// Package main wires together the harvester service binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/autoharvest/ria-scraper/internal/app"
	"github.com/autoharvest/ria-scraper/internal/config"
	"github.com/autoharvest/ria-scraper/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run a single scrape and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("service init failed", zap.Error(err))
		os.Exit(1)
	}

	if *once {
		defer service.Close()
		summary := service.Orchestrator().RunOnce(ctx)
		logger.Info("run completed",
			zap.String("run_id", summary.RunID),
			zap.Int("records_saved", summary.RecordsSaved),
			zap.Int("detail_failures", summary.DetailFailures),
			zap.Int("phone_failures", summary.PhoneFailures),
		)
		return
	}

	if err := service.Run(ctx); err != nil {
		logger.Error("service run failed", zap.Error(err))
		os.Exit(1)
	}
}
