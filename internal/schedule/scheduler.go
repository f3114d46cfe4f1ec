// Package schedule triggers pipeline runs on a daily wall-clock schedule.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/autoharvest/ria-scraper/internal/scraper"
)

// Trigger is what the scheduler invokes; the orchestrator satisfies it.
type Trigger interface {
	RunOnce(ctx context.Context) scraper.RunSummary
}

// Config sets when the daily run fires.
type Config struct {
	RunAt    string // "HH:MM" wall-clock time
	Timezone string // IANA name, e.g. "Europe/Kyiv"
}

// Scheduler runs the trigger once per day at the configured local time.
// It decides only *when* the pipeline runs; everything about the run itself,
// including failure handling, stays inside the trigger.
type Scheduler struct {
	cron    *cron.Cron
	trigger Trigger
	logger  *zap.Logger
	ctx     context.Context
}

// New builds a Scheduler. RunAt must be "HH:MM".
func New(cfg Config, trigger Trigger, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := time.Local
	if cfg.Timezone != "" {
		parsed, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = parsed
	}
	spec, err := cronSpec(cfg.RunAt)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		trigger: trigger,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("register cron entry: %w", err)
	}
	logger.Info("run scheduled",
		zap.String("run_at", cfg.RunAt),
		zap.String("timezone", loc.String()),
	)
	return s, nil
}

// Start begins firing scheduled runs. Runs triggered after ctx is canceled
// are skipped.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) fire() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("scheduled run starting")
	summary := s.trigger.RunOnce(ctx)
	s.logger.Info("scheduled run completed",
		zap.String("run_id", summary.RunID),
		zap.Int("records_saved", summary.RecordsSaved),
		zap.Int("detail_failures", summary.DetailFailures),
		zap.Duration("elapsed", summary.Elapsed),
	)
}

// cronSpec converts "HH:MM" into a daily cron expression.
func cronSpec(runAt string) (string, error) {
	parts := strings.Split(runAt, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("schedule.run_at %q: want HH:MM", runAt)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("schedule.run_at %q: bad hour", runAt)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("schedule.run_at %q: bad minute", runAt)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
