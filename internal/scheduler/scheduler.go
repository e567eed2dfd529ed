// Package scheduler triggers periodic ingestion runs from a cron expression.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/arturp39/factcheck-collector/pkg/config"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
	"github.com/arturp39/factcheck-collector/pkg/logger"

	"github.com/arturp39/factcheck-collector/internal/ingest"
)

// RunStarter starts ingestion runs.
type RunStarter interface {
	StartRun(ctx context.Context, req ingest.StartRunRequest) (*ingest.StartRunResponse, error)
}

// BatchResetter clears per-run fetcher state.
type BatchResetter interface {
	ResetBatches()
}

// Scheduler starts a run on each cron tick. An already-active run is skipped,
// not queued.
type Scheduler struct {
	cfg      config.SchedulerConfig
	runner   RunStarter
	fetchers BatchResetter
	cron     *cron.Cron
	logger   *slog.Logger
}

// New creates a Scheduler.
func New(cfg config.SchedulerConfig, runner RunStarter, fetchers BatchResetter) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		fetchers: fetchers,
		logger:   logger.WithComponent("scheduler"),
	}
}

// Start registers the cron trigger and begins ticking. Disabled schedulers
// are a no-op.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled")
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.RunCron, s.trigger); err != nil {
		return fmt.Errorf("registering run schedule %q: %w", s.cfg.RunCron, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.cfg.RunCron)
	return nil
}

// Stop halts the ticker and waits for a running trigger to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) trigger() {
	ctx := context.Background()
	s.fetchers.ResetBatches()

	resp, err := s.runner.StartRun(ctx, ingest.StartRunRequest{})
	if err != nil {
		if errors.Is(err, apperrors.ErrRunAlreadyActive) {
			s.logger.Info("run already active, skipping scheduled run")
			return
		}
		s.logger.Error("scheduled run failed to start", "error", err)
		return
	}
	s.logger.Info("scheduled run started",
		"run_id", resp.RunID, "task_count", resp.TaskCount, "status", resp.Status)
}
