package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturp39/factcheck-collector/pkg/config"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
	"github.com/arturp39/factcheck-collector/pkg/logger"
	"github.com/arturp39/factcheck-collector/pkg/metrics"

	"github.com/arturp39/factcheck-collector/internal/domain"
)

type handlerStore interface {
	GetRun(ctx context.Context, id int64) (*domain.IngestionRun, error)
	GetEndpoint(ctx context.Context, id int64) (*domain.SourceEndpoint, error)
	FindOrCreateLog(ctx context.Context, runID, endpointID int64, correlationID string) (*domain.IngestionLog, error)
	ClaimLog(ctx context.Context, runID, endpointID, leaseSeconds int64) (bool, error)
	CompleteLog(ctx context.Context, log *domain.IngestionLog) error
	FailLog(ctx context.Context, runID, endpointID int64, reason string) error
	FinalizeRunCompleted(ctx context.Context, runID int64) (bool, error)
	FinalizeRunFailed(ctx context.Context, runID int64) (bool, error)
}

// TaskJob processes one claimed endpoint task.
type TaskJob interface {
	Run(ctx context.Context, endpoint *domain.SourceEndpoint, logRow *domain.IngestionLog) error
}

// TaskHandler consumes dispatched endpoint tasks. Tasks are claimed through a
// lease on the log row, so redelivered or duplicated tasks are processed at
// most once while a holder is alive.
type TaskHandler struct {
	cfg     config.IngestionConfig
	store   handlerStore
	job     TaskJob
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(cfg config.IngestionConfig, store handlerStore, job TaskJob, m *metrics.Metrics) *TaskHandler {
	return &TaskHandler{
		cfg:     cfg,
		store:   store,
		job:     job,
		metrics: m,
		logger:  logger.WithComponent("task-handler"),
	}
}

// HandleTask processes one task to a terminal log state and then attempts to
// finalize the run. Malformed or stale tasks are acknowledged by skipping
// them; retrying cannot make them valid.
func (h *TaskHandler) HandleTask(ctx context.Context, task domain.TaskRequest) error {
	if task.RunID == 0 || task.EndpointID == 0 {
		h.logger.Warn("skipping task with missing identifiers",
			"run_id", task.RunID, "endpoint_id", task.EndpointID)
		return nil
	}

	run, err := h.store.GetRun(ctx, task.RunID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Warn("skipping task for unknown run", "run_id", task.RunID)
			return nil
		}
		return err
	}
	endpoint, err := h.store.GetEndpoint(ctx, task.EndpointID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Warn("skipping task for unknown endpoint",
				"run_id", task.RunID, "endpoint_id", task.EndpointID)
			return h.finalizeRun(ctx, task.RunID)
		}
		return err
	}

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = run.CorrelationID
	}
	correlationID = normalizeCorrelationID(correlationID)
	ctx = logger.WithCorrelationID(ctx, correlationID)
	log := logger.FromContext(ctx).With(
		"component", "task-handler", "run_id", task.RunID, "endpoint_id", task.EndpointID)

	logRow, err := h.store.FindOrCreateLog(ctx, task.RunID, task.EndpointID, correlationID)
	if err != nil {
		return err
	}

	if run.Status != domain.RunRunning {
		if logRow.CompletedAt == nil {
			logRow.Status = domain.LogSkipped
			logRow.ErrorDetails = fmt.Sprintf("Run is not RUNNING (status=%s)", run.Status)
			if err := h.store.CompleteLog(ctx, logRow); err != nil {
				return err
			}
			if h.metrics != nil {
				h.metrics.TasksProcessedTotal.WithLabelValues(string(domain.LogSkipped)).Inc()
			}
		}
		log.Info("skipping task for non-running run", "run_status", string(run.Status))
		return h.finalizeRun(ctx, task.RunID)
	}

	if logRow.CompletedAt != nil {
		log.Info("task already completed, skipping", "log_status", string(logRow.Status))
		return h.finalizeRun(ctx, task.RunID)
	}

	claimed, err := h.store.ClaimLog(ctx, task.RunID, task.EndpointID, h.cfg.TaskLeaseSeconds)
	if err != nil {
		return err
	}
	if !claimed {
		log.Info("task lease held elsewhere, skipping")
		return h.finalizeRun(ctx, task.RunID)
	}

	logRow.CorrelationID = correlationID
	if err := h.job.Run(ctx, endpoint, logRow); err != nil {
		log.Error("endpoint task failed", "error", err)
		if failErr := h.store.FailLog(ctx, task.RunID, task.EndpointID, "Task failed: "+err.Error()); failErr != nil {
			log.Error("failing log after task error", "error", failErr)
		}
		if h.metrics != nil {
			h.metrics.TasksProcessedTotal.WithLabelValues(string(domain.LogFailed)).Inc()
		}
	}

	return h.finalizeRun(ctx, task.RunID)
}

// finalizeRun flips the run to COMPLETED or FAILED once every log is
// terminal. The guarded updates make exactly one caller win, so concurrent
// task completions cannot double-finalize.
func (h *TaskHandler) finalizeRun(ctx context.Context, runID int64) error {
	completed, err := h.store.FinalizeRunCompleted(ctx, runID)
	if err != nil {
		return err
	}
	if completed {
		h.logger.Info("run completed", "run_id", runID)
		if h.metrics != nil {
			h.metrics.RunsFinalizedTotal.WithLabelValues(string(domain.RunCompleted)).Inc()
		}
		return nil
	}

	failed, err := h.store.FinalizeRunFailed(ctx, runID)
	if err != nil {
		return err
	}
	if failed {
		h.logger.Warn("run failed", "run_id", runID)
		if h.metrics != nil {
			h.metrics.RunsFinalizedTotal.WithLabelValues(string(domain.RunFailed)).Inc()
		}
	}
	return nil
}
