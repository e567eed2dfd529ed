// Package ingest implements the run orchestration and the per-endpoint
// article pipeline: discovery, enrichment, and vector indexing.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturp39/factcheck-collector/pkg/config"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
	"github.com/arturp39/factcheck-collector/pkg/logger"
	"github.com/arturp39/factcheck-collector/pkg/metrics"

	"github.com/arturp39/factcheck-collector/internal/dispatch"
	"github.com/arturp39/factcheck-collector/internal/domain"
)

const (
	defaultRunTimeout = 6 * time.Hour
	maxRunTimeout     = 24 * time.Hour

	staleRunReason = "Run exceeded timeout and was marked stale/FAILED"
)

type runnerStore interface {
	SweepStaleRuns(ctx context.Context, cutoff time.Time, reason string) ([]int64, error)
	CreateRun(ctx context.Context, correlationID string, taskCount int) (*domain.IngestionRun, error)
	GetEndpoint(ctx context.Context, id int64) (*domain.SourceEndpoint, error)
	EligibleEndpoints(ctx context.Context, now time.Time) ([]domain.SourceEndpoint, error)
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	CreateLogs(ctx context.Context, tx *sql.Tx, runID int64, endpointIDs []int64, correlationID string) error
	AbortRun(ctx context.Context, tx *sql.Tx, runID int64) (bool, error)
	FailLog(ctx context.Context, runID, endpointID int64, reason string) error
	FinalizeRunCompleted(ctx context.Context, runID int64) (bool, error)
	FinalizeRunFailed(ctx context.Context, runID int64) (bool, error)
	UpdateRunTaskCount(ctx context.Context, runID int64, taskCount int) error
}

// Runner starts ingestion runs: it sweeps stale runs, creates the run row and
// its per-endpoint logs, and dispatches one task per endpoint.
type Runner struct {
	cfg       config.IngestionConfig
	store     runnerStore
	publisher dispatch.TaskPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg config.IngestionConfig, store runnerStore, publisher dispatch.TaskPublisher, m *metrics.Metrics) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger.WithComponent("run-runner"),
	}
}

// StartRunRequest selects what a run covers. A nil EndpointID means every
// eligible endpoint; a set one restricts the run to that endpoint.
type StartRunRequest struct {
	EndpointID    *int64
	CorrelationID string
}

// StartRunResponse reports the created run.
type StartRunResponse struct {
	RunID         int64  `json:"runId"`
	CorrelationID string `json:"correlationId"`
	TaskCount     int    `json:"taskCount"`
	Status        string `json:"status"`
}

// StartRun creates a new ingestion run and dispatches one task per selected
// endpoint. A supplied correlation id must be a valid UUID or the request is
// rejected; one is generated when absent. At most one run may be RUNNING; a
// second start attempt fails with a run-already-active error.
func (r *Runner) StartRun(ctx context.Context, req StartRunRequest) (*StartRunResponse, error) {
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	} else if _, err := uuid.Parse(correlationID); err != nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"correlationId must be a valid UUID")
	}

	now := time.Now().UTC()
	r.sweepStaleRuns(ctx, now)

	run, err := r.store.CreateRun(ctx, correlationID, 0)
	if err != nil {
		return nil, err
	}
	log := r.logger.With("run_id", run.ID, "correlation_id", correlationID)
	if r.metrics != nil {
		r.metrics.RunsStartedTotal.Inc()
	}

	endpointIDs, err := r.selectEndpointIDs(ctx, req.EndpointID, now)
	if err != nil {
		r.failNewRun(ctx, run.ID)
		return nil, err
	}

	if len(endpointIDs) == 0 {
		log.Info("no eligible endpoints, completing run immediately")
		if _, err := r.store.FinalizeRunCompleted(ctx, run.ID); err != nil {
			return nil, err
		}
		return &StartRunResponse{
			RunID:         run.ID,
			CorrelationID: correlationID,
			TaskCount:     0,
			Status:        string(domain.RunCompleted),
		}, nil
	}

	err = r.store.InTx(ctx, func(tx *sql.Tx) error {
		return r.store.CreateLogs(ctx, tx, run.ID, endpointIDs, correlationID)
	})
	if err != nil {
		r.failNewRun(ctx, run.ID)
		return nil, fmt.Errorf("creating logs for run %d: %w", run.ID, err)
	}

	enqueued := r.enqueueTasks(ctx, run.ID, endpointIDs, correlationID)

	status := domain.RunRunning
	if enqueued == 0 {
		log.Error("no tasks enqueued, failing run")
		if _, err := r.store.FinalizeRunFailed(ctx, run.ID); err != nil {
			return nil, err
		}
		status = domain.RunFailed
	}
	if err := r.store.UpdateRunTaskCount(ctx, run.ID, enqueued); err != nil {
		return nil, err
	}

	log.Info("run started", "task_count", enqueued, "status", string(status))
	return &StartRunResponse{
		RunID:         run.ID,
		CorrelationID: correlationID,
		TaskCount:     enqueued,
		Status:        string(status),
	}, nil
}

// sweepStaleRuns fails RUNNING runs older than the run timeout so a crashed
// worker cannot hold the single active-run slot forever.
func (r *Runner) sweepStaleRuns(ctx context.Context, now time.Time) {
	timeout := r.cfg.RunTimeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	if timeout > maxRunTimeout {
		timeout = maxRunTimeout
	}
	swept, err := r.store.SweepStaleRuns(ctx, now.Add(-timeout), staleRunReason)
	if err != nil {
		r.logger.Error("sweeping stale runs", "error", err)
		return
	}
	for _, runID := range swept {
		r.logger.Warn("stale run failed", "run_id", runID, "timeout", timeout)
		if r.metrics != nil {
			r.metrics.RunsFinalizedTotal.WithLabelValues(string(domain.RunFailed)).Inc()
		}
	}
}

// selectEndpointIDs resolves the run's endpoint set. A manual single-endpoint
// run re-checks enablement and block state but ignores the fetch interval.
func (r *Runner) selectEndpointIDs(ctx context.Context, endpointID *int64, now time.Time) ([]int64, error) {
	if endpointID != nil {
		endpoint, err := r.store.GetEndpoint(ctx, *endpointID)
		if err != nil {
			return nil, err
		}
		if !endpoint.Enabled || endpoint.Blocked(now) {
			r.logger.Info("requested endpoint not eligible", "endpoint_id", endpoint.ID)
			return nil, nil
		}
		return []int64{endpoint.ID}, nil
	}

	endpoints, err := r.store.EligibleEndpoints(ctx, now)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(endpoints))
	ids := make([]int64, 0, len(endpoints))
	for _, ep := range endpoints {
		if seen[ep.ID] {
			continue
		}
		seen[ep.ID] = true
		ids = append(ids, ep.ID)
	}
	return ids, nil
}

// enqueueTasks dispatches one task per endpoint. The first publish failure
// stops dispatching; every task not yet enqueued gets its log failed so the
// run can still finalize.
func (r *Runner) enqueueTasks(ctx context.Context, runID int64, endpointIDs []int64, correlationID string) int {
	enqueued := 0
	for i, endpointID := range endpointIDs {
		err := r.publisher.Publish(ctx, domain.TaskRequest{
			RunID:         runID,
			EndpointID:    endpointID,
			CorrelationID: correlationID,
		})
		if err == nil {
			enqueued++
			continue
		}

		r.logger.Error("enqueuing task failed", "run_id", runID, "endpoint_id", endpointID, "error", err)
		reason := "Enqueue failed before dispatch: " + err.Error()
		for _, remaining := range endpointIDs[i:] {
			if failErr := r.store.FailLog(ctx, runID, remaining, reason); failErr != nil {
				r.logger.Error("failing log after enqueue failure",
					"run_id", runID, "endpoint_id", remaining, "error", failErr)
			}
		}
		break
	}
	return enqueued
}

// failNewRun aborts a run whose setup failed before any task could exist.
func (r *Runner) failNewRun(ctx context.Context, runID int64) {
	err := r.store.InTx(ctx, func(tx *sql.Tx) error {
		_, err := r.store.AbortRun(ctx, tx, runID)
		return err
	})
	if err != nil {
		r.logger.Error("aborting run after setup failure", "run_id", runID, "error", err)
	}
}

// normalizeCorrelationID keeps a dispatched task's id only when it is a valid
// UUID; anything else gets a fresh one, so a malformed broker payload cannot
// poison log correlation. Ids supplied at run start are validated instead.
func normalizeCorrelationID(raw string) string {
	if _, err := uuid.Parse(raw); err == nil {
		return raw
	}
	return uuid.NewString()
}
