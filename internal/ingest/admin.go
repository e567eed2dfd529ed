package ingest

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/arturp39/factcheck-collector/pkg/logger"
	"github.com/arturp39/factcheck-collector/pkg/metrics"

	"github.com/arturp39/factcheck-collector/internal/domain"
)

const defaultAbortReason = "Aborted by admin request"

type adminStore interface {
	ActiveRun(ctx context.Context) (*domain.IngestionRun, error)
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	AbortRun(ctx context.Context, tx *sql.Tx, runID int64) (bool, error)
	FailPendingLogs(ctx context.Context, tx *sql.Tx, runID int64, reason string) (int64, error)
}

// Admin aborts ingestion runs on operator request.
type Admin struct {
	store   adminStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAdmin creates an Admin.
func NewAdmin(store adminStore, m *metrics.Metrics) *Admin {
	return &Admin{store: store, metrics: m, logger: logger.WithComponent("ingestion-admin")}
}

// AbortActiveRun fails the currently RUNNING run and its pending logs. It
// returns the aborted run, or ErrNotFound when no run is active.
func (a *Admin) AbortActiveRun(ctx context.Context, reason string) (*domain.IngestionRun, error) {
	run, err := a.store.ActiveRun(ctx)
	if err != nil {
		return nil, err
	}

	msg := strings.TrimSpace(reason)
	if msg == "" {
		msg = defaultAbortReason
	}

	var aborted bool
	var logsFailed int64
	err = a.store.InTx(ctx, func(tx *sql.Tx) error {
		aborted, err = a.store.AbortRun(ctx, tx, run.ID)
		if err != nil || !aborted {
			return err
		}
		logsFailed, err = a.store.FailPendingLogs(ctx, tx, run.ID, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !aborted {
		// Lost the race against normal finalization; nothing to undo.
		a.logger.Info("abort ignored, run no longer running", "run_id", run.ID)
		return run, nil
	}

	a.logger.Warn("aborted ingestion run", "run_id", run.ID, "pending_logs_failed", logsFailed, "reason", msg)
	if a.metrics != nil {
		a.metrics.RunsFinalizedTotal.WithLabelValues(string(domain.RunFailed)).Inc()
	}
	run.Status = domain.RunFailed
	return run, nil
}
