package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"

	"github.com/arturp39/factcheck-collector/internal/domain"
)

const uniqueViolation = "23505"

// CreateRun inserts a new RUNNING run. The partial unique index on
// status='RUNNING' guarantees at most one active run; a violation maps to
// ErrRunAlreadyActive.
func (s *Store) CreateRun(ctx context.Context, correlationID string, taskCount int) (*domain.IngestionRun, error) {
	run := &domain.IngestionRun{
		Status:        domain.RunRunning,
		CorrelationID: correlationID,
		TaskCount:     taskCount,
	}
	err := s.db.DB.QueryRowContext(ctx, `
		INSERT INTO ingestion_runs (status, correlation_id, task_count)
		VALUES ('RUNNING', $1, $2)
		RETURNING id, started_at`,
		correlationID, taskCount,
	).Scan(&run.ID, &run.StartedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, apperrors.ErrRunAlreadyActive
		}
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return run, nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id int64) (*domain.IngestionRun, error) {
	run := &domain.IngestionRun{}
	var completedAt sql.NullTime
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT id, status, correlation_id, task_count, started_at, completed_at
		FROM ingestion_runs WHERE id = $1`, id,
	).Scan(&run.ID, &run.Status, &run.CorrelationID, &run.TaskCount, &run.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting run %d: %w", id, err)
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// ActiveRun returns the RUNNING run, or ErrNotFound when none is active.
func (s *Store) ActiveRun(ctx context.Context) (*domain.IngestionRun, error) {
	run := &domain.IngestionRun{}
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT id, status, correlation_id, task_count, started_at
		FROM ingestion_runs WHERE status = 'RUNNING'`,
	).Scan(&run.ID, &run.Status, &run.CorrelationID, &run.TaskCount, &run.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting active run: %w", err)
	}
	return run, nil
}

// UpdateRunTaskCount sets the task count after enqueueing finished.
func (s *Store) UpdateRunTaskCount(ctx context.Context, runID int64, taskCount int) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE ingestion_runs SET task_count = $2, version = version + 1 WHERE id = $1`,
		runID, taskCount)
	if err != nil {
		return fmt.Errorf("updating run task count: %w", err)
	}
	return nil
}

// FinalizeRunCompleted marks the run COMPLETED if and only if it is still
// RUNNING, every log is completed, and no log ended FAILED or PARTIAL. The
// guard lives entirely in the WHERE clause so concurrent finalizers cannot
// both win. Returns true when this call performed the transition.
func (s *Store) FinalizeRunCompleted(ctx context.Context, runID int64) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx, `
		UPDATE ingestion_runs r
		SET status = 'COMPLETED',
		    completed_at = NOW(),
		    version = r.version + 1
		WHERE r.id = $1
		  AND r.status = 'RUNNING'
		  AND NOT EXISTS (
		    SELECT 1 FROM ingestion_logs l
		    WHERE l.run_id = r.id AND l.completed_at IS NULL
		  )
		  AND NOT EXISTS (
		    SELECT 1 FROM ingestion_logs l
		    WHERE l.run_id = r.id AND l.status IN ('FAILED', 'PARTIAL')
		  )`, runID)
	if err != nil {
		return false, fmt.Errorf("finalizing run %d as completed: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinalizeRunFailed marks the run FAILED if and only if it is still RUNNING,
// every log is completed, and at least one log ended FAILED or PARTIAL.
func (s *Store) FinalizeRunFailed(ctx context.Context, runID int64) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx, `
		UPDATE ingestion_runs r
		SET status = 'FAILED',
		    completed_at = NOW(),
		    version = r.version + 1
		WHERE r.id = $1
		  AND r.status = 'RUNNING'
		  AND NOT EXISTS (
		    SELECT 1 FROM ingestion_logs l
		    WHERE l.run_id = r.id AND l.completed_at IS NULL
		  )
		  AND EXISTS (
		    SELECT 1 FROM ingestion_logs l
		    WHERE l.run_id = r.id AND l.status IN ('FAILED', 'PARTIAL')
		  )`, runID)
	if err != nil {
		return false, fmt.Errorf("finalizing run %d as failed: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AbortRun forces a RUNNING run to FAILED. Returns false when the run is not
// RUNNING (or does not exist).
func (s *Store) AbortRun(ctx context.Context, tx *sql.Tx, runID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET status = 'FAILED', completed_at = NOW(), version = version + 1
		WHERE id = $1 AND status = 'RUNNING'`, runID)
	if err != nil {
		return false, fmt.Errorf("aborting run %d: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SweepStaleRuns fails RUNNING runs that started before the cutoff and fails
// their pending logs. Returns the ids of the runs swept.
func (s *Store) SweepStaleRuns(ctx context.Context, cutoff time.Time, reason string) ([]int64, error) {
	var swept []int64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE ingestion_runs
			SET status = 'FAILED', completed_at = NOW(), version = version + 1
			WHERE status = 'RUNNING' AND started_at < $1
			RETURNING id`, cutoff)
		if err != nil {
			return fmt.Errorf("sweeping stale runs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			swept = append(swept, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range swept {
			if _, err := failPendingLogsTx(ctx, tx, id, reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}
