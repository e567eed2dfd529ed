package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"

	"github.com/arturp39/factcheck-collector/internal/domain"
)

// CreateLogs batch-inserts STARTED logs for a run, one per endpoint, inside
// the given transaction.
func (s *Store) CreateLogs(ctx context.Context, tx *sql.Tx, runID int64, endpointIDs []int64, correlationID string) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ingestion_logs (run_id, endpoint_id, status, correlation_id)
		VALUES ($1, $2, 'STARTED', $3)`)
	if err != nil {
		return fmt.Errorf("preparing log insert: %w", err)
	}
	defer stmt.Close()
	for _, endpointID := range endpointIDs {
		if _, err := stmt.ExecContext(ctx, runID, endpointID, correlationID); err != nil {
			return fmt.Errorf("inserting log for endpoint %d: %w", endpointID, err)
		}
	}
	return nil
}

// FindOrCreateLog returns the log row for (run, endpoint), creating a STARTED
// one when missing. A concurrent creator losing the unique-constraint race
// falls back to reading the winner's row.
func (s *Store) FindOrCreateLog(ctx context.Context, runID, endpointID int64, correlationID string) (*domain.IngestionLog, error) {
	log, err := s.GetLog(ctx, runID, endpointID)
	if err == nil {
		return log, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	_, err = s.db.DB.ExecContext(ctx, `
		INSERT INTO ingestion_logs (run_id, endpoint_id, status, correlation_id)
		VALUES ($1, $2, 'STARTED', $3)`, runID, endpointID, correlationID)
	if err != nil {
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
			return nil, fmt.Errorf("inserting log: %w", err)
		}
	}
	return s.GetLog(ctx, runID, endpointID)
}

// GetLog returns the log row for (run, endpoint).
func (s *Store) GetLog(ctx context.Context, runID, endpointID int64) (*domain.IngestionLog, error) {
	row := s.db.DB.QueryRowContext(ctx, `
		SELECT id, run_id, endpoint_id, status, correlation_id,
		       articles_found, articles_new, articles_failed, error_details,
		       started_at, completed_at, version
		FROM ingestion_logs WHERE run_id = $1 AND endpoint_id = $2`,
		runID, endpointID)
	return scanLog(row)
}

// ClaimLog leases the log row for processing: it flips the status to
// PROCESSING only when the row is not completed and either not PROCESSING or
// held past the lease. Returns true when the claim succeeded.
func (s *Store) ClaimLog(ctx context.Context, runID, endpointID, leaseSeconds int64) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx, `
		UPDATE ingestion_logs
		SET status = 'PROCESSING', started_at = NOW(), version = version + 1
		WHERE run_id = $1
		  AND endpoint_id = $2
		  AND completed_at IS NULL
		  AND (
		        status <> 'PROCESSING'
		     OR started_at < NOW() - ($3 * INTERVAL '1 second')
		  )`, runID, endpointID, leaseSeconds)
	if err != nil {
		return false, fmt.Errorf("claiming log run=%d endpoint=%d: %w", runID, endpointID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteLog stamps a terminal status and counters on the log. Rows that
// already completed are left untouched.
func (s *Store) CompleteLog(ctx context.Context, log *domain.IngestionLog) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE ingestion_logs
		SET status = $3, articles_found = $4, articles_new = $5,
		    articles_failed = $6, error_details = $7,
		    completed_at = NOW(), version = version + 1
		WHERE run_id = $1 AND endpoint_id = $2 AND completed_at IS NULL`,
		log.RunID, log.EndpointID, log.Status,
		log.ArticlesFound, log.ArticlesNew, log.ArticlesFailed, log.ErrorDetails)
	if err != nil {
		return fmt.Errorf("completing log run=%d endpoint=%d: %w", log.RunID, log.EndpointID, err)
	}
	return nil
}

// FailLog marks a not-yet-completed log FAILED with the given reason.
func (s *Store) FailLog(ctx context.Context, runID, endpointID int64, reason string) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE ingestion_logs
		SET status = 'FAILED', error_details = $3, completed_at = NOW(), version = version + 1
		WHERE run_id = $1 AND endpoint_id = $2 AND completed_at IS NULL`,
		runID, endpointID, reason)
	if err != nil {
		return fmt.Errorf("failing log run=%d endpoint=%d: %w", runID, endpointID, err)
	}
	return nil
}

// FailPendingLogs fails every incomplete log of a run with one reason.
func (s *Store) FailPendingLogs(ctx context.Context, tx *sql.Tx, runID int64, reason string) (int64, error) {
	return failPendingLogsTx(ctx, tx, runID, reason)
}

func failPendingLogsTx(ctx context.Context, tx *sql.Tx, runID int64, reason string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE ingestion_logs
		SET status = 'FAILED', error_details = $2, completed_at = NOW(), version = version + 1
		WHERE run_id = $1 AND completed_at IS NULL`, runID, reason)
	if err != nil {
		return 0, fmt.Errorf("failing pending logs for run %d: %w", runID, err)
	}
	return res.RowsAffected()
}

// ListLogs returns a page of logs ordered by most recent start.
func (s *Store) ListLogs(ctx context.Context, page, size int) ([]domain.IngestionLog, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT id, run_id, endpoint_id, status, correlation_id,
		       articles_found, articles_new, articles_failed, error_details,
		       started_at, completed_at, version
		FROM ingestion_logs
		ORDER BY started_at DESC, id DESC
		LIMIT $1 OFFSET $2`, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()
	var logs []domain.IngestionLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

// CountLogs returns the total number of log rows, for paging.
func (s *Store) CountLogs(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingestion_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting logs: %w", err)
	}
	return n, nil
}

// ListLogsForRun returns all logs of a run.
func (s *Store) ListLogsForRun(ctx context.Context, runID int64) ([]domain.IngestionLog, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT id, run_id, endpoint_id, status, correlation_id,
		       articles_found, articles_new, articles_failed, error_details,
		       started_at, completed_at, version
		FROM ingestion_logs WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing logs for run %d: %w", runID, err)
	}
	defer rows.Close()
	var logs []domain.IngestionLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*domain.IngestionLog, error) {
	log := &domain.IngestionLog{}
	var completedAt sql.NullTime
	err := row.Scan(
		&log.ID, &log.RunID, &log.EndpointID, &log.Status, &log.CorrelationID,
		&log.ArticlesFound, &log.ArticlesNew, &log.ArticlesFailed, &log.ErrorDetails,
		&log.StartedAt, &completedAt, &log.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning log: %w", err)
	}
	if completedAt.Valid {
		log.CompletedAt = &completedAt.Time
	}
	return log, nil
}
