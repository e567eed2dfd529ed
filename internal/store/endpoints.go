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

const endpointColumns = `
	id, publisher_id, kind, url, api_source_id, enabled,
	fetch_interval_minutes, last_fetched_at, last_success_at,
	consecutive_failures, block_count, blocked_until, robots_disallowed`

// GetEndpoint returns an endpoint by id.
func (s *Store) GetEndpoint(ctx context.Context, id int64) (*domain.SourceEndpoint, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM source_endpoints WHERE id = $1`, id)
	return scanEndpoint(row)
}

// EligibleEndpoints returns enabled endpoints that are not blocked and whose
// fetch interval has elapsed (or were never fetched).
func (s *Store) EligibleEndpoints(ctx context.Context, now time.Time) ([]domain.SourceEndpoint, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT `+endpointColumns+`
		FROM source_endpoints
		WHERE enabled = TRUE
		  AND (blocked_until IS NULL OR blocked_until < $1)
		  AND (
		    last_fetched_at IS NULL
		    OR last_fetched_at < ($1 - (fetch_interval_minutes * INTERVAL '1 minute'))
		  )
		ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("selecting eligible endpoints: %w", err)
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

// EnabledEndpointsByKind returns all enabled endpoints of one kind.
func (s *Store) EnabledEndpointsByKind(ctx context.Context, kind domain.EndpointKind) ([]domain.SourceEndpoint, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT `+endpointColumns+`
		FROM source_endpoints
		WHERE enabled = TRUE AND kind = $1
		ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("selecting enabled %s endpoints: %w", kind, err)
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

// ArticleCountsByEndpoint returns, per endpoint id, the number of articles
// already recorded from that endpoint. Used to prioritise the API request
// budget towards well-covered sources.
func (s *Store) ArticleCountsByEndpoint(ctx context.Context, endpointIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(endpointIDs))
	if len(endpointIDs) == 0 {
		return counts, nil
	}
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT endpoint_id, COUNT(DISTINCT article_id)
		FROM article_sources
		WHERE endpoint_id = ANY($1)
		GROUP BY endpoint_id`, pq.Array(endpointIDs))
	if err != nil {
		return nil, fmt.Errorf("counting articles by endpoint: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// RecordEndpointSuccess stamps a successful fetch: clears failure and block
// state and updates the fetch timestamps.
func (s *Store) RecordEndpointSuccess(ctx context.Context, endpointID int64) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE source_endpoints
		SET last_fetched_at = NOW(), last_success_at = NOW(),
		    consecutive_failures = 0, block_count = 0,
		    blocked_until = NULL, robots_disallowed = FALSE
		WHERE id = $1`, endpointID)
	if err != nil {
		return fmt.Errorf("recording endpoint success %d: %w", endpointID, err)
	}
	return nil
}

// RecordEndpointFailure stamps a failed fetch without a block signal.
func (s *Store) RecordEndpointFailure(ctx context.Context, endpointID int64) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE source_endpoints
		SET last_fetched_at = NOW(), consecutive_failures = consecutive_failures + 1
		WHERE id = $1`, endpointID)
	if err != nil {
		return fmt.Errorf("recording endpoint failure %d: %w", endpointID, err)
	}
	return nil
}

// RecordBlockSignal increments the block counter and, once the threshold is
// reached, blocks the endpoint until now+duration.
func (s *Store) RecordBlockSignal(ctx context.Context, endpointID int64, threshold int, duration time.Duration) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE source_endpoints
		SET last_fetched_at = NOW(),
		    consecutive_failures = consecutive_failures + 1,
		    block_count = block_count + 1,
		    blocked_until = CASE
		      WHEN block_count + 1 >= $2 THEN NOW() + $3 * INTERVAL '1 second'
		      ELSE blocked_until
		    END
		WHERE id = $1`,
		endpointID, threshold, int64(duration.Seconds()))
	if err != nil {
		return fmt.Errorf("recording block signal %d: %w", endpointID, err)
	}
	return nil
}

// ClearEndpointBlockState resets the block counter after a fetch that still
// produced articles, so transient walls do not accumulate into a block.
func (s *Store) ClearEndpointBlockState(ctx context.Context, endpointID int64) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE source_endpoints SET block_count = 0, blocked_until = NULL WHERE id = $1`,
		endpointID)
	if err != nil {
		return fmt.Errorf("clearing block state %d: %w", endpointID, err)
	}
	return nil
}

// MarkEndpointRobotsDisallowed records that robots.txt refuses crawling. The
// flag stays set until a later successful fetch clears it.
func (s *Store) MarkEndpointRobotsDisallowed(ctx context.Context, endpointID int64) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE source_endpoints SET robots_disallowed = TRUE, last_fetched_at = NOW() WHERE id = $1`,
		endpointID)
	if err != nil {
		return fmt.Errorf("marking robots disallowed %d: %w", endpointID, err)
	}
	return nil
}

func scanEndpoint(row rowScanner) (*domain.SourceEndpoint, error) {
	e := &domain.SourceEndpoint{}
	var intervalMinutes int
	var lastFetched, lastSuccess, blockedUntil sql.NullTime
	err := row.Scan(
		&e.ID, &e.PublisherID, &e.Kind, &e.URL, &e.APISourceID, &e.Enabled,
		&intervalMinutes, &lastFetched, &lastSuccess,
		&e.ConsecutiveFails, &e.BlockCount, &blockedUntil, &e.RobotsDisallowed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning endpoint: %w", err)
	}
	e.FetchInterval = time.Duration(intervalMinutes) * time.Minute
	if lastFetched.Valid {
		e.LastFetchedAt = &lastFetched.Time
	}
	if lastSuccess.Valid {
		e.LastSuccessAt = &lastSuccess.Time
	}
	if blockedUntil.Valid {
		e.BlockedUntil = &blockedUntil.Time
	}
	return e, nil
}

func collectEndpoints(rows *sql.Rows) ([]domain.SourceEndpoint, error) {
	var endpoints []domain.SourceEndpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *e)
	}
	return endpoints, rows.Err()
}
