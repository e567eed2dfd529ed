// Package store implements the relational persistence layer on PostgreSQL:
// publishers, source endpoints, articles, and the ingestion run/log state
// machine with its concurrency guards.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/arturp39/factcheck-collector/pkg/logger"
	"github.com/arturp39/factcheck-collector/pkg/postgres"
)

//go:embed schema.sql
var schemaSQL string

// Store bundles all repositories over one connection pool.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a Store over an existing postgres client.
func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: logger.WithComponent("store"),
	}
}

// Migrate applies the embedded schema. All statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.DB.PingContext(ctx)
}

// InTx runs fn inside a transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.db.InTx(ctx, fn)
}
