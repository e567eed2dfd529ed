package ingest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturp39/factcheck-collector/internal/domain"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
)

type fakeAdminStore struct {
	run       *domain.IngestionRun
	runErr    error
	abortOK   bool
	aborted   []int64
	failed    []int64
	reason    string
	logsCount int64
}

func (s *fakeAdminStore) ActiveRun(ctx context.Context) (*domain.IngestionRun, error) {
	return s.run, s.runErr
}

func (s *fakeAdminStore) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

func (s *fakeAdminStore) AbortRun(ctx context.Context, tx *sql.Tx, runID int64) (bool, error) {
	s.aborted = append(s.aborted, runID)
	return s.abortOK, nil
}

func (s *fakeAdminStore) FailPendingLogs(ctx context.Context, tx *sql.Tx, runID int64, reason string) (int64, error) {
	s.failed = append(s.failed, runID)
	s.reason = reason
	return s.logsCount, nil
}

func TestAbortActiveRun(t *testing.T) {
	store := &fakeAdminStore{
		run:       &domain.IngestionRun{ID: 42, Status: domain.RunRunning},
		abortOK:   true,
		logsCount: 3,
	}
	admin := NewAdmin(store, nil)

	run, err := admin.AbortActiveRun(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, []int64{42}, store.aborted)
	assert.Equal(t, []int64{42}, store.failed)
	assert.Equal(t, "Aborted by admin request", store.reason)
}

func TestAbortActiveRunCustomReason(t *testing.T) {
	store := &fakeAdminStore{
		run:     &domain.IngestionRun{ID: 42, Status: domain.RunRunning},
		abortOK: true,
	}
	admin := NewAdmin(store, nil)

	_, err := admin.AbortActiveRun(context.Background(), "  maintenance window  ")
	require.NoError(t, err)
	assert.Equal(t, "maintenance window", store.reason)
}

func TestAbortActiveRunNoActiveRun(t *testing.T) {
	store := &fakeAdminStore{runErr: apperrors.ErrNotFound}
	admin := NewAdmin(store, nil)

	_, err := admin.AbortActiveRun(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, store.aborted)
}

func TestAbortActiveRunLostRace(t *testing.T) {
	store := &fakeAdminStore{
		run:     &domain.IngestionRun{ID: 42, Status: domain.RunRunning},
		abortOK: false,
	}
	admin := NewAdmin(store, nil)

	run, err := admin.AbortActiveRun(context.Background(), "")
	require.NoError(t, err)

	// Another finalizer won; the run comes back unchanged and no logs are
	// touched.
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.Empty(t, store.failed)
}
