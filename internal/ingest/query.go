package ingest

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"

	"github.com/arturp39/factcheck-collector/internal/domain"
)

const maxLogPageSize = 200

type queryStore interface {
	ListLogs(ctx context.Context, page, size int) ([]domain.IngestionLog, error)
	CountLogs(ctx context.Context) (int64, error)
	GetRun(ctx context.Context, id int64) (*domain.IngestionRun, error)
	ListLogsForRun(ctx context.Context, runID int64) ([]domain.IngestionLog, error)
}

// Query serves the read side of run monitoring: paged logs and run detail.
type Query struct {
	store queryStore
}

// NewQuery creates a Query.
func NewQuery(store queryStore) *Query {
	return &Query{store: store}
}

// LogEntry is one ingestion log in API responses.
type LogEntry struct {
	ID             int64      `json:"id"`
	RunID          int64      `json:"runId"`
	EndpointID     int64      `json:"sourceEndpointId"`
	Status         string     `json:"status"`
	ArticlesFound  int        `json:"articlesFetched"`
	ArticlesNew    int        `json:"articlesProcessed"`
	ArticlesFailed int        `json:"articlesFailed"`
	ErrorDetails   string     `json:"errorDetails,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CorrelationID  string     `json:"correlationId,omitempty"`
}

// LogPage is one page of ingestion logs.
type LogPage struct {
	Page          int        `json:"page"`
	Size          int        `json:"size"`
	TotalElements int64      `json:"totalElements"`
	TotalPages    int64      `json:"totalPages"`
	Items         []LogEntry `json:"items"`
}

// RunDetail is a run with its per-endpoint logs.
type RunDetail struct {
	RunID         int64      `json:"runId"`
	Status        string     `json:"status"`
	CorrelationID string     `json:"correlationId,omitempty"`
	TaskCount     int        `json:"taskCount"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Logs          []LogEntry `json:"logs"`
}

// ListLogs returns one page of logs, newest first.
func (q *Query) ListLogs(ctx context.Context, page, size int) (*LogPage, error) {
	if page < 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "page must be >= 0")
	}
	if size < 1 || size > maxLogPageSize {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "size must be between 1 and %d", maxLogPageSize)
	}

	logs, err := q.store.ListLogs(ctx, page, size)
	if err != nil {
		return nil, err
	}
	total, err := q.store.CountLogs(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]LogEntry, 0, len(logs))
	for _, log := range logs {
		items = append(items, toLogEntry(log))
	}
	totalPages := total / int64(size)
	if total%int64(size) != 0 {
		totalPages++
	}
	return &LogPage{
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
		Items:         items,
	}, nil
}

// GetRun returns one run with all of its logs.
func (q *Query) GetRun(ctx context.Context, runID int64) (*RunDetail, error) {
	run, err := q.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	logs, err := q.store.ListLogsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	detail := &RunDetail{
		RunID:         run.ID,
		Status:        string(run.Status),
		CorrelationID: run.CorrelationID,
		TaskCount:     run.TaskCount,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		Logs:          make([]LogEntry, 0, len(logs)),
	}
	for _, log := range logs {
		detail.Logs = append(detail.Logs, toLogEntry(log))
	}
	return detail, nil
}

func toLogEntry(log domain.IngestionLog) LogEntry {
	return LogEntry{
		ID:             log.ID,
		RunID:          log.RunID,
		EndpointID:     log.EndpointID,
		Status:         string(log.Status),
		ArticlesFound:  log.ArticlesFound,
		ArticlesNew:    log.ArticlesNew,
		ArticlesFailed: log.ArticlesFailed,
		ErrorDetails:   log.ErrorDetails,
		StartedAt:      log.StartedAt,
		CompletedAt:    log.CompletedAt,
		CorrelationID:  log.CorrelationID,
	}
}
