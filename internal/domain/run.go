package domain

import "time"

// RunStatus is the lifecycle of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// LogStatus is the lifecycle of a single endpoint task within a run.
type LogStatus string

const (
	LogStarted    LogStatus = "STARTED"
	LogProcessing LogStatus = "PROCESSING"
	LogSuccess    LogStatus = "SUCCESS"
	LogPartial    LogStatus = "PARTIAL"
	LogFailed     LogStatus = "FAILED"
	LogSkipped    LogStatus = "SKIPPED"
)

// Terminal reports whether the log status is a terminal one.
func (s LogStatus) Terminal() bool {
	switch s {
	case LogSuccess, LogPartial, LogFailed, LogSkipped:
		return true
	}
	return false
}

// IngestionRun groups the endpoint tasks triggered together. At most one run
// may be RUNNING at a time.
type IngestionRun struct {
	ID            int64
	Status        RunStatus
	CorrelationID string
	TaskCount     int
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// IngestionLog is the per-endpoint progress record of a run. One row exists
// per (run, endpoint) pair.
type IngestionLog struct {
	ID             int64
	RunID          int64
	EndpointID     int64
	Status         LogStatus
	CorrelationID  string
	ArticlesFound  int
	ArticlesNew    int
	ArticlesFailed int
	ErrorDetails   string
	StartedAt      time.Time
	CompletedAt    *time.Time
	Version        int64
}

// TaskRequest is the payload dispatched per endpoint task, over the queue or
// as a direct HTTP call.
type TaskRequest struct {
	RunID         int64  `json:"runId"`
	EndpointID    int64  `json:"sourceEndpointId"`
	CorrelationID string `json:"correlationId,omitempty"`
}
