// Package server implements the collector's HTTP API: run orchestration,
// task intake, run monitoring, and the internal article read side.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
	"github.com/arturp39/factcheck-collector/pkg/health"
	"github.com/arturp39/factcheck-collector/pkg/logger"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/internal/ingest"
	"github.com/arturp39/factcheck-collector/internal/search"
)

// RunStarter starts ingestion runs.
type RunStarter interface {
	StartRun(ctx context.Context, req ingest.StartRunRequest) (*ingest.StartRunResponse, error)
}

// TaskProcessor handles dispatched endpoint tasks.
type TaskProcessor interface {
	HandleTask(ctx context.Context, task domain.TaskRequest) error
}

// RunAdmin aborts runs.
type RunAdmin interface {
	AbortActiveRun(ctx context.Context, reason string) (*domain.IngestionRun, error)
}

// RunQuery serves run monitoring reads.
type RunQuery interface {
	ListLogs(ctx context.Context, page, size int) (*ingest.LogPage, error)
	GetRun(ctx context.Context, runID int64) (*ingest.RunDetail, error)
}

// ArticleReader serves the internal article read side.
type ArticleReader interface {
	ListArticles(ctx context.Context, titleQuery string, limit int) ([]domain.Article, error)
	GetArticle(ctx context.Context, id int64) (*domain.Article, error)
	GetArticleContent(ctx context.Context, articleID int64) (*domain.ArticleContent, error)
}

// Searcher executes chunk similarity searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Handler implements the collector's HTTP endpoints.
type Handler struct {
	runner   RunStarter
	tasks    TaskProcessor
	admin    RunAdmin
	query    RunQuery
	articles ArticleReader
	searcher Searcher
	checker  *health.Checker
	logger   *slog.Logger
}

// New creates a Handler.
func New(runner RunStarter, tasks TaskProcessor, admin RunAdmin, query RunQuery, articles ArticleReader, searcher Searcher, checker *health.Checker) *Handler {
	return &Handler{
		runner:   runner,
		tasks:    tasks,
		admin:    admin,
		query:    query,
		articles: articles,
		searcher: searcher,
		checker:  checker,
		logger:   logger.WithComponent("http-handler"),
	}
}

type startRunRequest struct {
	EndpointID    *int64 `json:"sourceEndpointId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// StartRun triggers a new ingestion run. Responds 202 with the run summary,
// or 409 when a run is already active.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.CorrelationID == "" {
		req.CorrelationID = logger.CorrelationID(r.Context())
	}

	resp, err := h.runner.StartRun(r.Context(), ingest.StartRunRequest{
		EndpointID:    req.EndpointID,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

// HandleTask accepts a dispatched endpoint task. A payload that cannot
// identify a task is acknowledged with 204 so the dispatcher never redelivers
// something that can never become valid.
func (h *Handler) HandleTask(w http.ResponseWriter, r *http.Request) {
	var task domain.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		h.logger.Warn("acking undecodable task payload", "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.tasks.HandleTask(r.Context(), task); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLogs returns one page of ingestion logs, newest first.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)
	logs, err := h.query.ListLogs(r.Context(), page, size)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, logs)
}

// GetRun returns one run with its per-endpoint logs.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "run id must be an integer")
		return
	}
	detail, err := h.query.GetRun(r.Context(), runID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

type abortRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

type abortRunResponse struct {
	RunID  int64  `json:"runId"`
	Status string `json:"status"`
}

// AbortActiveRun fails the active run. Responds 404 when no run is active.
func (h *Handler) AbortActiveRun(w http.ResponseWriter, r *http.Request) {
	var req abortRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	run, err := h.admin.AbortActiveRun(r.Context(), req.Reason)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, abortRunResponse{RunID: run.ID, Status: string(run.Status)})
}

// SearchChunks runs a similarity search over indexed article chunks.
func (h *Handler) SearchChunks(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type articleResponse struct {
	ID          int64      `json:"id"`
	PublisherID int64      `json:"publisherId"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"publishedDate,omitempty"`
	FirstSeenAt time.Time  `json:"firstSeenAt"`
	LastSeenAt  time.Time  `json:"lastSeenAt"`
	ChunkCount  int        `json:"chunkCount"`
	Indexed     bool       `json:"indexed"`
}

// ListArticles returns the most recently seen articles, optionally filtered
// by title substring.
func (h *Handler) ListArticles(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		h.writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 200")
		return
	}
	articles, err := h.articles.ListArticles(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	out := make([]articleResponse, 0, len(articles))
	for _, a := range articles {
		out = append(out, toArticleResponse(&a))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetArticle returns one article's metadata.
func (h *Handler) GetArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "article id must be an integer")
		return
	}
	article, err := h.articles.GetArticle(r.Context(), id)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toArticleResponse(article))
}

type articleContentResponse struct {
	ArticleID   int64     `json:"articleId"`
	Text        string    `json:"text"`
	ContentHash string    `json:"contentHash"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// GetArticleContent returns the extracted text of one article.
func (h *Handler) GetArticleContent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "article id must be an integer")
		return
	}
	content, err := h.articles.GetArticleContent(r.Context(), id)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, articleContentResponse{
		ArticleID:   content.ArticleID,
		Text:        content.Text,
		ContentHash: content.ContentHash,
		ExtractedAt: content.ExtractedAt,
	})
}

// Health runs all registered dependency checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Run(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, report)
}

func toArticleResponse(a *domain.Article) articleResponse {
	return articleResponse{
		ID:          a.ID,
		PublisherID: a.PublisherID,
		URL:         a.URL,
		Title:       a.Title,
		Status:      string(a.Status),
		PublishedAt: a.PublishedAt,
		FirstSeenAt: a.FirstSeenAt,
		LastSeenAt:  a.LastSeenAt,
		ChunkCount:  a.ChunkCount,
		Indexed:     a.Indexed,
	}
}

// errorResponse is the structured error body every endpoint returns.
type errorResponse struct {
	Timestamp     time.Time `json:"timestamp"`
	Status        int       `json:"status"`
	Error         string    `json:"error"`
	Message       string    `json:"message"`
	Path          string    `json:"path"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		message = "internal error"
	}
	h.writeError(w, r, status, message)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.writeJSON(w, status, errorResponse{
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Error:         http.StatusText(status),
		Message:       message,
		Path:          r.URL.Path,
		CorrelationID: logger.CorrelationID(r.Context()),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
