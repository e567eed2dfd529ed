package server

import (
	"net/http"
	"time"

	"github.com/arturp39/factcheck-collector/pkg/metrics"
	"github.com/arturp39/factcheck-collector/pkg/middleware"
)

// NewRouter builds the collector's HTTP handler.
//
// Route table:
//
//	POST   /ingestion/run                    → start a run
//	POST   /ingestion/task                   → process one dispatched task
//	GET    /admin/ingestion/logs             → paged log listing
//	GET    /admin/ingestion/runs/{id}        → run detail
//	POST   /admin/ingestion/runs/abort-active → abort the active run
//	POST   /internal/articles/search         → chunk similarity search
//	GET    /internal/articles                → latest/title-filtered articles
//	GET    /internal/articles/{id}           → article metadata
//	GET    /internal/articles/{id}/content   → extracted article text
//	GET    /health                           → dependency health report
//	GET    /metrics                          → Prometheus scrape
//
// Middleware chain (outermost first): CorrelationID → Metrics → mux. The
// read-side routes additionally get a per-request timeout; run start and task
// processing do not, an endpoint job can legitimately run for minutes.
func NewRouter(h *Handler, m *metrics.Metrics, readTimeout time.Duration) http.Handler {
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	read := middleware.Timeout(readTimeout)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingestion/run", h.StartRun)
	mux.HandleFunc("POST /ingestion/task", h.HandleTask)

	mux.Handle("GET /admin/ingestion/logs", read(http.HandlerFunc(h.ListLogs)))
	mux.Handle("GET /admin/ingestion/runs/{id}", read(http.HandlerFunc(h.GetRun)))
	mux.HandleFunc("POST /admin/ingestion/runs/abort-active", h.AbortActiveRun)

	mux.Handle("POST /internal/articles/search", read(http.HandlerFunc(h.SearchChunks)))
	mux.Handle("GET /internal/articles", read(http.HandlerFunc(h.ListArticles)))
	mux.Handle("GET /internal/articles/{id}", read(http.HandlerFunc(h.GetArticle)))
	mux.Handle("GET /internal/articles/{id}/content", read(http.HandlerFunc(h.GetArticleContent)))

	mux.Handle("GET /health", read(http.HandlerFunc(h.Health)))
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CorrelationID(chain)
	return chain
}
