package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/arturp39/factcheck-collector/pkg/logger"
)

const correlationHeader = "X-Correlation-Id"

// CorrelationID puts the caller's X-Correlation-Id on the request context and
// echoes it back on the response. Absent or non-UUID values are replaced with
// a fresh id so every request stays traceable.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		ctx := logger.WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
