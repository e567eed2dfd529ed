// Package fetcher discovers article references from source endpoints: RSS
// feeds and the news-search API.
package fetcher

import (
	"context"

	"github.com/arturp39/factcheck-collector/internal/domain"
)

// SourceFetcher produces raw article references for one endpoint.
type SourceFetcher interface {
	Fetch(ctx context.Context, endpoint *domain.SourceEndpoint) ([]domain.RawArticle, error)
	Supports(endpoint *domain.SourceEndpoint) bool
}

// BatchResettable is implemented by fetchers that hold per-run batch state
// which must be cleared between runs.
type BatchResettable interface {
	ResetBatch()
}

// Registry selects the fetcher responsible for an endpoint.
type Registry struct {
	fetchers []SourceFetcher
}

// NewRegistry creates a Registry over the given fetchers.
func NewRegistry(fetchers ...SourceFetcher) *Registry {
	return &Registry{fetchers: fetchers}
}

// For returns the first fetcher supporting the endpoint, or nil.
func (r *Registry) For(endpoint *domain.SourceEndpoint) SourceFetcher {
	for _, f := range r.fetchers {
		if f.Supports(endpoint) {
			return f
		}
	}
	return nil
}

// ResetBatches clears per-run state on every batch-aware fetcher.
func (r *Registry) ResetBatches() {
	for _, f := range r.fetchers {
		if b, ok := f.(BatchResettable); ok {
			b.ResetBatch()
		}
	}
}
