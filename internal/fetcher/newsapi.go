package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/pkg/config"
	"github.com/arturp39/factcheck-collector/pkg/logger"
)

// Hard caps on the shared request budget, applied over config.
const (
	maxSourcesLimit  = 20
	maxPagesLimit    = 5
	maxRequestsLimit = 100
)

// EndpointCatalog supplies the API endpoints participating in a batch and
// their existing article coverage.
type EndpointCatalog interface {
	EnabledEndpointsByKind(ctx context.Context, kind domain.EndpointKind) ([]domain.SourceEndpoint, error)
	ArticleCountsByEndpoint(ctx context.Context, endpointIDs []int64) (map[int64]int, error)
}

// EverythingClient is the page-level news API surface the batch fetcher
// depends on.
type EverythingClient interface {
	FetchEverything(ctx context.Context, sources, sortBy string, page, pageSize int) (*EverythingResponse, error)
}

// NewsAPIFetcher batches all enabled API endpoints into as few upstream
// requests as possible and caches the results for the duration of one run.
// Each endpoint's share of the batch is consumable exactly once; the batch
// must be reset between runs.
type NewsAPIFetcher struct {
	cfg     config.NewsAPIConfig
	client  EverythingClient
	catalog EndpointCatalog
	logger  *slog.Logger

	mu                  sync.Mutex
	batch               *batchCache
	requestLimitReached bool
}

// NewNewsAPIFetcher creates the batch fetcher.
func NewNewsAPIFetcher(cfg config.NewsAPIConfig, client EverythingClient, catalog EndpointCatalog) *NewsAPIFetcher {
	return &NewsAPIFetcher{
		cfg:     cfg,
		client:  client,
		catalog: catalog,
		logger:  logger.WithComponent("newsapi-fetcher"),
	}
}

// Supports reports whether the endpoint is an API source with a source id.
func (f *NewsAPIFetcher) Supports(endpoint *domain.SourceEndpoint) bool {
	return endpoint != nil && endpoint.Kind == domain.EndpointAPI && strings.TrimSpace(endpoint.APISourceID) != ""
}

// Fetch returns the endpoint's articles from the current batch, building the
// batch on first use. Endpoints outside the batch (request budget exhausted)
// get an empty result and are deferred to a later run.
func (f *NewsAPIFetcher) Fetch(ctx context.Context, endpoint *domain.SourceEndpoint) ([]domain.RawArticle, error) {
	if endpoint == nil || endpoint.ID == 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.batch != nil {
		if f.batch.isKnown(endpoint.ID) {
			out := f.batch.consumeOnce(endpoint.ID)
			if f.batch.isEmpty() {
				f.batch = nil
			}
			return out, nil
		}
	}

	if f.requestLimitReached {
		f.logger.Info("news api request limit reached, deferring endpoint", "endpoint_id", endpoint.ID)
		return nil, nil
	}

	batch, err := f.buildBatch(ctx)
	if err != nil {
		return nil, err
	}
	f.batch = batch

	if !f.batch.isKnown(endpoint.ID) {
		if f.requestLimitReached {
			f.logger.Info("news api request limit reached, deferring endpoint", "endpoint_id", endpoint.ID)
		}
		if f.batch.isEmpty() {
			f.batch = nil
		}
		return nil, nil
	}

	out := f.batch.consumeOnce(endpoint.ID)
	if f.batch.isEmpty() {
		f.batch = nil
	}
	return out, nil
}

// ResetBatch clears the cached batch and the request-limit flag between runs.
func (f *NewsAPIFetcher) ResetBatch() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batch = nil
	f.requestLimitReached = false
}

// buildBatch fetches articles for every enabled API endpoint, prioritising
// endpoints with the highest existing article coverage so a tight request
// budget lands on the most productive sources first.
func (f *NewsAPIFetcher) buildBatch(ctx context.Context) (*batchCache, error) {
	f.requestLimitReached = false

	endpoints, err := f.catalog.EnabledEndpointsByKind(ctx, domain.EndpointAPI)
	if err != nil {
		return nil, fmt.Errorf("loading api endpoints: %w", err)
	}
	eligible := endpoints[:0:0]
	for _, ep := range endpoints {
		ep := ep
		if f.Supports(&ep) {
			eligible = append(eligible, ep)
		}
	}
	if len(eligible) == 0 {
		f.logger.Info("no enabled news api endpoints found")
		return newBatchCache(nil), nil
	}

	maxSources := f.cap("maxSourcesPerRequest", f.cfg.MaxSourcesPerRequest, maxSourcesLimit)
	maxPages := f.cap("maxPagesPerBatch", f.cfg.MaxPagesPerBatch, maxPagesLimit)
	maxRequests := f.cap("maxRequestsPerIngestion", f.cfg.MaxRequestsPerIngestion, maxRequestsLimit)
	pageSize := f.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	sortBy := f.cfg.SortBy
	if sortBy == "" {
		sortBy = "publishedAt"
	}

	ids := make([]int64, 0, len(eligible))
	for _, ep := range eligible {
		ids = append(ids, ep.ID)
	}
	counts, err := f.catalog.ArticleCountsByEndpoint(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading article counts: %w", err)
	}

	sorted := make([]domain.SourceEndpoint, len(eligible))
	copy(sorted, eligible)
	sortEndpointsByCoverage(sorted, counts)

	sourceIDToEndpoint := make(map[string]*domain.SourceEndpoint)
	for i := range sorted {
		ep := &sorted[i]
		sourceID := normalizeSourceID(ep.APISourceID)
		if sourceID == "" {
			continue
		}
		if prev, ok := sourceIDToEndpoint[sourceID]; ok {
			f.logger.Warn("duplicate news api source id, using first",
				"source_id", sourceID, "kept_endpoint", prev.ID, "dropped_endpoint", ep.ID)
			continue
		}
		sourceIDToEndpoint[sourceID] = ep
	}

	byEndpoint := make(map[int64][]domain.RawArticle)
	requestCount := 0
	limitReached := false

	for i := 0; i < len(sorted) && !limitReached; i += maxSources {
		end := i + maxSources
		if end > len(sorted) {
			end = len(sorted)
		}
		group := sorted[i:end]

		var sourceIDs []string
		groupSourceIDs := make(map[string]bool)
		for j := range group {
			sourceID := normalizeSourceID(group[j].APISourceID)
			if sourceID == "" || groupSourceIDs[sourceID] {
				continue
			}
			groupSourceIDs[sourceID] = true
			sourceIDs = append(sourceIDs, sourceID)
		}
		if len(sourceIDs) == 0 {
			continue
		}
		sourcesParam := strings.Join(sourceIDs, ",")

		seenURLs := make(map[int64]map[string]bool)
		for j := range group {
			if byEndpoint[group[j].ID] == nil {
				byEndpoint[group[j].ID] = []domain.RawArticle{}
			}
			seenURLs[group[j].ID] = make(map[string]bool)
		}

		for page := 1; page <= maxPages; page++ {
			if requestCount >= maxRequests {
				limitReached = true
				break
			}

			resp, err := f.client.FetchEverything(ctx, sourcesParam, sortBy, page, pageSize)
			if err != nil {
				if rl, ok := err.(*RateLimitError); ok {
					limitReached = true
					f.requestLimitReached = true
					if rl.RetryAfter > 0 {
						f.logger.Warn("news api rate limit reached", "retry_after_seconds", rl.RetryAfter)
					} else {
						f.logger.Warn("news api rate limit reached")
					}
					break
				}
				return nil, err
			}
			requestCount++

			if len(resp.Articles) == 0 {
				break
			}

			for _, article := range resp.Articles {
				sourceID := normalizeSourceID(article.Source.ID)
				if sourceID == "" || !groupSourceIDs[sourceID] {
					continue
				}
				ep := sourceIDToEndpoint[sourceID]
				if ep == nil || ep.ID == 0 {
					continue
				}
				if article.URL == "" || strings.TrimSpace(article.Title) == "" {
					continue
				}
				if seenURLs[ep.ID][article.URL] {
					continue
				}
				seenURLs[ep.ID][article.URL] = true

				raw := domain.RawArticle{
					URL:          article.URL,
					Title:        article.Title,
					SourceItemID: article.URL,
					Text:         article.Description,
					PublishedAt:  parsePublishedAt(article.PublishedAt),
				}
				byEndpoint[ep.ID] = append(byEndpoint[ep.ID], raw)
			}

			// A short page means there is nothing further to paginate.
			if len(resp.Articles) < pageSize {
				break
			}
		}
	}

	if limitReached {
		f.logger.Warn("news api request budget exhausted", "requests", requestCount, "max_requests", maxRequests)
	}
	f.requestLimitReached = limitReached
	return newBatchCache(byEndpoint), nil
}

func (f *NewsAPIFetcher) cap(name string, configured, hardMax int) int {
	if configured < 1 {
		configured = 1
	}
	if configured > hardMax {
		f.logger.Warn("news api parameter capped", "parameter", name, "cap", hardMax)
		return hardMax
	}
	return configured
}

// sortEndpointsByCoverage orders endpoints by descending existing article
// count, ties broken by ascending endpoint id.
func sortEndpointsByCoverage(endpoints []domain.SourceEndpoint, counts map[int64]int) {
	for i := 1; i < len(endpoints); i++ {
		for j := i; j > 0; j-- {
			a, b := endpoints[j-1], endpoints[j]
			ca, cb := counts[a.ID], counts[b.ID]
			if cb > ca || (cb == ca && b.ID < a.ID) {
				endpoints[j-1], endpoints[j] = b, a
			} else {
				break
			}
		}
	}
}

func normalizeSourceID(sourceID string) string {
	return strings.ToLower(strings.TrimSpace(sourceID))
}

func parsePublishedAt(value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}

// batchCache holds one run's worth of fetched articles keyed by endpoint id.
// Each endpoint's slice may be consumed once.
type batchCache struct {
	byEndpoint map[int64][]domain.RawArticle
	known      map[int64]bool
	remaining  map[int64]bool
}

func newBatchCache(byEndpoint map[int64][]domain.RawArticle) *batchCache {
	known := make(map[int64]bool, len(byEndpoint))
	remaining := make(map[int64]bool, len(byEndpoint))
	for id := range byEndpoint {
		known[id] = true
		remaining[id] = true
	}
	return &batchCache{byEndpoint: byEndpoint, known: known, remaining: remaining}
}

func (b *batchCache) isKnown(endpointID int64) bool {
	return b.known[endpointID]
}

func (b *batchCache) consumeOnce(endpointID int64) []domain.RawArticle {
	if !b.remaining[endpointID] {
		return nil
	}
	delete(b.remaining, endpointID)
	return b.byEndpoint[endpointID]
}

func (b *batchCache) isEmpty() bool {
	return len(b.remaining) == 0
}
