// Package search serves similarity queries over the indexed article chunks,
// with a Redis result cache in front of the vector store.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arturp39/factcheck-collector/pkg/config"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
	"github.com/arturp39/factcheck-collector/pkg/logger"
	"github.com/arturp39/factcheck-collector/pkg/metrics"
	"github.com/arturp39/factcheck-collector/pkg/redis"

	"github.com/arturp39/factcheck-collector/internal/vector"
)

const cacheKeyPrefix = "search:"

// VectorSearcher is the similarity-search surface of the vector store.
type VectorSearcher interface {
	SearchByEmbedding(ctx context.Context, embedding []float64, limit int, minScore float64) ([]vector.ChunkResult, error)
}

// Request is a similarity search over article chunks. Limit and MinScore are
// optional; zero values take the configured defaults.
type Request struct {
	Embedding []float64 `json:"embedding"`
	Limit     int       `json:"limit,omitempty"`
	MinScore  *float64  `json:"minScore,omitempty"`
}

// Response carries the search hits and timing.
type Response struct {
	Results         []vector.ChunkResult `json:"results"`
	TotalFound      int                  `json:"totalFound"`
	ExecutionTimeMs int64                `json:"executionTimeMs"`
	CorrelationID   string               `json:"correlationId,omitempty"`
}

// Service validates and executes searches. Identical concurrent queries are
// collapsed through singleflight so the vector store sees each key once.
type Service struct {
	cfg      config.SearchConfig
	searcher VectorSearcher
	cache    *redis.Client
	group    singleflight.Group
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a search Service. cache may be nil to disable caching.
func New(cfg config.SearchConfig, searcher VectorSearcher, cache *redis.Client, m *metrics.Metrics) *Service {
	return &Service{
		cfg:      cfg,
		searcher: searcher,
		cache:    cache,
		metrics:  m,
		logger:   logger.WithComponent("search"),
	}
}

// Search validates the request, applies defaults, and returns matching
// chunks ordered by score.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	limit := req.Limit
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit < 1 || limit > 100 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be between 1 and 100")
	}
	minScore := s.cfg.DefaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	if minScore < 0 || minScore > 1 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "minScore must be between 0 and 1")
	}
	if len(req.Embedding) != s.cfg.EmbeddingDimension {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"embedding must have dimension %d", s.cfg.EmbeddingDimension)
	}

	start := time.Now()
	key := cacheKey(req.Embedding, limit, minScore)

	if results, ok := s.cacheGet(ctx, key); ok {
		s.observe("hit", start)
		return s.respond(ctx, results, start), nil
	}

	out, err, _ := s.group.Do(key, func() (any, error) {
		results, err := s.searcher.SearchByEmbedding(ctx, req.Embedding, limit, minScore)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, results)
		return results, nil
	})
	if err != nil {
		s.logger.Error("vector search failed", "error", err)
		return nil, err
	}
	s.observe("miss", start)
	return s.respond(ctx, out.([]vector.ChunkResult), start), nil
}

func (s *Service) respond(ctx context.Context, results []vector.ChunkResult, start time.Time) *Response {
	if s.metrics != nil {
		s.metrics.SearchResultsCount.WithLabelValues().Observe(float64(len(results)))
	}
	return &Response{
		Results:         results,
		TotalFound:      len(results),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		CorrelationID:   logger.CorrelationID(ctx),
	}
}

func (s *Service) observe(cacheStatus string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	if cacheStatus == "hit" {
		s.metrics.CacheHitsTotal.Inc()
	} else {
		s.metrics.CacheMissesTotal.Inc()
	}
}

func (s *Service) cacheGet(ctx context.Context, key string) ([]vector.ChunkResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !redis.IsNilError(err) {
			s.logger.Warn("search cache get failed", "error", err)
		}
		return nil, false
	}
	var results []vector.ChunkResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		s.logger.Warn("search cache entry unreadable, dropping", "error", err)
		return nil, false
	}
	return results, true
}

func (s *Service) cacheSet(ctx context.Context, key string, results []vector.ChunkResult) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, string(raw), s.cfg.CacheTTL); err != nil {
		s.logger.Warn("search cache set failed", "error", err)
	}
}

// cacheKey hashes the full query (embedding, limit, minScore) so distinct
// queries can never collide into one cache entry.
func cacheKey(embedding []float64, limit int, minScore float64) string {
	h := sha256.New()
	var buf [8]byte
	for _, v := range embedding {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	binary.BigEndian.PutUint64(buf[:], uint64(limit))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(minScore))
	h.Write(buf[:])
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}
