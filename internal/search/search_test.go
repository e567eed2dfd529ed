package search

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturp39/factcheck-collector/internal/vector"
	"github.com/arturp39/factcheck-collector/pkg/config"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
)

type searchCall struct {
	limit    int
	minScore float64
}

type fakeVectorSearcher struct {
	calls   []searchCall
	results []vector.ChunkResult
	err     error
}

func (f *fakeVectorSearcher) SearchByEmbedding(ctx context.Context, embedding []float64, limit int, minScore float64) ([]vector.ChunkResult, error) {
	f.calls = append(f.calls, searchCall{limit: limit, minScore: minScore})
	return f.results, f.err
}

func searchTestConfig() config.SearchConfig {
	return config.SearchConfig{
		DefaultLimit:       10,
		DefaultMinScore:    0.7,
		EmbeddingDimension: 3,
	}
}

func embedding() []float64 { return []float64{0.1, 0.2, 0.3} }

func TestSearchAppliesDefaults(t *testing.T) {
	searcher := &fakeVectorSearcher{results: []vector.ChunkResult{
		{ArticleID: 7, ChunkIndex: 0, Text: "a chunk", Score: 0.9},
	}}
	svc := New(searchTestConfig(), searcher, nil, nil)

	resp, err := svc.Search(context.Background(), Request{Embedding: embedding()})
	require.NoError(t, err)

	require.Len(t, searcher.calls, 1)
	assert.Equal(t, searchCall{limit: 10, minScore: 0.7}, searcher.calls[0])
	assert.Equal(t, 1, resp.TotalFound)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(7), resp.Results[0].ArticleID)
	assert.GreaterOrEqual(t, resp.ExecutionTimeMs, int64(0))
}

func TestSearchHonorsExplicitParameters(t *testing.T) {
	searcher := &fakeVectorSearcher{}
	svc := New(searchTestConfig(), searcher, nil, nil)

	minScore := 0.5
	_, err := svc.Search(context.Background(), Request{
		Embedding: embedding(),
		Limit:     25,
		MinScore:  &minScore,
	})
	require.NoError(t, err)

	require.Len(t, searcher.calls, 1)
	assert.Equal(t, searchCall{limit: 25, minScore: 0.5}, searcher.calls[0])
}

func TestSearchRejectsBadLimit(t *testing.T) {
	svc := New(searchTestConfig(), &fakeVectorSearcher{}, nil, nil)

	_, err := svc.Search(context.Background(), Request{Embedding: embedding(), Limit: 101})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatusCode(err))
	assert.ErrorContains(t, err, "limit must be between 1 and 100")

	_, err = svc.Search(context.Background(), Request{Embedding: embedding(), Limit: -1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSearchRejectsBadMinScore(t *testing.T) {
	svc := New(searchTestConfig(), &fakeVectorSearcher{}, nil, nil)

	bad := 1.5
	_, err := svc.Search(context.Background(), Request{Embedding: embedding(), MinScore: &bad})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.ErrorContains(t, err, "minScore must be between 0 and 1")
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	svc := New(searchTestConfig(), &fakeVectorSearcher{}, nil, nil)

	_, err := svc.Search(context.Background(), Request{Embedding: []float64{0.1, 0.2}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.ErrorContains(t, err, "embedding must have dimension 3")
}

func TestSearchPropagatesSearcherError(t *testing.T) {
	searcher := &fakeVectorSearcher{err: errors.New("weaviate down")}
	svc := New(searchTestConfig(), searcher, nil, nil)

	_, err := svc.Search(context.Background(), Request{Embedding: embedding()})
	assert.ErrorContains(t, err, "weaviate down")
}

func TestSearchEmptyResults(t *testing.T) {
	svc := New(searchTestConfig(), &fakeVectorSearcher{}, nil, nil)

	resp, err := svc.Search(context.Background(), Request{Embedding: embedding()})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalFound)
	assert.Empty(t, resp.Results)
}

func TestCacheKeyDistinguishesQueries(t *testing.T) {
	base := cacheKey([]float64{0.1, 0.2}, 10, 0.7)

	assert.Equal(t, base, cacheKey([]float64{0.1, 0.2}, 10, 0.7))
	assert.NotEqual(t, base, cacheKey([]float64{0.2, 0.1}, 10, 0.7))
	assert.NotEqual(t, base, cacheKey([]float64{0.1, 0.2}, 11, 0.7))
	assert.NotEqual(t, base, cacheKey([]float64{0.1, 0.2}, 10, 0.8))
}
