package fetcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/pkg/config"
)

type fakeCatalog struct {
	endpoints []domain.SourceEndpoint
	counts    map[int64]int
	err       error
}

func (f *fakeCatalog) EnabledEndpointsByKind(ctx context.Context, kind domain.EndpointKind) ([]domain.SourceEndpoint, error) {
	return f.endpoints, f.err
}

func (f *fakeCatalog) ArticleCountsByEndpoint(ctx context.Context, ids []int64) (map[int64]int, error) {
	return f.counts, nil
}

type everythingCall struct {
	sources  string
	page     int
	pageSize int
}

type fakeEverythingClient struct {
	calls     []everythingCall
	responses []*EverythingResponse
	errs      []error
}

func (f *fakeEverythingClient) FetchEverything(ctx context.Context, sources, sortBy string, page, pageSize int) (*EverythingResponse, error) {
	f.calls = append(f.calls, everythingCall{sources: sources, page: page, pageSize: pageSize})
	i := len(f.calls) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &EverythingResponse{Status: "ok"}, nil
}

func apiEndpoint(id int64, sourceID string) domain.SourceEndpoint {
	return domain.SourceEndpoint{
		ID:          id,
		PublisherID: id,
		Kind:        domain.EndpointAPI,
		APISourceID: sourceID,
		Enabled:     true,
	}
}

func apiArticle(sourceID, url, title string) NewsAPIArticle {
	a := NewsAPIArticle{Title: title, URL: url, Description: "summary", PublishedAt: "2026-02-01T10:00:00Z"}
	a.Source.ID = sourceID
	return a
}

func newsAPITestConfig() config.NewsAPIConfig {
	return config.NewsAPIConfig{
		SortBy:                  "publishedAt",
		PageSize:                100,
		MaxSourcesPerRequest:    20,
		MaxPagesPerBatch:        2,
		MaxRequestsPerIngestion: 50,
	}
}

func TestNewsAPIFetcherSupports(t *testing.T) {
	f := NewNewsAPIFetcher(newsAPITestConfig(), &fakeEverythingClient{}, &fakeCatalog{})

	api := apiEndpoint(1, "bbc-news")
	rss := domain.SourceEndpoint{ID: 2, Kind: domain.EndpointRSS, URL: "https://example.com/feed"}
	noSource := domain.SourceEndpoint{ID: 3, Kind: domain.EndpointAPI}

	assert.True(t, f.Supports(&api))
	assert.False(t, f.Supports(&rss))
	assert.False(t, f.Supports(&noSource))
	assert.False(t, f.Supports(nil))
}

func TestFetchBuildsBatchAndRoutesPerEndpoint(t *testing.T) {
	ep1 := apiEndpoint(1, "bbc-news")
	ep2 := apiEndpoint(2, "reuters")
	client := &fakeEverythingClient{responses: []*EverythingResponse{{
		Status: "ok",
		Articles: []NewsAPIArticle{
			apiArticle("bbc-news", "https://bbc.example/a", "BBC one"),
			apiArticle("reuters", "https://reuters.example/a", "Reuters one"),
			apiArticle("bbc-news", "https://bbc.example/b", "BBC two"),
		},
	}}}
	f := NewNewsAPIFetcher(newsAPITestConfig(), client, &fakeCatalog{
		endpoints: []domain.SourceEndpoint{ep1, ep2},
		counts:    map[int64]int{},
	})

	out1, err := f.Fetch(context.Background(), &ep1)
	require.NoError(t, err)
	require.Len(t, out1, 2)
	assert.Equal(t, "https://bbc.example/a", out1[0].URL)
	assert.Equal(t, "summary", out1[0].Text)
	require.NotNil(t, out1[0].PublishedAt)

	out2, err := f.Fetch(context.Background(), &ep2)
	require.NoError(t, err)
	require.Len(t, out2, 1)
	assert.Equal(t, "Reuters one", out2[0].Title)

	// Both endpoints served from one upstream request.
	require.Len(t, client.calls, 1)
	assert.Equal(t, "bbc-news,reuters", client.calls[0].sources)
}

func TestFetchConsumesEachEndpointOnce(t *testing.T) {
	ep := apiEndpoint(1, "bbc-news")
	ep2 := apiEndpoint(2, "reuters")
	client := &fakeEverythingClient{responses: []*EverythingResponse{{
		Status:   "ok",
		Articles: []NewsAPIArticle{apiArticle("bbc-news", "https://bbc.example/a", "BBC one")},
	}}}
	f := NewNewsAPIFetcher(newsAPITestConfig(), client, &fakeCatalog{
		endpoints: []domain.SourceEndpoint{ep, ep2},
	})

	first, err := f.Fetch(context.Background(), &ep)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := f.Fetch(context.Background(), &ep)
	require.NoError(t, err)
	assert.Nil(t, second)
	// The second consume must not trigger another upstream batch.
	assert.Len(t, client.calls, 1)
}

func TestFetchDeduplicatesURLsPerEndpoint(t *testing.T) {
	ep := apiEndpoint(1, "bbc-news")
	client := &fakeEverythingClient{responses: []*EverythingResponse{{
		Status: "ok",
		Articles: []NewsAPIArticle{
			apiArticle("bbc-news", "https://bbc.example/a", "First copy"),
			apiArticle("bbc-news", "https://bbc.example/a", "Second copy"),
		},
	}}}
	f := NewNewsAPIFetcher(newsAPITestConfig(), client, &fakeCatalog{
		endpoints: []domain.SourceEndpoint{ep},
	})

	out, err := f.Fetch(context.Background(), &ep)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "First copy", out[0].Title)
}

func TestFetchSkipsArticlesWithoutURLOrTitle(t *testing.T) {
	ep := apiEndpoint(1, "bbc-news")
	missingURL := apiArticle("bbc-news", "", "No link")
	missingTitle := apiArticle("bbc-news", "https://bbc.example/b", "  ")
	client := &fakeEverythingClient{responses: []*EverythingResponse{{
		Status: "ok",
		Articles: []NewsAPIArticle{
			missingURL,
			missingTitle,
			apiArticle("bbc-news", "https://bbc.example/c", "Kept"),
		},
	}}}
	f := NewNewsAPIFetcher(newsAPITestConfig(), client, &fakeCatalog{
		endpoints: []domain.SourceEndpoint{ep},
	})

	out, err := f.Fetch(context.Background(), &ep)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Kept", out[0].Title)
}

func TestFetchKeepsNilPublishedAt(t *testing.T) {
	ep := apiEndpoint(1, "bbc-news")
	noDate := apiArticle("bbc-news", "https://bbc.example/a", "Undated")
	noDate.PublishedAt = ""
	client := &fakeEverythingClient{responses: []*EverythingResponse{{
		Status:   "ok",
		Articles: []NewsAPIArticle{noDate},
	}}}
	f := NewNewsAPIFetcher(newsAPITestConfig(), client, &fakeCatalog{
		endpoints: []domain.SourceEndpoint{ep},
	})

	out, err := f.Fetch(context.Background(), &ep)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].PublishedAt)
}

func TestFetchPrioritizesCoverageUnderTightBudget(t *testing.T) {
	// One request allowed, one source per request: only the endpoint with the
	// highest existing coverage gets fetched.
	cfg := newsAPITestConfig()
	cfg.MaxSourcesPerRequest = 1
	cfg.MaxPagesPerBatch = 1
	cfg.MaxRequestsPerIngestion = 1

	small := apiEndpoint(1, "small-outlet")
	big := apiEndpoint(2, "big-outlet")
	client := &fakeEverythingClient{responses: []*EverythingResponse{{
		Status:   "ok",
		Articles: []NewsAPIArticle{apiArticle("big-outlet", "https://big.example/a", "Big story")},
	}}}
	f := NewNewsAPIFetcher(cfg, client, &fakeCatalog{
		endpoints: []domain.SourceEndpoint{small, big},
		counts:    map[int64]int{1: 3, 2: 90},
	})

	out, err := f.Fetch(context.Background(), &big)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	require.Len(t, client.calls, 1)
	assert.Equal(t, "big-outlet", client.calls[0].sources)

	// The small outlet got nothing from the exhausted budget.
	deferred, err := f.Fetch(context.Background(), &small)
	require.NoError(t, err)
	assert.Empty(t, deferred)
	assert.Len(t, client.calls, 1)
}

func TestFetchRateLimitDefersRemainingEndpoints(t *testing.T) {
	ep1 := apiEndpoint(1, "bbc-news")
	ep2 := apiEndpoint(2, "reuters")
	cfg := newsAPITestConfig()
	cfg.MaxSourcesPerRequest = 1
	cfg.MaxPagesPerBatch = 1

	client := &fakeEverythingClient{
		responses: []*EverythingResponse{{
			Status:   "ok",
			Articles: []NewsAPIArticle{apiArticle("bbc-news", "https://bbc.example/a", "BBC one")},
		}},
		errs: []error{nil, &RateLimitError{RetryAfter: 60}},
	}
	f := NewNewsAPIFetcher(cfg, client, &fakeCatalog{
		endpoints: []domain.SourceEndpoint{ep1, ep2},
		counts:    map[int64]int{1: 10, 2: 5},
	})

	out, err := f.Fetch(context.Background(), &ep1)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	deferred, err := f.Fetch(context.Background(), &ep2)
	require.NoError(t, err)
	assert.Empty(t, deferred)
	// The rate limit is remembered: no new batch gets built.
	assert.Len(t, client.calls, 2)
}

func TestResetBatchClearsDeferral(t *testing.T) {
	ep := apiEndpoint(1, "bbc-news")
	client := &fakeEverythingClient{
		errs: []error{&RateLimitError{}},
		responses: []*EverythingResponse{nil, {
			Status:   "ok",
			Articles: []NewsAPIArticle{apiArticle("bbc-news", "https://bbc.example/a", "BBC one")},
		}},
	}
	f := NewNewsAPIFetcher(newsAPITestConfig(), client, &fakeCatalog{
		endpoints: []domain.SourceEndpoint{ep},
	})

	out, err := f.Fetch(context.Background(), &ep)
	require.NoError(t, err)
	assert.Empty(t, out)

	f.ResetBatch()

	out, err = f.Fetch(context.Background(), &ep)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestFetchPropagatesCatalogError(t *testing.T) {
	ep := apiEndpoint(1, "bbc-news")
	f := NewNewsAPIFetcher(newsAPITestConfig(), &fakeEverythingClient{}, &fakeCatalog{
		err: fmt.Errorf("connection refused"),
	})

	_, err := f.Fetch(context.Background(), &ep)
	assert.Error(t, err)
}

func TestSortEndpointsByCoverage(t *testing.T) {
	endpoints := []domain.SourceEndpoint{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	counts := map[int64]int{1: 5, 2: 20, 3: 20, 4: 0}

	sortEndpointsByCoverage(endpoints, counts)

	ids := []int64{endpoints[0].ID, endpoints[1].ID, endpoints[2].ID, endpoints[3].ID}
	assert.Equal(t, []int64{2, 3, 1, 4}, ids)
}
