package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/internal/extractor"
	"github.com/arturp39/factcheck-collector/internal/fetcher"
	"github.com/arturp39/factcheck-collector/internal/robots"
	"github.com/arturp39/factcheck-collector/pkg/config"
)

type blockSignal struct {
	endpointID int64
	threshold  int
	duration   time.Duration
}

type fakeJobStore struct {
	completed    []domain.IngestionLog
	successes    []int64
	failures     []int64
	blockSignals []blockSignal
	blockClears  []int64
	robotsMarks  []int64
}

func (s *fakeJobStore) CompleteLog(ctx context.Context, log *domain.IngestionLog) error {
	s.completed = append(s.completed, *log)
	return nil
}

func (s *fakeJobStore) RecordEndpointSuccess(ctx context.Context, endpointID int64) error {
	s.successes = append(s.successes, endpointID)
	return nil
}

func (s *fakeJobStore) RecordEndpointFailure(ctx context.Context, endpointID int64) error {
	s.failures = append(s.failures, endpointID)
	return nil
}

func (s *fakeJobStore) RecordBlockSignal(ctx context.Context, endpointID int64, threshold int, duration time.Duration) error {
	s.blockSignals = append(s.blockSignals, blockSignal{endpointID: endpointID, threshold: threshold, duration: duration})
	return nil
}

func (s *fakeJobStore) ClearEndpointBlockState(ctx context.Context, endpointID int64) error {
	s.blockClears = append(s.blockClears, endpointID)
	return nil
}

func (s *fakeJobStore) MarkEndpointRobotsDisallowed(ctx context.Context, endpointID int64) error {
	s.robotsMarks = append(s.robotsMarks, endpointID)
	return nil
}

type stubFetcher struct {
	raws []domain.RawArticle
	err  error
}

func (f *stubFetcher) Supports(endpoint *domain.SourceEndpoint) bool { return true }

func (f *stubFetcher) Fetch(ctx context.Context, endpoint *domain.SourceEndpoint) ([]domain.RawArticle, error) {
	return f.raws, f.err
}

type jobFixture struct {
	store     *fakeJobStore
	fetcher   *stubFetcher
	extractor *fakePageExtractor
	job       *EndpointJob
	baseURL   string
}

// newJobFixture wires an EndpointJob over fakes. Article URLs point at a local
// server without a robots.txt, so the robots probe resolves to "allowed"
// without leaving the test.
func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	store := &fakeJobStore{}
	stub := &stubFetcher{}
	ext := &fakePageExtractor{
		result:  &extractor.Result{HTTPStatus: 200, Text: "Fetched page body."},
		results: make(map[string]*extractor.Result),
	}
	robotsCache := robots.NewCache(config.CrawlerConfig{
		UserAgent:     "TestBot/1.0",
		RobotsTimeout: time.Second,
		RobotsTTL:     time.Hour,
	})
	cfg := config.IngestionConfig{
		TaskLeaseSeconds: 900,
		BlockThreshold:   2,
		BlockDuration:    24 * time.Hour,
	}
	job := NewEndpointJob(
		cfg,
		store,
		fetcher.NewRegistry(stub),
		robotsCache,
		NewDiscovery(newFakeDiscoveryStore()),
		NewEnrichment(newFakeEnrichmentStore(), ext),
		NewIndexer(chunkingTestConfig(), newFakeIndexerStore(), &fakeTextProcessor{sentences: sentenceList(4)}, &fakeChunkWriter{}, nil),
		nil,
	)
	return &jobFixture{store: store, fetcher: stub, extractor: ext, job: job, baseURL: srv.URL}
}

func (fx *jobFixture) url(path string) string {
	return fx.baseURL + path
}

func (fx *jobFixture) raw(path, title string) domain.RawArticle {
	return domain.RawArticle{URL: fx.url(path), Title: title}
}

func jobEndpoint() *domain.SourceEndpoint {
	return &domain.SourceEndpoint{ID: 10, PublisherID: 5, Kind: domain.EndpointRSS, Enabled: true, URL: "https://example.com/feed"}
}

func jobLog() *domain.IngestionLog {
	return &domain.IngestionLog{ID: 1, RunID: 2, EndpointID: 10, Status: domain.LogProcessing}
}

func TestJobSkipsRobotsDisallowedEndpoint(t *testing.T) {
	fx := newJobFixture(t)
	endpoint := jobEndpoint()
	endpoint.RobotsDisallowed = true

	require.NoError(t, fx.job.Run(context.Background(), endpoint, jobLog()))

	require.Len(t, fx.store.completed, 1)
	done := fx.store.completed[0]
	assert.Equal(t, domain.LogSkipped, done.Status)
	assert.Equal(t, "Robots.txt disallows scraping for this source", done.ErrorDetails)
}

func TestJobSkipsBlockedEndpoint(t *testing.T) {
	fx := newJobFixture(t)
	endpoint := jobEndpoint()
	until := time.Now().Add(time.Hour).UTC()
	endpoint.BlockedUntil = &until

	require.NoError(t, fx.job.Run(context.Background(), endpoint, jobLog()))

	require.Len(t, fx.store.completed, 1)
	done := fx.store.completed[0]
	assert.Equal(t, domain.LogSkipped, done.Status)
	assert.Contains(t, done.ErrorDetails, "Source blocked until")
}

func TestJobFailsWhenNoFetcherSupportsEndpoint(t *testing.T) {
	store := &fakeJobStore{}
	job := NewEndpointJob(
		config.IngestionConfig{},
		store,
		fetcher.NewRegistry(), // empty registry
		robots.NewCache(config.CrawlerConfig{RobotsTTL: time.Hour, RobotsTimeout: time.Second}),
		NewDiscovery(newFakeDiscoveryStore()),
		NewEnrichment(newFakeEnrichmentStore(), &fakePageExtractor{}),
		NewIndexer(chunkingTestConfig(), newFakeIndexerStore(), &fakeTextProcessor{}, &fakeChunkWriter{}, nil),
		nil,
	)

	require.NoError(t, job.Run(context.Background(), jobEndpoint(), jobLog()))

	require.Len(t, store.completed, 1)
	assert.Equal(t, domain.LogFailed, store.completed[0].Status)
	assert.Contains(t, store.completed[0].ErrorDetails, "no fetcher supports endpoint kind")
	assert.Equal(t, []int64{10}, store.failures)
}

func TestJobFailsOnFetchError(t *testing.T) {
	fx := newJobFixture(t)
	fx.fetcher.err = errors.New("feed unreachable")

	require.NoError(t, fx.job.Run(context.Background(), jobEndpoint(), jobLog()))

	require.Len(t, fx.store.completed, 1)
	done := fx.store.completed[0]
	assert.Equal(t, domain.LogFailed, done.Status)
	assert.Equal(t, "Fetch error: feed unreachable", done.ErrorDetails)
	assert.Equal(t, []int64{10}, fx.store.failures)
}

func TestJobRobotsProbeSkipsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fx := newJobFixture(t)
	fx.fetcher.raws = []domain.RawArticle{{URL: srv.URL + "/story", Title: "Needs crawling"}}

	require.NoError(t, fx.job.Run(context.Background(), jobEndpoint(), jobLog()))

	assert.Equal(t, []int64{10}, fx.store.robotsMarks)
	require.Len(t, fx.store.completed, 1)
	done := fx.store.completed[0]
	assert.Equal(t, domain.LogSkipped, done.Status)
	assert.Equal(t, 1, done.ArticlesFound)
	// Nothing got as far as a page fetch.
	assert.Equal(t, 0, fx.extractor.calls)
}

func TestJobSuccess(t *testing.T) {
	fx := newJobFixture(t)
	fx.fetcher.raws = []domain.RawArticle{fx.raw("/a", "First"), fx.raw("/b", "Second")}

	require.NoError(t, fx.job.Run(context.Background(), jobEndpoint(), jobLog()))

	require.Len(t, fx.store.completed, 1)
	done := fx.store.completed[0]
	assert.Equal(t, domain.LogSuccess, done.Status)
	assert.Equal(t, 2, done.ArticlesFound)
	assert.Equal(t, 2, done.ArticlesNew)
	assert.Equal(t, 0, done.ArticlesFailed)
	// Every article went through page extraction.
	assert.Equal(t, []string{fx.url("/a"), fx.url("/b")}, fx.extractor.urls)
	assert.Equal(t, []int64{10}, fx.store.successes)
	assert.Empty(t, fx.store.failures)
	assert.Empty(t, fx.store.blockSignals)
}

func TestJobPartialClearsBlockState(t *testing.T) {
	// The first article extracts fine; the second comes back as boilerplate.
	fx := newJobFixture(t)
	fx.fetcher.raws = []domain.RawArticle{fx.raw("/a", "First"), fx.raw("/b", "Second")}
	fx.extractor.results[fx.url("/b")] = &extractor.Result{
		HTTPStatus:      200,
		ExtractionError: "Low-quality extraction (likely boilerplate or dynamic page)",
	}

	require.NoError(t, fx.job.Run(context.Background(), jobEndpoint(), jobLog()))

	require.Len(t, fx.store.completed, 1)
	done := fx.store.completed[0]
	assert.Equal(t, domain.LogPartial, done.Status)
	assert.Equal(t, 1, done.ArticlesNew)
	assert.Equal(t, 1, done.ArticlesFailed)
	// A task that still produced articles is a failure, not a block signal.
	assert.Empty(t, fx.store.blockSignals)
	assert.Equal(t, []int64{10}, fx.store.failures)
	assert.Equal(t, []int64{10}, fx.store.blockClears)
}

func TestJobAllExtractionFailedRecordsBlockSignal(t *testing.T) {
	fx := newJobFixture(t)
	fx.fetcher.raws = []domain.RawArticle{fx.raw("/a", "Needs crawling")}
	fx.extractor.result = &extractor.Result{
		HTTPStatus:      200,
		ExtractionError: "Low-quality extraction (likely boilerplate or dynamic page)",
	}

	require.NoError(t, fx.job.Run(context.Background(), jobEndpoint(), jobLog()))

	require.Len(t, fx.store.completed, 1)
	assert.Equal(t, domain.LogFailed, fx.store.completed[0].Status)
	require.Len(t, fx.store.blockSignals, 1)
	assert.Equal(t, blockSignal{endpointID: 10, threshold: 2, duration: 24 * time.Hour}, fx.store.blockSignals[0])
	assert.Empty(t, fx.store.blockClears)
}

func TestJobBlockedSuspectedStopsProcessing(t *testing.T) {
	fx := newJobFixture(t)
	fx.fetcher.raws = []domain.RawArticle{fx.raw("/a", "First"), fx.raw("/b", "Never reached")}
	fx.extractor.result = &extractor.Result{
		HTTPStatus:       429,
		FetchError:       "Blocked/Rate-limited/CAPTCHA suspected",
		BlockedSuspected: true,
	}

	require.NoError(t, fx.job.Run(context.Background(), jobEndpoint(), jobLog()))

	// Processing stops after the first blocked article.
	assert.Equal(t, 1, fx.extractor.calls)
	require.Len(t, fx.store.completed, 1)
	done := fx.store.completed[0]
	assert.Equal(t, domain.LogFailed, done.Status)
	assert.Equal(t, 2, done.ArticlesFound)
	assert.Equal(t, 1, done.ArticlesFailed)
	require.Len(t, fx.store.blockSignals, 1)
}

func TestJobRobotsDuringEnrichmentMarksEndpoint(t *testing.T) {
	// The first page extracts fine; the second one's fetch reports a robots
	// denial.
	fx := newJobFixture(t)
	fx.fetcher.raws = []domain.RawArticle{fx.raw("/a", "First"), fx.raw("/b", "Second")}
	fx.extractor.results[fx.url("/b")] = &extractor.Result{
		FetchError:       "Robots.txt disallows fetching",
		RobotsDisallowed: true,
	}

	require.NoError(t, fx.job.Run(context.Background(), jobEndpoint(), jobLog()))

	assert.Equal(t, []int64{10}, fx.store.robotsMarks)
	require.Len(t, fx.store.completed, 1)
	assert.Equal(t, domain.LogPartial, fx.store.completed[0].Status)
}

func TestClassifyBlockReason(t *testing.T) {
	tests := []struct {
		name  string
		fetch *extractor.Result
		want  blockReason
	}{
		{"nil result", nil, ""},
		{"blocked suspected", &extractor.Result{BlockedSuspected: true}, reasonBlocked},
		{"robots flag", &extractor.Result{RobotsDisallowed: true}, reasonRobots},
		{"robots message", &extractor.Result{FetchError: "Robots.txt disallows fetching"}, reasonRobots},
		{"low quality", &extractor.Result{ExtractionError: "Low-quality extraction (likely boilerplate or dynamic page)"}, reasonExtraction},
		{"plain failure", &extractor.Result{FetchError: "HTTP status 500"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyBlockReason(tt.fetch))
		})
	}
}

func TestFirstCrawlableURL(t *testing.T) {
	assert.Equal(t, "", firstCrawlableURL(nil))
	assert.Equal(t, "", firstCrawlableURL([]domain.RawArticle{{URL: "   "}}))
	assert.Equal(t, "https://example.com/a", firstCrawlableURL([]domain.RawArticle{
		{URL: ""},
		{URL: "https://example.com/a", Text: "Feed-provided body."},
		{URL: "https://example.com/b"},
	}))
}
