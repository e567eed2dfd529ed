package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/pkg/config"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example News</title>
    <item>
      <title>First story</title>
      <link>https://example.com/first</link>
      <guid>guid-1</guid>
      <description>Summary of the first story.</description>
      <pubDate>Mon, 02 Feb 2026 09:30:00 GMT</pubDate>
    </item>
    <item>
      <title>Second story</title>
      <link>https://example.com/second</link>
      <description>Summary of the second story.</description>
    </item>
    <item>
      <title>No link story</title>
    </item>
  </channel>
</rss>`

func TestRSSFetcherSupports(t *testing.T) {
	f := NewRSSFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0", Timeout: 5 * time.Second})

	rss := domain.SourceEndpoint{Kind: domain.EndpointRSS, URL: "https://example.com/feed"}
	api := domain.SourceEndpoint{Kind: domain.EndpointAPI, APISourceID: "bbc-news"}
	noURL := domain.SourceEndpoint{Kind: domain.EndpointRSS}

	assert.True(t, f.Supports(&rss))
	assert.False(t, f.Supports(&api))
	assert.False(t, f.Supports(&noURL))
	assert.False(t, f.Supports(nil))
}

func TestRSSFetcherParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeed))
	}))
	defer srv.Close()

	f := NewRSSFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0", Timeout: 5 * time.Second})
	endpoint := domain.SourceEndpoint{ID: 1, Kind: domain.EndpointRSS, URL: srv.URL}

	raws, err := f.Fetch(context.Background(), &endpoint)
	require.NoError(t, err)
	require.Len(t, raws, 2)

	first := raws[0]
	assert.Equal(t, "https://example.com/first", first.URL)
	assert.Equal(t, "First story", first.Title)
	assert.Equal(t, "guid-1", first.SourceItemID)
	assert.Equal(t, "Summary of the first story.", first.Text)
	require.NotNil(t, first.PublishedAt)
	assert.Equal(t, 2026, first.PublishedAt.Year())

	second := raws[1]
	// No GUID: the link doubles as the source item id.
	assert.Equal(t, "https://example.com/second", second.SourceItemID)
	assert.Nil(t, second.PublishedAt)
}

func TestRSSFetcherFeedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewRSSFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0", Timeout: 5 * time.Second})
	endpoint := domain.SourceEndpoint{ID: 1, Kind: domain.EndpointRSS, URL: srv.URL}

	_, err := f.Fetch(context.Background(), &endpoint)
	assert.Error(t, err)
}

func TestRegistrySelectsAndResets(t *testing.T) {
	rss := NewRSSFetcher(config.CrawlerConfig{UserAgent: "TestBot/1.0", Timeout: time.Second})
	api := NewNewsAPIFetcher(newsAPITestConfig(), &fakeEverythingClient{}, &fakeCatalog{})
	registry := NewRegistry(rss, api)

	rssEndpoint := domain.SourceEndpoint{Kind: domain.EndpointRSS, URL: "https://example.com/feed"}
	apiEndpointRow := apiEndpoint(1, "bbc-news")
	unknown := domain.SourceEndpoint{Kind: "FTP"}

	assert.Equal(t, rss, registry.For(&rssEndpoint))
	assert.Equal(t, api, registry.For(&apiEndpointRow))
	assert.Nil(t, registry.For(&unknown))

	// ResetBatches must reach the batch-aware fetcher without panicking on the
	// stateless one.
	registry.ResetBatches()
}
