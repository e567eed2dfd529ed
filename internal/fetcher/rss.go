package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mmcdole/gofeed"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/pkg/config"
	"github.com/arturp39/factcheck-collector/pkg/logger"
)

// RSSFetcher downloads and parses RSS/Atom feeds. A feed download or parse
// failure is fatal for the endpoint's task; an empty feed is not.
type RSSFetcher struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewRSSFetcher creates an RSS fetcher using the crawler's user agent and
// timeout.
func NewRSSFetcher(cfg config.CrawlerConfig) *RSSFetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = cfg.UserAgent
	parser.Client = &http.Client{Timeout: cfg.Timeout}
	return &RSSFetcher{
		parser: parser,
		logger: logger.WithComponent("rss-fetcher"),
	}
}

// Supports reports whether the endpoint is an RSS feed.
func (f *RSSFetcher) Supports(endpoint *domain.SourceEndpoint) bool {
	return endpoint != nil && endpoint.Kind == domain.EndpointRSS && endpoint.URL != ""
}

// Fetch parses the feed and returns one RawArticle per usable entry. Entries
// without a link or title are skipped; a missing published date is kept nil.
// The entry's content or description rides along as fallback text for when
// page extraction fails downstream; the page itself stays the primary source.
func (f *RSSFetcher) Fetch(ctx context.Context, endpoint *domain.SourceEndpoint) ([]domain.RawArticle, error) {
	f.logger.Info("fetching rss feed", "endpoint_id", endpoint.ID, "url", endpoint.URL)

	feed, err := f.parser.ParseURLWithContext(endpoint.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching rss feed %s: %w", endpoint.URL, err)
	}

	var result []domain.RawArticle
	for _, item := range feed.Items {
		if item.Link == "" || item.Title == "" {
			continue
		}
		text := item.Content
		if text == "" {
			text = item.Description
		}
		sourceItemID := item.GUID
		if sourceItemID == "" {
			sourceItemID = item.Link
		}
		raw := domain.RawArticle{
			URL:          item.Link,
			Title:        item.Title,
			SourceItemID: sourceItemID,
			Text:         text,
		}
		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			raw.PublishedAt = &t
		}
		result = append(result, raw)
	}

	f.logger.Info("fetched rss items", "endpoint_id", endpoint.ID, "count", len(result))
	return result, nil
}
