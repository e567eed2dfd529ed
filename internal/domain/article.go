// Package domain holds the entities shared across the collector: publishers,
// source endpoints, articles, ingestion runs, and their lifecycle enums.
package domain

import "time"

// ArticleStatus tracks an article through the pipeline.
type ArticleStatus string

const (
	ArticleDiscovered ArticleStatus = "DISCOVERED"
	ArticleFetched    ArticleStatus = "FETCHED"
	ArticleExtracted  ArticleStatus = "EXTRACTED"
	ArticleIndexed    ArticleStatus = "INDEXED"
	ArticleError      ArticleStatus = "ERROR"
)

// Publisher is a news outlet with bias-catalog ratings attached.
type Publisher struct {
	ID                   int64
	Name                 string
	Homepage             string
	MBFCBias             string
	MBFCFactualReporting string
	MBFCCredibility      string
	CreatedAt            time.Time
}

// Article is a single news article identified by its canonical URL hash
// within a publisher.
type Article struct {
	ID              int64
	PublisherID     int64
	URL             string
	URLHash         string
	Title           string
	Status          ArticleStatus
	PublishedAt     *time.Time
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	FetchedAt       *time.Time
	HTTPStatus      *int
	ETag            string
	LastModified    string
	ContentHash     string
	ChunkCount      int
	Indexed         bool
	FetchError      string
	ExtractionError string
}

// ArticleContent is the extracted plain text of an article, stored separately
// from the article row.
type ArticleContent struct {
	ArticleID   int64
	Text        string
	ContentHash string
	ExtractedAt time.Time
}

// ArticleSource records which endpoint surfaced an article and under what
// source-local item id, so re-discovery of the same item is cheap to skip.
type ArticleSource struct {
	ID           int64
	ArticleID    int64
	EndpointID   int64
	SourceItemID string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// RawArticle is an article reference as produced by a fetcher, before
// discovery and enrichment.
type RawArticle struct {
	URL          string
	Title        string
	PublishedAt  *time.Time
	SourceItemID string
	// Text carries body text already provided by the source (RSS content
	// or API description). Empty means the extractor must fetch the page.
	Text string
}

// FetchResult is the outcome of downloading and extracting one article page.
type FetchResult struct {
	HTTPStatus   int
	ETag         string
	LastModified string
	Text         string
	Paragraphs   int
}
