package domain

import "time"

// EndpointKind distinguishes feed-based endpoints from API-backed ones.
type EndpointKind string

const (
	EndpointRSS EndpointKind = "RSS"
	EndpointAPI EndpointKind = "API"
)

// SourceEndpoint is a concrete place articles are fetched from: an RSS feed
// URL or a news-API source identifier, owned by a publisher.
type SourceEndpoint struct {
	ID               int64
	PublisherID      int64
	Kind             EndpointKind
	URL              string
	APISourceID      string
	Enabled          bool
	FetchInterval    time.Duration
	LastFetchedAt    *time.Time
	LastSuccessAt    *time.Time
	ConsecutiveFails int
	BlockCount       int
	BlockedUntil     *time.Time
	RobotsDisallowed bool
}

// Blocked reports whether the endpoint is currently blocked.
func (e *SourceEndpoint) Blocked(now time.Time) bool {
	return e.BlockedUntil != nil && e.BlockedUntil.After(now)
}
