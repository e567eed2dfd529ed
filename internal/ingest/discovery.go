package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
	"github.com/arturp39/factcheck-collector/pkg/logger"

	"github.com/arturp39/factcheck-collector/internal/domain"
)

// Pages that carry no article text worth extracting.
var mediaURLFragments = []string{
	"/video/", "/videos/", "/newsfeed/", "/latest-news-bulletin",
	"/picture/", "/cartoon/", "/gallery/", "/slideshow/",
	"/watch/", "/live/", "/iplayer/",
}

type discoveryStore interface {
	HasArticleSource(ctx context.Context, endpointID int64, sourceItemID string) (bool, error)
	FindArticleByHash(ctx context.Context, publisherID int64, urlHash string) (*domain.Article, error)
	CreateArticle(ctx context.Context, a *domain.Article) (*domain.Article, bool, error)
	TouchArticle(ctx context.Context, id int64) error
	UpsertArticleSource(ctx context.Context, articleID, endpointID int64, sourceItemID string) error
}

// Discovery decides whether a raw article reference is new and records the
// article row and its endpoint link.
type Discovery struct {
	store  discoveryStore
	logger *slog.Logger
}

// NewDiscovery creates a Discovery over the store.
func NewDiscovery(store discoveryStore) *Discovery {
	return &Discovery{store: store, logger: logger.WithComponent("discovery")}
}

// DiscoveryResult carries the resolved article and whether this endpoint is
// the first to surface it.
type DiscoveryResult struct {
	Article *domain.Article
	IsNew   bool
}

// ShouldSkip reports whether the raw reference is not worth discovering:
// pages on media-only URL paths, unless the source already provided the text.
func (d *Discovery) ShouldSkip(raw domain.RawArticle) bool {
	if strings.TrimSpace(raw.Text) != "" {
		return false
	}
	if isNonTextMediaPage(raw.URL) {
		d.logger.Info("skipping non-text media page", "url", raw.URL)
		return true
	}
	return false
}

// Discover resolves the raw reference to an article row. A nil result means
// the reference was skipped: no URL, or the (endpoint, source item) pair was
// already seen.
func (d *Discovery) Discover(ctx context.Context, endpoint *domain.SourceEndpoint, raw domain.RawArticle) (*DiscoveryResult, error) {
	url := strings.TrimSpace(raw.URL)
	if url == "" {
		d.logger.Info("skipping article with no canonical url")
		return nil, nil
	}
	sourceItemID := strings.TrimSpace(raw.SourceItemID)
	if sourceItemID == "" {
		sourceItemID = url
	}

	seen, err := d.store.HasArticleSource(ctx, endpoint.ID, sourceItemID)
	if err != nil {
		return nil, err
	}
	if seen {
		d.logger.Debug("article source already exists, skipping", "source_item_id", sourceItemID)
		return nil, nil
	}

	hash := sha256Hex(url)
	article, err := d.store.FindArticleByHash(ctx, endpoint.PublisherID, hash)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	isNew := false
	if article == nil {
		// The loser of a concurrent insert race gets the winner's row back
		// with inserted=false, so only one endpoint enriches the article.
		created, inserted, err := d.store.CreateArticle(ctx, &domain.Article{
			PublisherID: endpoint.PublisherID,
			URL:         url,
			URLHash:     hash,
			Title:       raw.Title,
			PublishedAt: raw.PublishedAt,
		})
		if err != nil {
			return nil, err
		}
		article = created
		isNew = inserted
	} else {
		if err := d.store.TouchArticle(ctx, article.ID); err != nil {
			return nil, err
		}
	}

	if err := d.store.UpsertArticleSource(ctx, article.ID, endpoint.ID, sourceItemID); err != nil {
		return nil, err
	}
	return &DiscoveryResult{Article: article, IsNew: isNew}, nil
}

func isNonTextMediaPage(url string) bool {
	u := strings.ToLower(url)
	for _, fragment := range mediaURLFragments {
		if strings.Contains(u, fragment) {
			return true
		}
	}
	return false
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
