package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
	"github.com/arturp39/factcheck-collector/pkg/logger"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/internal/extractor"
)

type enrichmentStore interface {
	UpdateArticleFetch(ctx context.Context, id int64, httpStatus int, etag, lastModified string) error
	MarkArticleError(ctx context.Context, id int64, fetchErr, extractionErr string) error
	UpsertArticleContent(ctx context.Context, articleID int64, text, contentHash string) error
}

// PageExtractor downloads an article page and extracts its body text.
type PageExtractor interface {
	FetchAndExtract(ctx context.Context, url string) *extractor.Result
}

// Enrichment downloads and extracts the body text of a discovered article,
// recording fetch metadata and failures on the article row.
type Enrichment struct {
	store     enrichmentStore
	extractor PageExtractor
	logger    *slog.Logger
}

// NewEnrichment creates an Enrichment.
func NewEnrichment(store enrichmentStore, pageExtractor PageExtractor) *Enrichment {
	return &Enrichment{
		store:     store,
		extractor: pageExtractor,
		logger:    logger.WithComponent("enrichment"),
	}
}

// EnrichmentResult carries the extracted text and the raw fetch outcome so
// callers can classify failures.
type EnrichmentResult struct {
	Success bool
	Text    string
	Fetch   *extractor.Result
}

// Enrich obtains the article's body text by fetching and extracting the page.
// Text the source provided (a feed body or description) is only a fallback for
// pages whose extraction fails; robots denials and suspected blocks never fall
// back, so teaser snippets cannot mask a site refusing us. On success the
// content is stored and the article flips to EXTRACTED.
func (e *Enrichment) Enrich(ctx context.Context, article *domain.Article, raw domain.RawArticle) (*EnrichmentResult, error) {
	if article == nil || article.ID == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "article id is required for enrichment")
	}

	fetch := e.extractor.FetchAndExtract(ctx, article.URL)

	if err := e.store.UpdateArticleFetch(ctx, article.ID, fetch.HTTPStatus, fetch.ETag, fetch.LastModified); err != nil {
		return nil, err
	}

	text := fetch.Text
	fetchErr := fetchFailure(fetch)
	extractionErr := ""
	if fetchErr == "" {
		extractionErr = extractionFailure(fetch, text)
	}
	if fetchErr != "" || extractionErr != "" {
		fallback := strings.TrimSpace(raw.Text)
		if fallback == "" || fetch.RobotsDisallowed || fetch.BlockedSuspected {
			if err := e.store.MarkArticleError(ctx, article.ID, fetchErr, extractionErr); err != nil {
				return nil, err
			}
			return &EnrichmentResult{Success: false, Fetch: fetch}, nil
		}
		e.logger.Info("using source-provided text after failed extraction",
			"article_id", article.ID, "url", article.URL)
		text = fallback
	}

	if err := e.store.UpsertArticleContent(ctx, article.ID, text, sha256Hex(text)); err != nil {
		return nil, err
	}
	e.logger.Debug("article enriched", "article_id", article.ID, "chars", len(text))
	return &EnrichmentResult{Success: true, Text: text, Fetch: fetch}, nil
}

func fetchFailure(fetch *extractor.Result) string {
	if fetch.FetchError != "" {
		return fetch.FetchError
	}
	if fetch.HTTPStatus < 200 || fetch.HTTPStatus >= 300 {
		return fmt.Sprintf("HTTP status %d", fetch.HTTPStatus)
	}
	return ""
}

func extractionFailure(fetch *extractor.Result, text string) string {
	if fetch.ExtractionError != "" {
		return fetch.ExtractionError
	}
	if strings.TrimSpace(text) == "" {
		return "No meaningful text extracted"
	}
	return ""
}
