package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"

	"github.com/arturp39/factcheck-collector/internal/domain"
)

const articleColumns = `
	id, publisher_id, url, url_hash, title, status, published_at,
	first_seen_at, last_seen_at, fetched_at, http_status, etag, last_modified,
	content_hash, chunk_count, indexed, fetch_error, extraction_error`

// GetPublisher returns a publisher by id.
func (s *Store) GetPublisher(ctx context.Context, id int64) (*domain.Publisher, error) {
	p := &domain.Publisher{}
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT id, name, homepage, mbfc_bias, mbfc_factual_reporting, mbfc_credibility, created_at
		FROM publishers WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Homepage, &p.MBFCBias, &p.MBFCFactualReporting, &p.MBFCCredibility, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting publisher %d: %w", id, err)
	}
	return p, nil
}

// FindArticleByHash returns the article identified by (publisher, url hash).
func (s *Store) FindArticleByHash(ctx context.Context, publisherID int64, urlHash string) (*domain.Article, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE publisher_id = $1 AND url_hash = $2`,
		publisherID, urlHash)
	return scanArticle(row)
}

// GetArticle returns an article by id.
func (s *Store) GetArticle(ctx context.Context, id int64) (*domain.Article, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)
	return scanArticle(row)
}

// CreateArticle inserts a DISCOVERED article. On a (publisher, url_hash)
// conflict the existing row's last_seen_at is touched and returned instead,
// so concurrent discoverers converge on one row. The bool reports whether
// this call inserted the row: xmax is zero on a fresh insert and set by the
// conflict update, which tells the insert-race loser apart from the winner.
func (s *Store) CreateArticle(ctx context.Context, a *domain.Article) (*domain.Article, bool, error) {
	row := s.db.DB.QueryRowContext(ctx, `
		INSERT INTO articles (publisher_id, url, url_hash, title, status, published_at)
		VALUES ($1, $2, $3, $4, 'DISCOVERED', $5)
		ON CONFLICT (publisher_id, url_hash) DO UPDATE SET last_seen_at = NOW()
		RETURNING `+articleColumns+`, (xmax = 0)`,
		a.PublisherID, a.URL, a.URLHash, a.Title, a.PublishedAt)
	var inserted bool
	article, err := scanArticle(row, &inserted)
	if err != nil {
		return nil, false, err
	}
	return article, inserted, nil
}

// TouchArticle bumps last_seen_at on re-discovery.
func (s *Store) TouchArticle(ctx context.Context, id int64) error {
	_, err := s.db.DB.ExecContext(ctx, `UPDATE articles SET last_seen_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching article %d: %w", id, err)
	}
	return nil
}

// UpdateArticleFetch stamps fetch metadata after the page download.
func (s *Store) UpdateArticleFetch(ctx context.Context, id int64, httpStatus int, etag, lastModified string) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE articles
		SET status = 'FETCHED', fetched_at = NOW(), http_status = $2, etag = $3, last_modified = $4
		WHERE id = $1`, id, httpStatus, etag, lastModified)
	if err != nil {
		return fmt.Errorf("updating article fetch %d: %w", id, err)
	}
	return nil
}

// MarkArticleError records a fetch or extraction failure.
func (s *Store) MarkArticleError(ctx context.Context, id int64, fetchErr, extractionErr string) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE articles
		SET status = 'ERROR', fetch_error = $2, extraction_error = $3
		WHERE id = $1`, id, fetchErr, extractionErr)
	if err != nil {
		return fmt.Errorf("marking article error %d: %w", id, err)
	}
	return nil
}

// UpsertArticleContent stores extracted text and flips the article to
// EXTRACTED with the content hash.
func (s *Store) UpsertArticleContent(ctx context.Context, articleID int64, text, contentHash string) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO article_content (article_id, text_content, content_hash)
			VALUES ($1, $2, $3)
			ON CONFLICT (article_id) DO UPDATE
			SET text_content = EXCLUDED.text_content,
			    content_hash = EXCLUDED.content_hash,
			    extracted_at = NOW()`, articleID, text, contentHash); err != nil {
			return fmt.Errorf("upserting article content %d: %w", articleID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE articles SET status = 'EXTRACTED', content_hash = $2 WHERE id = $1`,
			articleID, contentHash); err != nil {
			return fmt.Errorf("updating article status %d: %w", articleID, err)
		}
		return nil
	})
}

// GetArticleContent returns the stored text for an article.
func (s *Store) GetArticleContent(ctx context.Context, articleID int64) (*domain.ArticleContent, error) {
	c := &domain.ArticleContent{}
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT article_id, text_content, content_hash, extracted_at
		FROM article_content WHERE article_id = $1`, articleID,
	).Scan(&c.ArticleID, &c.Text, &c.ContentHash, &c.ExtractedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting article content %d: %w", articleID, err)
	}
	return c, nil
}

// MarkArticleIndexed stamps the chunk count and indexed flag.
func (s *Store) MarkArticleIndexed(ctx context.Context, id int64, chunkCount int) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE articles SET status = 'INDEXED', indexed = TRUE, chunk_count = $2 WHERE id = $1`,
		id, chunkCount)
	if err != nil {
		return fmt.Errorf("marking article indexed %d: %w", id, err)
	}
	return nil
}

// HasArticleSource reports whether (endpoint, source item) was already seen.
func (s *Store) HasArticleSource(ctx context.Context, endpointID int64, sourceItemID string) (bool, error) {
	var exists bool
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM article_sources WHERE endpoint_id = $1 AND source_item_id = $2
		)`, endpointID, sourceItemID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking article source: %w", err)
	}
	return exists, nil
}

// UpsertArticleSource records the (article, endpoint, source item) link,
// touching last_seen_at when it already exists.
func (s *Store) UpsertArticleSource(ctx context.Context, articleID, endpointID int64, sourceItemID string) error {
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO article_sources (article_id, endpoint_id, source_item_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (endpoint_id, source_item_id) DO UPDATE SET last_seen_at = NOW()`,
		articleID, endpointID, sourceItemID)
	if err != nil {
		return fmt.Errorf("upserting article source: %w", err)
	}
	return nil
}

// ListArticles returns the most recently seen articles, optionally filtered
// by a case-insensitive title substring.
func (s *Store) ListArticles(ctx context.Context, titleQuery string, limit int) ([]domain.Article, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT `+articleColumns+`
		FROM articles
		WHERE $1 = '' OR title ILIKE '%' || $1 || '%'
		ORDER BY last_seen_at DESC, id DESC
		LIMIT $2`, titleQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	defer rows.Close()
	var articles []domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

func scanArticle(row rowScanner, extra ...any) (*domain.Article, error) {
	a := &domain.Article{}
	var publishedAt, fetchedAt sql.NullTime
	var httpStatus sql.NullInt64
	dests := []any{
		&a.ID, &a.PublisherID, &a.URL, &a.URLHash, &a.Title, &a.Status, &publishedAt,
		&a.FirstSeenAt, &a.LastSeenAt, &fetchedAt, &httpStatus, &a.ETag, &a.LastModified,
		&a.ContentHash, &a.ChunkCount, &a.Indexed, &a.FetchError, &a.ExtractionError,
	}
	dests = append(dests, extra...)
	err := row.Scan(dests...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning article: %w", err)
	}
	if publishedAt.Valid {
		a.PublishedAt = &publishedAt.Time
	}
	if fetchedAt.Valid {
		a.FetchedAt = &fetchedAt.Time
	}
	if httpStatus.Valid {
		status := int(httpStatus.Int64)
		a.HTTPStatus = &status
	}
	return a, nil
}
