// Package vector is the HTTP client for the vector store holding indexed
// article chunks: schema management, batch writes, and similarity search.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturp39/factcheck-collector/pkg/config"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
	"github.com/arturp39/factcheck-collector/pkg/logger"
)

const (
	className         = "ArticleChunk"
	correlationHeader = "X-Correlation-Id"
)

// ChunkMeta carries the article-level properties stored on every chunk.
type ChunkMeta struct {
	ArticleID            int64
	ArticleURL           string
	ArticleTitle         string
	SourceName           string
	MBFCBias             string
	MBFCFactualReporting string
	MBFCCredibility      string
	PublishedAt          *time.Time
}

// ChunkResult is one similarity-search hit.
type ChunkResult struct {
	Text         string     `json:"text"`
	ArticleID    int64      `json:"articleId"`
	ArticleURL   string     `json:"articleUrl"`
	ArticleTitle string     `json:"articleTitle"`
	SourceName   string     `json:"sourceName"`
	PublishedAt  *time.Time `json:"publishedDate,omitempty"`
	ChunkIndex   int        `json:"chunkIndex"`
	Score        float64    `json:"score"`
}

// Client talks to the vector store over its REST and GraphQL APIs.
type Client struct {
	cfg    config.VectorConfig
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a vector store client.
func NewClient(cfg config.VectorConfig) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.WithComponent("vector-client"),
	}
}

// EnsureSchema creates the chunk class when missing and adds any missing
// bias-catalog properties to an existing class. "already exists" responses
// from a racing creator count as success.
func (c *Client) EnsureSchema(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/schema", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching schema: %v", apperrors.ErrVectorStore, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: schema fetch HTTP %d", apperrors.ErrVectorStore, resp.StatusCode)
	}

	var schema struct {
		Classes []struct {
			Class      string `json:"class"`
			Properties []struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"classes"`
	}
	if err := json.Unmarshal(body, &schema); err != nil {
		return fmt.Errorf("%w: decoding schema: %v", apperrors.ErrVectorStore, err)
	}

	existingProps := map[string]bool{}
	hasClass := false
	for _, cl := range schema.Classes {
		if strings.EqualFold(cl.Class, className) {
			hasClass = true
			for _, p := range cl.Properties {
				existingProps[p.Name] = true
			}
			break
		}
	}

	if hasClass {
		for _, prop := range []string{"mbfcBias", "mbfcFactualReporting", "mbfcCredibility"} {
			if err := c.addPropertyIfMissing(ctx, existingProps, prop); err != nil {
				return err
			}
		}
		return nil
	}

	c.logger.Info("creating vector class", "class", className)
	classBody := map[string]any{
		"class":       className,
		"description": "Small article fragment for fact-checking",
		"vectorizer":  "none",
		"properties": []map[string]any{
			{"name": "text", "dataType": []string{"text"}},
			{"name": "articleId", "dataType": []string{"int"}},
			{"name": "articleUrl", "dataType": []string{"text"}},
			{"name": "articleTitle", "dataType": []string{"text"}},
			{"name": "sourceName", "dataType": []string{"text"}},
			{"name": "mbfcBias", "dataType": []string{"text"}},
			{"name": "mbfcFactualReporting", "dataType": []string{"text"}},
			{"name": "mbfcCredibility", "dataType": []string{"text"}},
			{"name": "publishedDate", "dataType": []string{"date"}},
			{"name": "chunkIndex", "dataType": []string{"int"}},
		},
	}
	status, respBody, err := c.postJSON(ctx, "/v1/schema", "", classBody)
	if err != nil {
		return fmt.Errorf("%w: creating schema: %v", apperrors.ErrVectorStore, err)
	}
	if status < 200 || status >= 300 {
		if strings.Contains(strings.ToLower(respBody), "exists") {
			c.logger.Info("schema create raced, class already exists")
			return nil
		}
		return fmt.Errorf("%w: schema creation HTTP %d", apperrors.ErrVectorStore, status)
	}
	return nil
}

func (c *Client) addPropertyIfMissing(ctx context.Context, existing map[string]bool, name string) error {
	if existing[name] {
		return nil
	}
	status, body, err := c.postJSON(ctx, "/v1/schema/"+className+"/properties", "",
		map[string]any{"name": name, "dataType": []string{"text"}})
	if err != nil {
		return fmt.Errorf("%w: adding property %s: %v", apperrors.ErrVectorStore, name, err)
	}
	if status < 200 || status >= 300 {
		if strings.Contains(strings.ToLower(body), "exists") {
			return nil
		}
		return fmt.Errorf("%w: property creation HTTP %d", apperrors.ErrVectorStore, status)
	}
	c.logger.Info("added vector property", "property", name, "class", className)
	return nil
}

// IndexChunks writes chunk texts and their embeddings as one batch. Object
// ids derive deterministically from (article id, chunk index), so re-indexing
// the same article overwrites its chunks rather than duplicating them.
func (c *Client) IndexChunks(ctx context.Context, meta ChunkMeta, chunks []string, embeddings [][]float64) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("%w: %d chunks but %d embeddings", apperrors.ErrVectorStore, len(chunks), len(embeddings))
	}

	published := time.Now().UTC()
	if meta.PublishedAt != nil {
		published = meta.PublishedAt.UTC()
	}

	objects := make([]map[string]any, 0, len(chunks))
	for i, chunkText := range chunks {
		props := map[string]any{
			"text":          chunkText,
			"articleId":     meta.ArticleID,
			"articleUrl":    meta.ArticleURL,
			"articleTitle":  meta.ArticleTitle,
			"sourceName":    meta.SourceName,
			"publishedDate": published.Format(time.RFC3339),
			"chunkIndex":    i,
		}
		if meta.MBFCBias != "" {
			props["mbfcBias"] = meta.MBFCBias
		}
		if meta.MBFCFactualReporting != "" {
			props["mbfcFactualReporting"] = meta.MBFCFactualReporting
		}
		if meta.MBFCCredibility != "" {
			props["mbfcCredibility"] = meta.MBFCCredibility
		}
		objects = append(objects, map[string]any{
			"class":      className,
			"id":         ChunkObjectID(meta.ArticleID, i),
			"properties": props,
			"vector":     embeddings[i],
		})
	}

	c.logger.Info("indexing chunks", "article_id", meta.ArticleID, "count", len(chunks))
	status, body, err := c.postJSON(ctx, "/v1/batch/objects", logger.CorrelationID(ctx),
		map[string]any{"objects": objects})
	if err != nil {
		return fmt.Errorf("%w: batch write: %v", apperrors.ErrVectorStore, err)
	}
	if status < 200 || status >= 300 {
		c.logger.Error("vector batch error", "status", status)
		return fmt.Errorf("%w: batch HTTP %d", apperrors.ErrVectorStore, status)
	}
	if hasBatchErrors([]byte(body)) {
		c.logger.Error("vector batch returned per-object errors")
		return fmt.Errorf("%w: batch returned per-object errors", apperrors.ErrVectorStore)
	}
	return nil
}

// SearchByEmbedding runs a nearest-neighbor query and returns hits whose
// score (1 - distance) reaches minScore. An empty embedding returns no
// results without calling the store.
func (c *Client) SearchByEmbedding(ctx context.Context, embedding []float64, limit int, minScore float64) ([]ChunkResult, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	vectorJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, err
	}
	gql := fmt.Sprintf(
		"{ Get { %s(nearVector: {vector: %s}, limit: %d) { text articleId articleUrl articleTitle sourceName publishedDate chunkIndex _additional { distance } } } }",
		className, vectorJSON, limit,
	)
	raw, err := c.graphql(ctx, gql)
	if err != nil {
		return nil, err
	}

	var results []ChunkResult
	for _, n := range raw {
		distance := 1.0
		if n.Additional != nil {
			distance = n.Additional.Distance
		}
		score := 1.0 - distance
		if score < minScore {
			continue
		}
		r := ChunkResult{
			Text:         n.Text,
			ArticleID:    n.ArticleID,
			ArticleURL:   n.ArticleURL,
			ArticleTitle: n.ArticleTitle,
			SourceName:   n.SourceName,
			ChunkIndex:   n.ChunkIndex,
			Score:        score,
		}
		if n.PublishedDate != "" {
			if t, err := time.Parse(time.RFC3339, n.PublishedDate); err == nil {
				utc := t.UTC()
				r.PublishedAt = &utc
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// ChunksForArticle returns the article's chunk texts ordered by chunk index,
// skipping blank ones.
func (c *Client) ChunksForArticle(ctx context.Context, articleID int64) ([]string, error) {
	gql := fmt.Sprintf(`{
	  Get {
	    %s(
	      where: { path: ["articleId"], operator: Equal, valueInt: %d },
	      limit: %d,
	      sort: [{ path: ["chunkIndex"], order: asc }]
	    ) { text chunkIndex }
	  }
	}`, className, articleID, c.cfg.ArticleChunkLimit)

	raw, err := c.graphql(ctx, gql)
	if err != nil {
		return nil, err
	}
	type indexed struct {
		idx  int
		text string
	}
	var list []indexed
	for _, n := range raw {
		if strings.TrimSpace(n.Text) == "" {
			continue
		}
		list = append(list, indexed{idx: n.ChunkIndex, text: n.Text})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].idx < list[j].idx })
	chunks := make([]string, 0, len(list))
	for _, it := range list {
		chunks = append(chunks, it.text)
	}
	return chunks, nil
}

// Ping probes store liveness via the schema endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/schema", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vector store returned %d", resp.StatusCode)
	}
	return nil
}

// ChunkObjectID derives the deterministic object id for a chunk from its
// article id and position.
func ChunkObjectID(articleID int64, chunkIndex int) string {
	name := fmt.Sprintf("a:%d:c:%d", articleID, chunkIndex)
	return uuid.NewMD5(uuid.Nil, []byte(name)).String()
}

type gqlChunk struct {
	Text          string `json:"text"`
	ArticleID     int64  `json:"articleId"`
	ArticleURL    string `json:"articleUrl"`
	ArticleTitle  string `json:"articleTitle"`
	SourceName    string `json:"sourceName"`
	PublishedDate string `json:"publishedDate"`
	ChunkIndex    int    `json:"chunkIndex"`
	Additional    *struct {
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

func (c *Client) graphql(ctx context.Context, query string) ([]gqlChunk, error) {
	status, body, err := c.postJSON(ctx, "/v1/graphql", logger.CorrelationID(ctx),
		map[string]any{"query": query})
	if err != nil {
		return nil, fmt.Errorf("%w: graphql request: %v", apperrors.ErrVectorStore, err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: graphql HTTP %d", apperrors.ErrVectorStore, status)
	}

	var resp struct {
		Data struct {
			Get map[string][]gqlChunk `json:"Get"`
		} `json:"data"`
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding graphql response: %v", apperrors.ErrVectorStore, err)
	}
	if len(resp.Errors) > 0 {
		c.logger.Warn("graphql reported errors", "count", len(resp.Errors))
	}
	return resp.Data.Get[className], nil
}

func (c *Client) postJSON(ctx context.Context, path, correlationID string, payload any) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	req.Header.Set(correlationHeader, correlationID)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

// hasBatchErrors reports whether a 2xx batch response carries per-object
// errors. Unparseable bodies count as errors so failures are not dropped
// silently.
func hasBatchErrors(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return false
	}
	var resp struct {
		Results []struct {
			Errors *struct {
				Error []json.RawMessage `json:"error"`
			} `json:"errors"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return true
	}
	for _, r := range resp.Results {
		if r.Errors != nil && len(r.Errors.Error) > 0 {
			return true
		}
	}
	return false
}
