package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/arturp39/factcheck-collector/pkg/config"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
)

var apiKeyPattern = regexp.MustCompile(`([?&]apiKey=)[^&]+`)

// RateLimitError is returned when the news API responds 429. RetryAfter is
// the server's Retry-After hint in seconds, 0 when absent.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("news api rate limit reached, retry after %ds", e.RetryAfter)
	}
	return "news api rate limit reached"
}

func (e *RateLimitError) Unwrap() error { return apperrors.ErrRateLimited }

// NewsAPIArticle is one article entry in an everything response.
type NewsAPIArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

// EverythingResponse is the news API /everything payload.
type EverythingResponse struct {
	Status       string           `json:"status"`
	Code         string           `json:"code"`
	Message      string           `json:"message"`
	TotalResults int              `json:"totalResults"`
	Articles     []NewsAPIArticle `json:"articles"`
}

// NewsAPIClient performs raw calls against the news-search API.
type NewsAPIClient struct {
	cfg  config.NewsAPIConfig
	http *http.Client
}

// NewNewsAPIClient creates a client from config.
func NewNewsAPIClient(cfg config.NewsAPIConfig) *NewsAPIClient {
	return &NewsAPIClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchEverything queries one page of articles for a comma-separated source
// list. A 429 response yields a RateLimitError carrying the Retry-After hint.
func (c *NewsAPIClient) FetchEverything(ctx context.Context, sources, sortBy string, page, pageSize int) (*EverythingResponse, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("news api key is not configured")
	}
	params := url.Values{}
	params.Set("apiKey", c.cfg.APIKey)
	params.Set("sources", sources)
	params.Set("sortBy", sortBy)
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))

	reqURL := c.cfg.BaseURL + "/everything?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news api request failed for %s: %w", sanitizeURL(reqURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("news api HTTP %d for %s", resp.StatusCode, sanitizeURL(reqURL))
	}

	var body EverythingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding news api response: %w", err)
	}
	if body.Status != "ok" {
		code := body.Code
		if code == "" {
			code = "unknown"
		}
		msg := body.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, fmt.Errorf("news api error [%s]: %s", code, msg)
	}
	return &body, nil
}

// sanitizeURL redacts the API key from URLs destined for logs and errors.
func sanitizeURL(u string) string {
	return apiKeyPattern.ReplaceAllString(u, "${1}REDACTED")
}
