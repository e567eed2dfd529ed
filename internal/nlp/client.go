// Package nlp is the HTTP client for the NLP microservice: sentence
// preprocessing and text/sentence embeddings.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/arturp39/factcheck-collector/pkg/config"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
	"github.com/arturp39/factcheck-collector/pkg/logger"
	"github.com/arturp39/factcheck-collector/pkg/resilience"
)

// ErrTooManyChunks is returned when a single embed call would exceed the
// service's per-request text limit.
var ErrTooManyChunks = errors.New("too many chunks for embedding")

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Client talks to the NLP service with retries on 429 and 503 responses only.
type Client struct {
	cfg    config.NLPConfig
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates an NLP client from config.
func NewClient(cfg config.NLPConfig) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.WithComponent("nlp-client"),
	}
}

type preprocessRequest struct {
	Text          string `json:"text"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type preprocessResponse struct {
	Sentences     []string `json:"sentences"`
	CorrelationID string   `json:"correlationId"`
}

type embedRequest struct {
	Texts         []string `json:"texts"`
	CorrelationID string   `json:"correlationId,omitempty"`
}

type embedResponse struct {
	Embeddings    [][]float64 `json:"embeddings"`
	CorrelationID string      `json:"correlationId"`
}

type sentenceEmbedRequest struct {
	Sentences     []string `json:"sentences"`
	CorrelationID string   `json:"correlationId,omitempty"`
}

type sentenceEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimension  int         `json:"dimension"`
	Model      string      `json:"model"`
}

// Preprocess splits text into sentences.
func (c *Client) Preprocess(ctx context.Context, text string) ([]string, error) {
	var resp preprocessResponse
	err := c.post(ctx, "/preprocess", preprocessRequest{
		Text:          text,
		CorrelationID: logger.CorrelationID(ctx),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("nlp preprocess failed: %w", err)
	}
	return resp.Sentences, nil
}

// Embed returns one embedding per input text. The caller's text count must
// not exceed the configured per-request ceiling.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > c.cfg.MaxTextsPerRequest {
		return nil, fmt.Errorf("%w: %d texts exceed limit %d", ErrTooManyChunks, len(texts), c.cfg.MaxTextsPerRequest)
	}
	var resp embedResponse
	err := c.post(ctx, "/embed", embedRequest{
		Texts:         texts,
		CorrelationID: logger.CorrelationID(ctx),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("nlp embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("nlp embed returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// EmbedSentences returns one embedding per sentence, batching requests so no
// single call exceeds the configured sentence ceiling.
func (c *Client) EmbedSentences(ctx context.Context, sentences []string) ([][]float64, error) {
	if len(sentences) == 0 {
		return nil, nil
	}
	batchSize := c.cfg.MaxSentencesPerRequest
	if batchSize <= 0 {
		batchSize = len(sentences)
	}
	out := make([][]float64, 0, len(sentences))
	for start := 0; start < len(sentences); start += batchSize {
		end := start + batchSize
		if end > len(sentences) {
			end = len(sentences)
		}
		batch := sentences[start:end]
		var resp sentenceEmbedResponse
		err := c.post(ctx, "/embed-sentences", sentenceEmbedRequest{
			Sentences:     batch,
			CorrelationID: logger.CorrelationID(ctx),
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("nlp embed-sentences failed: %w", err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("nlp embed-sentences returned %d embeddings for %d sentences", len(resp.Embeddings), len(batch))
		}
		out = append(out, resp.Embeddings...)
	}
	return out, nil
}

// Ping probes the NLP service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nlp health returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	correlationID := logger.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts:  c.cfg.RetryMaxAttempts,
		InitialDelay: c.cfg.RetryInitialBackoff,
		MaxDelay:     c.cfg.RetryMaxBackoff,
		Retryable: func(err error) bool {
			var re *retryableError
			return errors.As(err, &re)
		},
	}

	return resilience.Retry(ctx, "nlp"+path, retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)

		resp, err := c.http.Do(req)
		if err != nil {
			return &retryableError{err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			io.Copy(io.Discard, resp.Body)
			return &retryableError{err: fmt.Errorf("%w: status %d", apperrors.ErrNLPUnavailable, resp.StatusCode)}
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			c.logger.Error("nlp request failed",
				"path", path,
				"status", resp.StatusCode,
				"correlation_id", correlationID,
			)
			return fmt.Errorf("%w: status %d: %s", apperrors.ErrNLPUnavailable, resp.StatusCode, bytes.TrimSpace(body))
		}
	})
}
