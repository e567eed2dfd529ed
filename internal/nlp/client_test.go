package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturp39/factcheck-collector/pkg/config"
	apperrors "github.com/arturp39/factcheck-collector/pkg/errors"
)

func testClient(baseURL string) *Client {
	return NewClient(config.NLPConfig{
		BaseURL:                baseURL,
		Timeout:                5 * time.Second,
		MaxTextsPerRequest:     100,
		MaxSentencesPerRequest: 2,
		RetryMaxAttempts:       3,
		RetryInitialBackoff:    time.Millisecond,
		RetryMaxBackoff:        5 * time.Millisecond,
	})
}

func TestPreprocess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/preprocess", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Correlation-Id"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "First. Second.", req["text"])

		json.NewEncoder(w).Encode(map[string]any{"sentences": []string{"First.", "Second."}})
	}))
	defer srv.Close()

	sentences, err := testClient(srv.URL).Preprocess(context.Background(), "First. Second.")
	require.NoError(t, err)
	assert.Equal(t, []string{"First.", "Second."}, sentences)
}

func TestEmbedRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{0.1, 0.2}}})
	}))
	defer srv.Close()

	embeddings, err := testClient(srv.URL).Embed(context.Background(), []string{"chunk"})
	require.NoError(t, err)
	require.Len(t, embeddings, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedDoesNotRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad input"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Embed(context.Background(), []string{"chunk"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNLPUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Embed(context.Background(), []string{"chunk"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedRejectsTooManyTexts(t *testing.T) {
	c := NewClient(config.NLPConfig{BaseURL: "http://unused", MaxTextsPerRequest: 2})

	_, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	assert.ErrorIs(t, err, ErrTooManyChunks)
}

func TestEmbedEmptyInput(t *testing.T) {
	c := NewClient(config.NLPConfig{BaseURL: "http://unused", MaxTextsPerRequest: 2})

	out, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{0.1}}})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 1 embeddings for 2 texts")
}

func TestEmbedSentencesBatches(t *testing.T) {
	var batches [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed-sentences", r.URL.Path)
		var req struct {
			Sentences []string `json:"sentences"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batches = append(batches, req.Sentences)

		embeddings := make([][]float64, len(req.Sentences))
		for i := range embeddings {
			embeddings[i] = []float64{float64(i)}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings, "dimension": 1})
	}))
	defer srv.Close()

	// Batch size 2 over five sentences: 2 + 2 + 1.
	out, err := testClient(srv.URL).EmbedSentences(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, out, 5)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"c", "d"}, batches[1])
	assert.Equal(t, []string{"e"}, batches[2])
}

func TestEmbedSentencesCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{}, "dimension": 1})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).EmbedSentences(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 0 embeddings for 1 sentences")
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, testClient(srv.URL).Ping(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	assert.Error(t, testClient(down.URL).Ping(context.Background()))
}
