package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/internal/vector"
	"github.com/arturp39/factcheck-collector/pkg/config"
)

type fakeIndexerStore struct {
	publisher  *domain.Publisher
	indexed    map[int64]int
	markErrors map[int64]articleError
}

func newFakeIndexerStore() *fakeIndexerStore {
	return &fakeIndexerStore{
		publisher: &domain.Publisher{
			ID:                   5,
			Name:                 "Example News",
			MBFCBias:             "center",
			MBFCFactualReporting: "high",
			MBFCCredibility:      "high",
		},
		indexed:    make(map[int64]int),
		markErrors: make(map[int64]articleError),
	}
}

func (s *fakeIndexerStore) GetPublisher(ctx context.Context, id int64) (*domain.Publisher, error) {
	return s.publisher, nil
}

func (s *fakeIndexerStore) MarkArticleIndexed(ctx context.Context, id int64, chunkCount int) error {
	s.indexed[id] = chunkCount
	return nil
}

func (s *fakeIndexerStore) MarkArticleError(ctx context.Context, id int64, fetchErr, extractionErr string) error {
	s.markErrors[id] = articleError{fetchErr: fetchErr, extractionErr: extractionErr}
	return nil
}

type fakeTextProcessor struct {
	sentences        []string
	preprocessErr    error
	embedCalls       [][]string
	embedErr         error
	sentenceEmbedErr error
}

func (f *fakeTextProcessor) Preprocess(ctx context.Context, text string) ([]string, error) {
	return f.sentences, f.preprocessErr
}

func (f *fakeTextProcessor) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.embedCalls = append(f.embedCalls, texts)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func (f *fakeTextProcessor) EmbedSentences(ctx context.Context, sentences []string) ([][]float64, error) {
	if f.sentenceEmbedErr != nil {
		return nil, f.sentenceEmbedErr
	}
	out := make([][]float64, len(sentences))
	for i := range out {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

type chunkWrite struct {
	meta       vector.ChunkMeta
	chunks     []string
	embeddings [][]float64
}

type fakeChunkWriter struct {
	writes []chunkWrite
	err    error
}

func (f *fakeChunkWriter) IndexChunks(ctx context.Context, meta vector.ChunkMeta, chunks []string, embeddings [][]float64) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, chunkWrite{meta: meta, chunks: chunks, embeddings: embeddings})
	return nil
}

func chunkingTestConfig() config.ChunkingConfig {
	return config.ChunkingConfig{
		UseSemantic:          true,
		SimilarityThreshold:  0.5,
		MinSentences:         2,
		MaxSentences:         8,
		MaxTokens:            400,
		OverlapSentences:     1,
		SemanticMinSentences: 10,
	}
}

func sentenceList(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Sentence number %d.", i)
	}
	return out
}

func indexArticle() *domain.Article {
	return &domain.Article{ID: 7, PublisherID: 5, URL: "https://example.com/story", Title: "A story"}
}

func TestIndexShortTextUsesFixedChunks(t *testing.T) {
	store := newFakeIndexerStore()
	nlp := &fakeTextProcessor{sentences: sentenceList(5)}
	writer := &fakeChunkWriter{}
	idx := NewIndexer(chunkingTestConfig(), store, nlp, writer, nil)

	ok := idx.Index(context.Background(), indexArticle(), "full text")

	require.True(t, ok)
	require.Len(t, writer.writes, 1)
	// Five sentences below the semantic minimum: fixed chunks of four.
	assert.Len(t, writer.writes[0].chunks, 2)
	assert.Len(t, writer.writes[0].embeddings, 2)
	require.Len(t, nlp.embedCalls, 1)
	assert.Equal(t, 2, store.indexed[7])
}

func TestIndexLongTextUsesSemanticChunks(t *testing.T) {
	store := newFakeIndexerStore()
	// Twelve identical embeddings: one boundary, split only by max size.
	nlp := &fakeTextProcessor{sentences: sentenceList(12)}
	writer := &fakeChunkWriter{}
	idx := NewIndexer(chunkingTestConfig(), store, nlp, writer, nil)

	ok := idx.Index(context.Background(), indexArticle(), "full text")

	require.True(t, ok)
	require.Len(t, writer.writes, 1)
	write := writer.writes[0]
	assert.Len(t, write.chunks, len(write.embeddings))
	assert.GreaterOrEqual(t, len(write.chunks), 2)
	// The semantic path aggregates sentence embeddings; no chunk-level embed
	// request goes out.
	assert.Empty(t, nlp.embedCalls)
}

func TestIndexSemanticFailureFallsBackToFixed(t *testing.T) {
	store := newFakeIndexerStore()
	nlp := &fakeTextProcessor{
		sentences:        sentenceList(12),
		sentenceEmbedErr: errors.New("embedding service overloaded"),
	}
	writer := &fakeChunkWriter{}
	idx := NewIndexer(chunkingTestConfig(), store, nlp, writer, nil)

	ok := idx.Index(context.Background(), indexArticle(), "full text")

	require.True(t, ok)
	require.Len(t, writer.writes, 1)
	// Fallback path embeds the fixed chunks instead.
	require.Len(t, nlp.embedCalls, 1)
	assert.Len(t, writer.writes[0].chunks, 3)
}

func TestIndexWritesPublisherMetadata(t *testing.T) {
	store := newFakeIndexerStore()
	nlp := &fakeTextProcessor{sentences: sentenceList(4)}
	writer := &fakeChunkWriter{}
	idx := NewIndexer(chunkingTestConfig(), store, nlp, writer, nil)

	require.True(t, idx.Index(context.Background(), indexArticle(), "full text"))

	meta := writer.writes[0].meta
	assert.Equal(t, int64(7), meta.ArticleID)
	assert.Equal(t, "https://example.com/story", meta.ArticleURL)
	assert.Equal(t, "Example News", meta.SourceName)
	assert.Equal(t, "center", meta.MBFCBias)
	assert.Equal(t, "high", meta.MBFCCredibility)
}

func TestIndexPreprocessFailureMarksArticle(t *testing.T) {
	store := newFakeIndexerStore()
	nlp := &fakeTextProcessor{preprocessErr: errors.New("nlp service down")}
	idx := NewIndexer(chunkingTestConfig(), store, nlp, &fakeChunkWriter{}, nil)

	ok := idx.Index(context.Background(), indexArticle(), "full text")

	assert.False(t, ok)
	assert.Contains(t, store.markErrors[7].extractionErr, "Indexing failed:")
	assert.Empty(t, store.indexed)
}

func TestIndexNoSentencesMarksArticle(t *testing.T) {
	store := newFakeIndexerStore()
	idx := NewIndexer(chunkingTestConfig(), store, &fakeTextProcessor{}, &fakeChunkWriter{}, nil)

	ok := idx.Index(context.Background(), indexArticle(), "full text")

	assert.False(t, ok)
	assert.Contains(t, store.markErrors[7].extractionErr, "Indexing failed:")
}

func TestIndexWriterFailureMarksArticle(t *testing.T) {
	store := newFakeIndexerStore()
	nlp := &fakeTextProcessor{sentences: sentenceList(4)}
	writer := &fakeChunkWriter{err: errors.New("vector store unreachable")}
	idx := NewIndexer(chunkingTestConfig(), store, nlp, writer, nil)

	ok := idx.Index(context.Background(), indexArticle(), "full text")

	assert.False(t, ok)
	assert.Contains(t, store.markErrors[7].extractionErr, "vector store unreachable")
}
