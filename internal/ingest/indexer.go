package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturp39/factcheck-collector/pkg/config"
	"github.com/arturp39/factcheck-collector/pkg/logger"
	"github.com/arturp39/factcheck-collector/pkg/metrics"

	"github.com/arturp39/factcheck-collector/internal/chunking"
	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/internal/vector"
)

type indexerStore interface {
	GetPublisher(ctx context.Context, id int64) (*domain.Publisher, error)
	MarkArticleIndexed(ctx context.Context, id int64, chunkCount int) error
	MarkArticleError(ctx context.Context, id int64, fetchErr, extractionErr string) error
}

// TextProcessor is the NLP surface the indexer needs: sentence splitting and
// embedding.
type TextProcessor interface {
	Preprocess(ctx context.Context, text string) ([]string, error)
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	EmbedSentences(ctx context.Context, sentences []string) ([][]float64, error)
}

// ChunkWriter writes embedded chunks to the vector store.
type ChunkWriter interface {
	IndexChunks(ctx context.Context, meta vector.ChunkMeta, chunks []string, embeddings [][]float64) error
}

// Indexer chunks extracted article text, embeds the chunks, and writes them
// to the vector store.
type Indexer struct {
	cfg     config.ChunkingConfig
	store   indexerStore
	nlp     TextProcessor
	writer  ChunkWriter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(cfg config.ChunkingConfig, store indexerStore, nlp TextProcessor, writer ChunkWriter, m *metrics.Metrics) *Indexer {
	return &Indexer{
		cfg:     cfg,
		store:   store,
		nlp:     nlp,
		writer:  writer,
		metrics: m,
		logger:  logger.WithComponent("indexer"),
	}
}

// Index chunks, embeds, and stores the article text. Failures are recorded
// on the article row; the return value reports whether indexing succeeded.
func (i *Indexer) Index(ctx context.Context, article *domain.Article, fullText string) bool {
	chunks, embeddings, semanticUsed, err := i.createChunks(ctx, fullText)
	if err == nil && embeddings == nil {
		embeddings, err = i.nlp.Embed(ctx, chunks)
	}
	if err == nil {
		err = i.writeChunks(ctx, article, chunks, embeddings)
	}
	if err != nil {
		i.logger.Error("indexing failed", "article_id", article.ID, "error", err)
		if markErr := i.store.MarkArticleError(ctx, article.ID, "", "Indexing failed: "+err.Error()); markErr != nil {
			i.logger.Error("marking article error failed", "article_id", article.ID, "error", markErr)
		}
		return false
	}

	if err := i.store.MarkArticleIndexed(ctx, article.ID, len(chunks)); err != nil {
		i.logger.Error("marking article indexed failed", "article_id", article.ID, "error", err)
		return false
	}
	if i.metrics != nil {
		i.metrics.ChunksIndexedTotal.Add(float64(len(chunks)))
	}
	i.logger.Info("indexed article",
		"article_id", article.ID, "chunks", len(chunks), "semantic_used", semanticUsed)
	return true
}

// createChunks splits the text into sentences and groups them. Semantic
// grouping applies only to texts long enough for boundary detection to mean
// anything; any failure there falls back to fixed-size chunks.
func (i *Indexer) createChunks(ctx context.Context, fullText string) ([]string, [][]float64, bool, error) {
	sentences, err := i.nlp.Preprocess(ctx, fullText)
	if err != nil {
		return nil, nil, false, fmt.Errorf("preprocessing text: %w", err)
	}
	if len(sentences) == 0 {
		return nil, nil, false, fmt.Errorf("no sentences produced from %d chars of text", len(fullText))
	}

	if !i.cfg.UseSemantic || len(sentences) < i.cfg.SemanticMinSentences {
		return chunking.FixedChunks(sentences), nil, false, nil
	}

	chunks, embeddings, err := i.semanticChunks(ctx, sentences)
	if err != nil {
		i.logger.Error("semantic chunking failed, falling back to fixed chunks", "error", err)
		return chunking.FixedChunks(sentences), nil, false, nil
	}
	return chunks, embeddings, true, nil
}

func (i *Indexer) semanticChunks(ctx context.Context, sentences []string) ([]string, [][]float64, error) {
	sentenceEmbeddings, err := i.nlp.EmbedSentences(ctx, sentences)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding sentences: %w", err)
	}
	boundaries, err := chunking.DetectBoundaries(sentenceEmbeddings, i.cfg.SimilarityThreshold)
	if err != nil {
		return nil, nil, fmt.Errorf("detecting boundaries: %w", err)
	}
	semantic := chunking.SemanticChunks(sentences, boundaries, chunking.Options{
		MinSentences:     i.cfg.MinSentences,
		MaxSentences:     i.cfg.MaxSentences,
		MaxTokens:        i.cfg.MaxTokens,
		OverlapSentences: i.cfg.OverlapSentences,
	})
	embeddings, err := chunking.AggregateSentenceEmbeddings(semantic, sentenceEmbeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregating chunk embeddings: %w", err)
	}
	chunks := make([]string, len(semantic))
	for idx, c := range semantic {
		chunks[idx] = c.Text
	}
	return chunks, embeddings, nil
}

func (i *Indexer) writeChunks(ctx context.Context, article *domain.Article, chunks []string, embeddings [][]float64) error {
	publisher, err := i.store.GetPublisher(ctx, article.PublisherID)
	if err != nil {
		return fmt.Errorf("loading publisher %d: %w", article.PublisherID, err)
	}
	meta := vector.ChunkMeta{
		ArticleID:            article.ID,
		ArticleURL:           article.URL,
		ArticleTitle:         article.Title,
		SourceName:           publisher.Name,
		MBFCBias:             publisher.MBFCBias,
		MBFCFactualReporting: publisher.MBFCFactualReporting,
		MBFCCredibility:      publisher.MBFCCredibility,
		PublishedAt:          article.PublishedAt,
	}
	return i.writer.IndexChunks(ctx, meta, chunks, embeddings)
}
