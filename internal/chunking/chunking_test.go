package chunking

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedChunksGroupsBySize(t *testing.T) {
	sentences := []string{"one.", "two.", "three.", "four.", "five.", "six."}

	chunks := FixedChunks(sentences)

	require.Len(t, chunks, 2)
	assert.Equal(t, "one. two. three. four.", chunks[0])
	assert.Equal(t, "five. six.", chunks[1])
}

func TestFixedChunksEmptyInput(t *testing.T) {
	assert.Nil(t, FixedChunks(nil))
	assert.Nil(t, FixedChunks([]string{}))
}

func TestFixedChunksExactMultiple(t *testing.T) {
	sentences := make([]string, SentencesPerChunk*2)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("s%d.", i)
	}
	chunks := FixedChunks(sentences)
	require.Len(t, chunks, 2)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"zero norm", []float64{0, 0}, []float64{1, 1}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDetectBoundaries(t *testing.T) {
	// Sentences 0-1 point the same way, sentence 2 is orthogonal.
	embeddings := [][]float64{
		{1, 0},
		{1, 0},
		{0, 1},
		{0, 1},
	}
	boundaries, err := DetectBoundaries(embeddings, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, boundaries)
}

func TestDetectBoundariesSingleSentence(t *testing.T) {
	boundaries, err := DetectBoundaries([][]float64{{1, 0}}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, boundaries)
}

func TestDetectBoundariesDimensionMismatch(t *testing.T) {
	_, err := DetectBoundaries([][]float64{{1, 0}, {1}}, 0.5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSemanticChunksCutsAtBoundaries(t *testing.T) {
	sentences := []string{"a one.", "a two.", "b one.", "b two."}
	boundaries := []int{0, 2}

	chunks := SemanticChunks(sentences, boundaries, Options{
		MinSentences: 1,
		MaxSentences: 8,
		MaxTokens:    400,
	})

	require.Len(t, chunks, 2)
	assert.Equal(t, "a one. a two.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartSentence)
	assert.Equal(t, 2, chunks[0].EndSentence)
	assert.Equal(t, []int{0, 1}, chunks[0].SentenceIndices)
	assert.Equal(t, "b one. b two.", chunks[1].Text)
	assert.False(t, chunks[1].HasOverlap)
}

func TestSemanticChunksRespectsMinSentences(t *testing.T) {
	sentences := []string{"a.", "b.", "c.", "d."}
	// A boundary after every sentence, but chunks must hold at least two.
	boundaries := []int{0, 1, 2, 3}

	chunks := SemanticChunks(sentences, boundaries, Options{
		MinSentences: 2,
		MaxSentences: 8,
		MaxTokens:    400,
	})

	require.Len(t, chunks, 2)
	assert.Equal(t, "a. b.", chunks[0].Text)
	assert.Equal(t, "c. d.", chunks[1].Text)
}

func TestSemanticChunksSplitsOversizedRuns(t *testing.T) {
	sentences := []string{"a.", "b.", "c.", "d.", "e."}
	boundaries := []int{0}

	chunks := SemanticChunks(sentences, boundaries, Options{
		MinSentences: 1,
		MaxSentences: 2,
		MaxTokens:    400,
	})

	require.Len(t, chunks, 3)
	assert.Equal(t, "a. b.", chunks[0].Text)
	assert.Equal(t, "c. d.", chunks[1].Text)
	assert.Equal(t, "e.", chunks[2].Text)
}

func TestSemanticChunksOverlap(t *testing.T) {
	sentences := []string{"a.", "b.", "c.", "d."}
	boundaries := []int{0, 2}

	chunks := SemanticChunks(sentences, boundaries, Options{
		MinSentences:     1,
		MaxSentences:     8,
		MaxTokens:        400,
		OverlapSentences: 1,
	})

	require.Len(t, chunks, 2)
	assert.False(t, chunks[0].HasOverlap)

	second := chunks[1]
	assert.True(t, second.HasOverlap)
	assert.Equal(t, 1, second.OverlapSentenceCount)
	assert.Equal(t, "b. c. d.", second.Text)
	assert.Equal(t, 1, second.StartSentence)
	assert.Equal(t, []int{1, 2, 3}, second.SentenceIndices)
}

func TestSemanticChunksOverlapNeverReachesPastPredecessor(t *testing.T) {
	sentences := []string{"a.", "b."}
	boundaries := []int{0, 1}

	chunks := SemanticChunks(sentences, boundaries, Options{
		MinSentences:     1,
		MaxSentences:     8,
		MaxTokens:        400,
		OverlapSentences: 5,
	})

	require.Len(t, chunks, 2)
	second := chunks[1]
	assert.True(t, second.HasOverlap)
	assert.Equal(t, 1, second.OverlapSentenceCount)
	assert.Equal(t, 0, second.StartSentence)
}

func TestSemanticChunksEmptyInput(t *testing.T) {
	assert.Nil(t, SemanticChunks(nil, nil, Options{MinSentences: 1, MaxSentences: 4, MaxTokens: 400}))
}

func TestAggregateSentenceEmbeddings(t *testing.T) {
	chunks := []Chunk{
		{SentenceIndices: []int{0, 1}},
		{SentenceIndices: []int{2}},
	}
	embeddings := [][]float64{
		{1, 0},
		{0, 1},
		{4, 4},
	}

	out, err := AggregateSentenceEmbeddings(chunks, embeddings)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, out[0], 1e-9)
	assert.InDeltaSlice(t, []float64{4, 4}, out[1], 1e-9)
}

func TestAggregateSentenceEmbeddingsErrors(t *testing.T) {
	chunks := []Chunk{{SentenceIndices: []int{5}}}

	_, err := AggregateSentenceEmbeddings(chunks, [][]float64{{1, 0}})
	assert.Error(t, err)

	_, err = AggregateSentenceEmbeddings([]Chunk{{SentenceIndices: []int{0, 1}}}, [][]float64{{1, 0}, {1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = AggregateSentenceEmbeddings(chunks, nil)
	assert.Error(t, err)

	out, err := AggregateSentenceEmbeddings(nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}
