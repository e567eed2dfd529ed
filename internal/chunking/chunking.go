// Package chunking splits sentence lists into embedding-sized chunks. Two
// strategies exist: a fixed-size chunker and a semantic chunker that cuts at
// topic boundaries derived from sentence-embedding similarity.
package chunking

import (
	"errors"
	"math"
	"strings"
)

// SentencesPerChunk is the fixed chunker's chunk size.
const SentencesPerChunk = 4

// ErrDimensionMismatch is returned when vectors of different lengths are
// combined.
var ErrDimensionMismatch = errors.New("vector dimensions must match")

// Chunk is one unit of text destined for the vector index. Sentence indices
// refer to the original sentence list; overlap fields describe the prefix
// borrowed from the preceding chunk.
type Chunk struct {
	Text                 string
	StartSentence        int
	EndSentence          int
	SentenceIndices      []int
	HasOverlap           bool
	OverlapSentenceCount int
}

// FixedChunks groups sentences into chunks of SentencesPerChunk, with any
// remainder forming a final shorter chunk.
func FixedChunks(sentences []string) []string {
	var chunks []string
	var current strings.Builder
	count := 0
	for _, s := range sentences {
		if count > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(s)
		count++
		if count >= SentencesPerChunk {
			chunks = append(chunks, current.String())
			current.Reset()
			count = 0
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// CosineSimilarity returns the cosine of the angle between a and b. A
// zero-norm input yields 0.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// DetectBoundaries returns the sentence indices where a new topic starts:
// index 0 plus every position whose similarity to the previous sentence falls
// below the threshold.
func DetectBoundaries(embeddings [][]float64, similarityThreshold float64) ([]int, error) {
	boundaries := []int{0}
	for i := 1; i < len(embeddings); i++ {
		sim, err := CosineSimilarity(embeddings[i-1], embeddings[i])
		if err != nil {
			return nil, err
		}
		if sim < similarityThreshold {
			boundaries = append(boundaries, i)
		}
	}
	return boundaries, nil
}

// Options bound semantic chunk sizes.
type Options struct {
	MinSentences     int
	MaxSentences     int
	MaxTokens        int
	OverlapSentences int
}

// SemanticChunks builds chunks cut at the given boundaries, subject to
// min/max sentence counts and an approximate token budget (chars/4). When
// OverlapSentences > 0 each chunk after the first is prefixed with up to that
// many trailing sentences of its predecessor, never reaching past the
// predecessor's own start.
func SemanticChunks(sentences []string, boundaries []int, opts Options) []Chunk {
	if len(sentences) == 0 {
		return nil
	}
	boundarySet := make(map[int]struct{}, len(boundaries))
	for _, b := range boundaries {
		boundarySet[b] = struct{}{}
	}

	var base []Chunk
	start := 0
	for i := 1; i <= len(sentences); i++ {
		sentenceCount := i - start
		tokenEstimate := estimateTokens(sentences[start:i])

		_, atBoundary := boundarySet[i]
		largeEnough := sentenceCount >= opts.MinSentences
		tooLarge := sentenceCount >= opts.MaxSentences || tokenEstimate > opts.MaxTokens

		if largeEnough && (atBoundary || tooLarge) {
			base = append(base, buildChunk(sentences, start, i))
			start = i
		}
	}
	if start < len(sentences) {
		base = append(base, buildChunk(sentences, start, len(sentences)))
	}

	if opts.OverlapSentences <= 0 || len(base) <= 1 {
		return base
	}
	return applyOverlap(sentences, base, opts.OverlapSentences)
}

// AggregateSentenceEmbeddings produces one embedding per chunk as the
// dimension-wise mean of its member sentences' embeddings.
func AggregateSentenceEmbeddings(chunks []Chunk, sentenceEmbeddings [][]float64) ([][]float64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if len(sentenceEmbeddings) == 0 {
		return nil, errors.New("sentence embeddings are required")
	}
	out := make([][]float64, 0, len(chunks))
	for _, c := range chunks {
		vecs := make([][]float64, 0, len(c.SentenceIndices))
		for _, idx := range c.SentenceIndices {
			if idx < 0 || idx >= len(sentenceEmbeddings) {
				return nil, errors.New("sentence index out of range")
			}
			vecs = append(vecs, sentenceEmbeddings[idx])
		}
		avg, err := averageVectors(vecs)
		if err != nil {
			return nil, err
		}
		out = append(out, avg)
	}
	return out, nil
}

func buildChunk(sentences []string, start, end int) Chunk {
	indices := make([]int, 0, end-start)
	var sb strings.Builder
	for i := start; i < end; i++ {
		if i > start {
			sb.WriteByte(' ')
		}
		sb.WriteString(sentences[i])
		indices = append(indices, i)
	}
	return Chunk{
		Text:            sb.String(),
		StartSentence:   start,
		EndSentence:     end,
		SentenceIndices: indices,
	}
}

func applyOverlap(sentences []string, base []Chunk, overlapSentences int) []Chunk {
	out := make([]Chunk, 0, len(base))
	out = append(out, base[0])

	for i := 1; i < len(base); i++ {
		prev := out[i-1]
		cur := base[i]

		overlapStart := cur.StartSentence - overlapSentences
		if overlapStart < prev.StartSentence {
			overlapStart = prev.StartSentence
		}
		overlapEnd := cur.StartSentence
		if overlapStart >= overlapEnd {
			out = append(out, cur)
			continue
		}

		var sb strings.Builder
		indices := make([]int, 0, overlapEnd-overlapStart+len(cur.SentenceIndices))
		for s := overlapStart; s < overlapEnd; s++ {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(sentences[s])
			indices = append(indices, s)
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(cur.Text)
		indices = append(indices, cur.SentenceIndices...)

		out = append(out, Chunk{
			Text:                 sb.String(),
			StartSentence:        overlapStart,
			EndSentence:          cur.EndSentence,
			SentenceIndices:      indices,
			HasOverlap:           true,
			OverlapSentenceCount: overlapEnd - overlapStart,
		})
	}
	return out
}

func estimateTokens(sentences []string) int {
	chars := 0
	for _, s := range sentences {
		chars += len(s)
	}
	return chars / 4
}

func averageVectors(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, errors.New("cannot average empty vector list")
	}
	dim := len(vectors[0])
	avg := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
		for i := range v {
			avg[i] += v[i]
		}
	}
	for i := range avg {
		avg[i] /= float64(len(vectors))
	}
	return avg, nil
}
