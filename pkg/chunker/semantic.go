package chunker

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBreakpointPercentile = 95.0
	defaultEmbedConcurrency     = 4
	sentenceBuffer              = 1
)

var sentenceEnd = regexp.MustCompile(`[.?!]\s+`)

// Semantic splits text where the meaning of consecutive sentences shifts,
// measured as cosine distance between their embeddings
type Semantic struct {
	embedder    Embedder
	concurrency int
}

// SemanticOption configures Semantic
type SemanticOption func(*Semantic)

// WithEmbedConcurrency limits the number of in-flight embedding requests
func WithEmbedConcurrency(n int) SemanticOption {
	return func(s *Semantic) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewSemantic creates a semantic splitter backed by embedder
func NewSemantic(embedder Embedder, opts ...SemanticOption) *Semantic {
	s := &Semantic{
		embedder:    embedder,
		concurrency: defaultEmbedConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split breaks text into roughly numberOfChunks segments. When numberOfChunks
// is zero, breakpoints are distances above the 95th percentile.
func (s *Semantic) Split(ctx context.Context, text string, numberOfChunks int) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return sentences, nil
	}

	combined := make([]string, len(sentences))
	for i := range sentences {
		lo := max(0, i-sentenceBuffer)
		hi := min(len(sentences), i+sentenceBuffer+1)
		combined[i] = strings.Join(sentences[lo:hi], " ")
	}

	embeddings := make([][]float32, len(combined))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, sentence := range combined {
		eg.Go(func() error {
			vec, err := s.embedder.Embed(egCtx, sentence)
			if err != nil {
				return goerr.Wrap(err, "failed to embed sentence", goerr.V("index", i))
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	distances := make([]float64, len(embeddings)-1)
	for i := 0; i < len(embeddings)-1; i++ {
		distances[i] = 1 - cosineSimilarity(embeddings[i], embeddings[i+1])
	}

	p := defaultBreakpointPercentile
	if numberOfChunks > 0 {
		p = percentileForChunks(numberOfChunks, len(distances))
	}
	threshold := percentile(distances, p)

	var (
		chunks []string
		start  int
	)
	for i, d := range distances {
		if d > threshold {
			chunks = append(chunks, strings.Join(sentences[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(sentences) {
		chunks = append(chunks, strings.Join(sentences[start:], " "))
	}

	return chunks, nil
}

func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : loc[0]+1]); s != "" {
			sentences = append(sentences, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// percentileForChunks maps a desired chunk count onto a percentile by linear
// interpolation: one chunk -> 100th percentile, one chunk per distance -> 0th
func percentileForChunks(numberOfChunks, numDistances int) float64 {
	x1, y1 := float64(numDistances), 0.0
	x2, y2 := 1.0, 100.0
	if x1 == x2 {
		return y2
	}
	x := max(min(float64(numberOfChunks), x1), x2)
	y := y1 + ((y2-y1)/(x2-x1))*(x-x1)
	return min(max(y, 0), 100)
}

// percentile uses linear interpolation between closest ranks
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
