package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// DefaultDimension is the vector size when none is configured.
const DefaultDimension = 384

// HashProvider encodes text as an L2-normalized bag-of-words vector using
// feature hashing. Deterministic, offline, and stable across runs, which
// keeps similarity search usable when no embedding model is deployed.
type HashProvider struct {
	dimension int
	metrics   *Metrics
}

// NewHashProvider creates a hashing provider with the given dimension.
func NewHashProvider(dimension int) (*HashProvider, error) {
	if dimension == 0 {
		dimension = DefaultDimension
	}
	if dimension < 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrInvalidConfig, dimension)
	}
	return &HashProvider{
		dimension: dimension,
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, "hash", "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.encode(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, "hash", "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	return p.encode(text), nil
}

// Dimension returns the configured vector size.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *HashProvider) Close() error {
	return nil
}

// encode hashes each token into a bucket, accumulates counts, and
// L2-normalizes. A text with no tokens yields the zero vector unchanged.
func (p *HashProvider) encode(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%uint32(p.dimension)]++
	}
	return normalize(vec)
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales vec to unit length. The zero vector passes through.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
