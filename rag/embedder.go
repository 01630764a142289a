package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder maps text to fixed-dimension vectors. EmbedBatch must return
// exactly what calling Embed on each element would.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

const DefaultHashDimension = 384

// HashEmbedder is a local, deterministic embedding model: lower-cased word
// unigrams and bigrams are hashed into signed buckets and the result is
// L2-normalized. It holds no mutable state and is safe for concurrent use.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, &EmbeddingError{Model: e.ModelName(), Err: err}
	}

	vec := make([]float32, e.dim)
	words := tokenize(text)
	for i, w := range words {
		e.addFeature(vec, w, 1)
		if i > 0 {
			e.addFeature(vec, words[i-1]+" "+w, 0.5)
		}
	}
	l2normalize(vec)
	return vec, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) ModelName() string {
	return fmt.Sprintf("hash-embedder-%d", e.dim)
}

func (e *HashEmbedder) addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := sum % uint64(e.dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// TokenCounter counts model tokens in a text.
type TokenCounter interface {
	CountTokens(text string) int
}

// RuneEstimateCounter approximates tokens as one per three runes.
type RuneEstimateCounter struct{}

func (RuneEstimateCounter) CountTokens(text string) int {
	return (len([]rune(text)) + 2) / 3
}

var errTooManyTokens = errors.New("input exceeds model token limit")

// LimitedEmbedder rejects inputs longer than the model's token limit before
// they reach the wrapped Embedder. Chunk sizes normally keep inputs well
// under the limit; this guards questions and misconfigured chunk sizes.
type LimitedEmbedder struct {
	Embedder
	counter   TokenCounter
	maxTokens int
}

func NewLimitedEmbedder(inner Embedder, counter TokenCounter, maxTokens int) *LimitedEmbedder {
	if counter == nil {
		counter = RuneEstimateCounter{}
	}
	return &LimitedEmbedder{Embedder: inner, counter: counter, maxTokens: maxTokens}
}

func (e *LimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.check(0, text); err != nil {
		return nil, err
	}
	return e.Embedder.Embed(ctx, text)
}

func (e *LimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, text := range texts {
		if err := e.check(i, text); err != nil {
			return nil, err
		}
	}
	return e.Embedder.EmbedBatch(ctx, texts)
}

func (e *LimitedEmbedder) check(i int, text string) error {
	if e.maxTokens <= 0 {
		return nil
	}
	if n := e.counter.CountTokens(text); n > e.maxTokens {
		return &EmbeddingError{
			Model: e.ModelName(),
			Err:   fmt.Errorf("%w: input %d has %d tokens, limit %d", errTooManyTokens, i, n, e.maxTokens),
		}
	}
	return nil
}
