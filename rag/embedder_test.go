package rag

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)

	text := "AML policy requires reporting transactions over $10,000."
	v1, err := e.Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	v2, _ := NewHashEmbedder(64).Embed(context.Background(), text)

	if len(v1) != 64 {
		t.Fatalf("expected dimension 64, got %d", len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embeddings not deterministic at index %d: %v vs %v", i, v1[i], v2[i])
		}
	}
}

func TestHashEmbedder_UnitLength(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dimension() != DefaultHashDimension {
		t.Fatalf("expected default dimension, got %d", e.Dimension())
	}

	v, _ := e.Embed(context.Background(), "Know your customer")
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("expected unit vector, squared norm is %f", sum)
	}

	zero, _ := e.Embed(context.Background(), "  ...  ")
	for _, x := range zero {
		if x != 0 {
			t.Fatalf("expected zero vector for text without words")
		}
	}
}

func TestHashEmbedder_SimilarTextsAreCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	q, _ := e.Embed(ctx, "reporting threshold for cash transactions")
	near, _ := e.Embed(ctx, "Cash transactions above the reporting threshold must be filed.")
	far, _ := e.Embed(ctx, "The cafeteria opens at nine.")

	idx := NewVectorIndex(256)
	if err := idx.Add([][]float32{far, near}); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, _ := idx.Search(q, 1)
	if res[0].Position != 1 {
		t.Fatalf("expected the related text to be nearest")
	}
}

func TestHashEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewHashEmbedder(32)
	ctx := context.Background()
	texts := []string{"sanctions screening", "wire transfer limits", ""}

	batch, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(batch))
	}
	for i, text := range texts {
		single, _ := e.Embed(ctx, text)
		for j := range single {
			if single[j] != batch[i][j] {
				t.Fatalf("batch vector %d differs at %d", i, j)
			}
		}
	}
}

func TestHashEmbedder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHashEmbedder(8).Embed(ctx, "x")
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got %v", err)
	}
}

func TestLimitedEmbedder_RejectsLongInput(t *testing.T) {
	e := NewLimitedEmbedder(NewHashEmbedder(8), nil, 10)
	ctx := context.Background()

	if _, err := e.Embed(ctx, "short question"); err != nil {
		t.Fatalf("expected short input to pass, got %v", err)
	}

	long := strings.Repeat("a", 31) // 11 estimated tokens
	_, err := e.EmbedBatch(ctx, []string{"ok", long})
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if !errors.Is(err, errTooManyTokens) {
		t.Fatalf("expected token limit error, got %v", err)
	}
	if embErr.Model != "hash-embedder-8" {
		t.Fatalf("expected inner model name, got %q", embErr.Model)
	}
}

func TestLimitedEmbedder_NoLimit(t *testing.T) {
	e := NewLimitedEmbedder(NewHashEmbedder(8), RuneEstimateCounter{}, 0)
	if _, err := e.Embed(context.Background(), strings.Repeat("word ", 10000)); err != nil {
		t.Fatalf("expected no limit, got %v", err)
	}
}

func TestRuneEstimateCounter(t *testing.T) {
	tests := map[string]int{
		"":     0,
		"a":    1,
		"abc":  1,
		"abcd": 2,
		"ééé":  1,
	}
	for in, want := range tests {
		if got := (RuneEstimateCounter{}).CountTokens(in); got != want {
			t.Errorf("CountTokens(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestTiktokenCounter(t *testing.T) {
	tc, err := NewTiktokenCounter()
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	if n := tc.CountTokens("hello world"); n != 2 {
		t.Fatalf("expected 2 tokens, got %d", n)
	}
	if n := tc.CountTokens(""); n != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", n)
	}
}
