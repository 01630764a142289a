package rag

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultEmbeddingModel = "text-embedding-3-small"

	// maxEmbeddingBatch is the most inputs the embeddings endpoint accepts per request.
	maxEmbeddingBatch = 100
)

// OpenAIEmbedder embeds text through an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
	limiter   *rate.Limiter
	parallel  int
}

type openAIEmbedderOptions struct {
	model     string
	dimension int
	rps       float64
	parallel  int
	clientOpt []option.RequestOption
}

// OpenAIEmbedderOption configures an OpenAIEmbedder.
type OpenAIEmbedderOption func(*openAIEmbedderOptions)

func WithEmbeddingModel(model string) OpenAIEmbedderOption {
	return func(o *openAIEmbedderOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithEmbeddingDimension requests shortened vectors from models that support it.
func WithEmbeddingDimension(dimension int) OpenAIEmbedderOption {
	return func(o *openAIEmbedderOptions) {
		o.dimension = dimension
	}
}

func WithEmbeddingBaseURL(url string) OpenAIEmbedderOption {
	return func(o *openAIEmbedderOptions) {
		if url != "" {
			o.clientOpt = append(o.clientOpt, option.WithBaseURL(url))
		}
	}
}

// WithRequestsPerSecond caps the request rate; zero or less means unlimited.
func WithRequestsPerSecond(rps float64) OpenAIEmbedderOption {
	return func(o *openAIEmbedderOptions) {
		o.rps = rps
	}
}

// WithEmbeddingRequestOptions passes raw client options such as retries or an HTTP client.
func WithEmbeddingRequestOptions(opts ...option.RequestOption) OpenAIEmbedderOption {
	return func(o *openAIEmbedderOptions) {
		o.clientOpt = append(o.clientOpt, opts...)
	}
}

func NewOpenAIEmbedder(apiKey string, opts ...OpenAIEmbedderOption) *OpenAIEmbedder {
	options := openAIEmbedderOptions{
		model:    DefaultEmbeddingModel,
		parallel: 4,
	}
	for _, opt := range opts {
		opt(&options)
	}

	limit := rate.Inf
	if options.rps > 0 {
		limit = rate.Limit(options.rps)
	}

	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, options.clientOpt...)
	return &OpenAIEmbedder{
		client:    openai.NewClient(clientOpts...),
		model:     options.model,
		dimension: options.dimension,
		limiter:   rate.NewLimiter(limit, 1),
		parallel:  options.parallel,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch splits texts into requests of at most 100 inputs, sends them
// concurrently under the rate limit and reassembles the vectors in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for start := 0; start < len(texts); start += maxEmbeddingBatch {
		end := min(start+maxEmbeddingBatch, len(texts))
		g.Go(func() error {
			return e.embedInto(gctx, texts[start:end], out[start:end])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &EmbeddingError{Model: e.model, Err: err}
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedInto(ctx context.Context, texts []string, dst [][]float32) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(dst) || dst[idx] != nil {
			return fmt.Errorf("unexpected embedding index %d", data.Index)
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		dst[idx] = vector
	}
	return nil
}

// Dimension returns the requested dimension, or 0 when the model default is used.
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func (e *OpenAIEmbedder) ModelName() string { return e.model }
