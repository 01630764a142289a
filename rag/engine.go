package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"compliance-rag/internal/metrics"
)

const DefaultTopK = 3

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	DocsDir        string // bulk-ingested by New when set
	Chunker        *Chunker
	Embedder       Embedder
	Extractor      TextExtractor
	TopK           int
	ExtractWorkers int
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Engine owns the vector index and the corpus aligned with it. Appends run
// under the write lock, searches under the read lock, so readers never see
// an index row without its chunk text and source.
type Engine struct {
	chunker   *Chunker
	embedder  Embedder
	extractor TextExtractor
	topK      int
	workers   int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.RWMutex
	index  *VectorIndex
	corpus *Corpus
}

// New builds an engine and, when opts.DocsDir is set, ingests every PDF in it
// before returning.
func New(ctx context.Context, opts Options) (*Engine, error) {
	e := &Engine{
		chunker:   opts.Chunker,
		embedder:  opts.Embedder,
		extractor: opts.Extractor,
		topK:      opts.TopK,
		workers:   opts.ExtractWorkers,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		corpus:    NewCorpus(),
	}
	if e.chunker == nil {
		e.chunker = &Chunker{maxSize: DefaultChunkSize, overlap: DefaultChunkOverlap}
	}
	if e.embedder == nil {
		e.embedder = NewHashEmbedder(DefaultHashDimension)
	}
	if e.extractor == nil {
		e.extractor = PDFExtractor{}
	}
	if e.topK <= 0 {
		e.topK = DefaultTopK
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.index = NewVectorIndex(e.embedder.Dimension())

	if opts.DocsDir != "" {
		if _, err := e.IngestFolder(ctx, opts.DocsDir); err != nil {
			return nil, err
		}
	}
	return e, nil
}

type document struct {
	source string
	chunks []string
	err    error
}

// IngestFolder ingests every .pdf file in dir in filename order with one
// embedding batch and one append. Unreadable documents are logged and
// skipped; a missing folder yields an empty report.
func (e *Engine) IngestFolder(ctx context.Context, dir string) (FolderReport, error) {
	var report FolderReport

	paths, err := listPDFs(dir)
	if err != nil {
		return report, err
	}

	docs := make([]document, len(paths))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, path := range paths {
		g.Go(func() error {
			docs[i] = e.prepare(path, filepath.Base(path))
			return nil
		})
	}
	_ = g.Wait()

	var (
		kept  []document
		texts []string
	)
	for _, d := range docs {
		if d.err != nil {
			e.logger.Warn("skipping unreadable document", "source", d.source, "error", d.err)
			e.metrics.DocumentIngested("bulk", 0, d.err)
			report.Skipped = append(report.Skipped, d.source)
			continue
		}
		kept = append(kept, d)
		texts = append(texts, d.chunks...)
	}

	if err := e.embedAndAppend(ctx, kept, texts); err != nil {
		for range kept {
			e.metrics.DocumentIngested("bulk", 0, err)
		}
		return report, err
	}
	for _, d := range kept {
		e.metrics.DocumentIngested("bulk", len(d.chunks), nil)
	}

	report.Documents = len(kept)
	report.Chunks = len(texts)
	e.logger.Info("ingested folder",
		"dir", dir,
		"documents", report.Documents,
		"chunks", report.Chunks,
		"skipped", len(report.Skipped),
	)
	return report, nil
}

// IngestDocument ingests one PDF and returns the number of chunks appended.
func (e *Engine) IngestDocument(ctx context.Context, path string) (int, error) {
	return e.IngestDocumentAs(ctx, path, filepath.Base(path))
}

// IngestDocumentAs is IngestDocument with chunks attributed to source
// instead of the file's base name. Uploads are read from a staging file
// before they take their final name.
func (e *Engine) IngestDocumentAs(ctx context.Context, path, source string) (int, error) {
	d := e.prepare(path, source)
	if d.err != nil {
		e.metrics.DocumentIngested("upload", 0, d.err)
		return 0, d.err
	}

	if err := e.embedAndAppend(ctx, []document{d}, d.chunks); err != nil {
		e.metrics.DocumentIngested("upload", 0, err)
		return 0, err
	}
	e.metrics.DocumentIngested("upload", len(d.chunks), nil)

	e.logger.Info("ingested document", "source", d.source, "chunks", len(d.chunks))
	return len(d.chunks), nil
}

func (e *Engine) prepare(path, source string) document {
	d := document{source: source}

	text, err := e.extractor.ExtractText(path)
	if err != nil {
		var readErr *DocumentReadError
		if !errors.As(err, &readErr) {
			err = &DocumentReadError{Path: path, Err: err}
		}
		d.err = err
		return d
	}

	d.chunks = e.chunker.Split(text)
	return d
}

// embedAndAppend embeds texts, the concatenated chunks of docs, and appends
// vectors and chunks as one unit.
func (e *Engine) embedAndAppend(ctx context.Context, docs []document, texts []string) error {
	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return e.embeddingError(err)
		}
		if len(vectors) != len(texts) {
			return &EmbeddingError{
				Model: e.embedder.ModelName(),
				Err:   fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(texts)),
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.index.Add(vectors); err != nil {
		return &EmbeddingError{Model: e.embedder.ModelName(), Err: err}
	}
	for _, d := range docs {
		e.corpus.Append(d.source, d.chunks)
	}
	e.metrics.SetCorpusChunks(e.corpus.Len())
	return nil
}

// Retrieve returns the k chunks closest to question formatted as context
// blocks, or "" when the corpus is empty. k <= 0 selects the default.
func (e *Engine) Retrieve(ctx context.Context, question string, k int) (string, error) {
	hits, err := e.RetrieveChunks(ctx, question, k)
	if err != nil {
		return "", err
	}
	return FormatContext(hits), nil
}

// RetrieveChunks returns the k nearest chunks, closest first.
func (e *Engine) RetrieveChunks(ctx context.Context, question string, k int) ([]Hit, error) {
	if k <= 0 {
		k = e.topK
	}
	if e.Len() == 0 {
		return nil, nil
	}

	start := time.Now()
	query, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, e.embeddingError(err)
	}

	e.mu.RLock()
	neighbors, err := e.index.Search(query, k)
	hits := make([]Hit, len(neighbors))
	if err == nil {
		for i, n := range neighbors {
			hits[i] = Hit{Chunk: e.corpus.At(n.Position), Distance: n.Distance}
		}
	}
	e.mu.RUnlock()

	if err != nil {
		return nil, &EmbeddingError{Model: e.embedder.ModelName(), Err: err}
	}
	e.metrics.ObserveRetrieval(time.Since(start))
	return hits, nil
}

// FormatContext renders hits as "[source]\ntext" blocks separated by a blank line.
func FormatContext(hits []Hit) string {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		blocks[i] = "[" + h.Chunk.Source + "]\n" + h.Chunk.Text
	}
	return strings.Join(blocks, "\n\n")
}

// Len returns the number of chunks in the corpus.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.corpus.Len()
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Chunks:    e.corpus.Len(),
		Documents: e.corpus.Documents(),
		Dimension: e.index.Dimension(),
	}
}

// Chunks returns a copy of the corpus in index order.
func (e *Engine) Chunks() []Chunk {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Chunk, e.corpus.Len())
	for i := range out {
		out[i] = e.corpus.At(i)
	}
	return out
}

func (e *Engine) embeddingError(err error) error {
	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return err
	}
	return &EmbeddingError{Model: e.embedder.ModelName(), Err: err}
}

// listPDFs returns the .pdf files of dir sorted by name.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list documents in %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}
