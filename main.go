package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openai/openai-go/v3/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"compliance-rag/internal/config"
	"compliance-rag/internal/logger"
	"compliance-rag/internal/metrics"
	"compliance-rag/rag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "compliance-rag",
		Usage: "question answering over compliance PDFs",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "ingest the documents folder and serve the HTTP API",
				Flags: []cli.Flag{
					envFlag(),
					docsFlag(),
					&cli.StringFlag{Name: "addr", Usage: "listen address (overrides HTTP_ADDR)"},
				},
				Action: serveAction,
			},
			{
				Name:      "ask",
				Usage:     "ingest the documents folder and answer one question",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					envFlag(),
					docsFlag(),
					&cli.IntFlag{Name: "k", Usage: "number of chunks to retrieve (overrides RETRIEVAL_TOP_K)"},
				},
				Action: askAction,
			},
			{
				Name:   "ingest",
				Usage:  "ingest the documents folder and print a report",
				Flags:  []cli.Flag{envFlag(), docsFlag()},
				Action: ingestAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{Name: "env", Usage: "path to a .env file", Value: ".env"}
}

func docsFlag() cli.Flag {
	return &cli.StringFlag{Name: "docs", Usage: "compliance PDF folder (overrides COMPLIANCE_DOCS_DIR)"}
}

// AppContext bundles what every command needs.
type AppContext struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func setup(cmd *cli.Command) (*AppContext, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, err
	}
	if docs := cmd.String("docs"); docs != "" {
		cfg.DocsDir = docs
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	l := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &AppContext{cfg: cfg, logger: l, registry: reg, metrics: metrics.New(reg)}, nil
}

func (a *AppContext) newEmbedder() rag.Embedder {
	ec := a.cfg.Embedding
	if ec.Provider == config.EmbeddingProviderHash {
		a.logger.Info("using local hash embedder", "dimension", ec.Dimension)
		return rag.NewHashEmbedder(ec.Dimension)
	}

	var counter rag.TokenCounter
	tc, err := rag.NewTiktokenCounter()
	if err != nil {
		a.logger.Warn("tiktoken unavailable, estimating token counts", "error", err)
	} else {
		counter = tc
	}

	inner := rag.NewOpenAIEmbedder(ec.APIKey,
		rag.WithEmbeddingModel(ec.Model),
		rag.WithEmbeddingDimension(ec.Dimension),
		rag.WithEmbeddingBaseURL(ec.BaseURL),
		rag.WithRequestsPerSecond(ec.RequestsPerSecond),
		rag.WithEmbeddingRequestOptions(option.WithRequestTimeout(time.Minute)),
	)
	a.logger.Info("using openai embedder", "model", ec.Model)
	return rag.NewLimitedEmbedder(inner, counter, ec.MaxTokens)
}

func (a *AppContext) newEngine(ctx context.Context, ingest bool) (*rag.Engine, error) {
	chunker, err := rag.NewChunker(a.cfg.ChunkSize, a.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	opts := rag.Options{
		Chunker:  chunker,
		Embedder: a.newEmbedder(),
		TopK:     a.cfg.TopK,
		Logger:   a.logger,
		Metrics:  a.metrics,
	}
	if ingest {
		opts.DocsDir = a.cfg.DocsDir
	}
	return rag.New(ctx, opts)
}

func (a *AppContext) newAnswerer() *rag.Answerer {
	lc := a.cfg.LLM
	var client rag.ChatClient
	if lc.APIKey != "" {
		client = rag.NewOpenAIChatClient(lc.APIKey, lc.BaseURL, lc.Model, &http.Client{Timeout: lc.Timeout})
	} else {
		a.logger.Warn("GROQ_API_KEY not set, answers will report the missing client")
	}
	return rag.NewAnswerer(client,
		rag.WithProvider(lc.Provider),
		rag.WithAnswerTimeout(lc.Timeout),
		rag.WithNoContextReply(lc.NoContextReply),
		rag.WithAnswerLogger(a.logger),
		rag.WithAnswerMetrics(a.metrics),
	)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	addr := a.cfg.HTTPAddr
	if v := cmd.String("addr"); v != "" {
		addr = v
	}

	engine, err := a.newEngine(ctx, true)
	if err != nil {
		return fmt.Errorf("startup ingestion failed: %w", err)
	}

	srv := NewServer(engine, a.newAnswerer(), a.cfg.DocsDir, a.cfg.TopK, a.logger, a.metrics, a.registry)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", addr, "chunks", engine.Len())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func askAction(ctx context.Context, cmd *cli.Command) error {
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return errors.New("usage: compliance-rag ask <question>")
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	k := int(cmd.Int("k"))
	if k <= 0 {
		k = a.cfg.TopK
	}

	engine, err := a.newEngine(ctx, true)
	if err != nil {
		return err
	}
	hits, err := engine.RetrieveChunks(ctx, question, k)
	if err != nil {
		return err
	}

	for _, h := range hits {
		fmt.Printf("%.4f  %s #%d\n", h.Distance, h.Chunk.Source, h.Chunk.Position)
	}
	fmt.Println()
	fmt.Println(a.newAnswerer().AnswerOrMessage(ctx, question, rag.FormatContext(hits)))
	return nil
}

func ingestAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	engine, err := a.newEngine(ctx, false)
	if err != nil {
		return err
	}

	report, err := engine.IngestFolder(ctx, a.cfg.DocsDir)
	if err != nil {
		return err
	}

	fmt.Printf("documents: %d\nchunks:    %d\n", report.Documents, report.Chunks)
	for _, name := range report.Skipped {
		fmt.Printf("skipped:   %s\n", name)
	}
	return nil
}
