package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"compliance-rag/internal/metrics"
	"compliance-rag/rag"
)

const maxUploadBytes = 32 << 20

type Server struct {
	engine   *rag.Engine
	answerer *rag.Answerer
	docsDir  string
	topK     int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// NewServer wires the HTTP surface around an engine and an answerer.
// m and gatherer may be nil.
func NewServer(engine *rag.Engine, answerer *rag.Answerer, docsDir string, topK int, logger *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		answerer: answerer,
		docsDir:  docsDir,
		topK:     topK,
		logger:   logger,
		metrics:  m,
		gatherer: gatherer,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", s.instrument("health", s.healthHandler))
	mux.Handle("/stats", s.instrument("stats", s.statsHandler))
	mux.Handle("/compliance-qa", s.instrument("compliance_qa", s.complianceQAHandler))
	mux.Handle("/upload-pdf", s.instrument("upload_pdf", s.uploadPDFHandler))
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

type qaRequest struct {
	Question string `json:"question"`
}

type qaResponse struct {
	Answer string `json:"answer"`
}

// POST /compliance-qa  { "question": "..." }
// Backend failures are reported inside the answer, never as a 5xx.
func (s *Server) complianceQAHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req qaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ctx := r.Context()
	log := loggerFrom(r, s.logger)

	contextText, err := s.engine.Retrieve(ctx, question, s.topK)
	if err != nil {
		log.Error("retrieval failed", "error", err)
		writeJSON(w, http.StatusOK, qaResponse{Answer: "Error retrieving context: " + err.Error()})
		return
	}
	if contextText == "" {
		log.Info("no context retrieved, corpus is empty")
	}

	writeJSON(w, http.StatusOK, qaResponse{
		Answer: s.answerer.AnswerOrMessage(ctx, question, contextText),
	})
}

type uploadResponse struct {
	Message string `json:"message"`
	Chunks  int    `json:"chunks"`
}

// POST /upload-pdf  (multipart field "file")
// The file is kept in the documents folder so it is re-ingested on restart.
func (s *Server) uploadPDFHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") || name == ".pdf" {
		writeError(w, http.StatusBadRequest, "only .pdf files are accepted")
		return
	}

	staged, err := s.stageUpload(file)
	if err != nil {
		loggerFrom(r, s.logger).Error("failed to store upload", "file", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	// a failed upload must not replace a file that is already indexed
	defer os.Remove(staged)

	chunks, err := s.engine.IngestDocumentAs(r.Context(), staged, name)
	if err != nil {
		loggerFrom(r, s.logger).Error("failed to ingest upload", "file", name, "error", err)
		var readErr *rag.DocumentReadError
		if errors.As(err, &readErr) {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("could not read %s: %v", name, readErr.Err))
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if err := os.Rename(staged, filepath.Join(s.docsDir, name)); err != nil {
		loggerFrom(r, s.logger).Error("indexed upload could not be kept", "file", name, "chunks", chunks, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message: fmt.Sprintf("%s uploaded and indexed", name),
		Chunks:  chunks,
	})
}

// stageUpload copies the upload to a hidden temp file in the documents
// folder. Folder ingestion only picks up .pdf names, so staged files are
// never indexed on restart.
func (s *Server) stageUpload(src io.Reader) (string, error) {
	if err := os.MkdirAll(s.docsDir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.docsDir, ".upload-*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

type ctxKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument tags the request with an ID and records logs and metrics.
func (s *Server) instrument(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		log := s.logger.With("request_id", id, "handler", name)
		r = r.WithContext(contextWithLogger(r.Context(), log))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(name, strconv.Itoa(rec.status), elapsed)
		log.Info("request handled",
			"method", r.Method,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

func loggerFrom(r *http.Request, fallback *slog.Logger) *slog.Logger {
	if log, ok := r.Context().Value(ctxKey{}).(*slog.Logger); ok {
		return log
	}
	return fallback
}
