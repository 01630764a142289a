// Package metrics defines the Prometheus collectors of the compliance
// assistant. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	corpusChunks     prometheus.Gauge
	documents        *prometheus.CounterVec
	chunksIngested   prometheus.Counter
	retrievalLatency prometheus.Histogram
	answers          *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		corpusChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rag_corpus_chunks",
			Help: "Number of chunks in the vector index.",
		}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_documents_ingested_total",
			Help: "Documents processed by ingestion, by mode and result.",
		}, []string{"mode", "result"}),
		chunksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_chunks_ingested_total",
			Help: "Chunks appended to the index.",
		}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_retrieval_duration_seconds",
			Help:    "Time to embed a question and search the index.",
			Buckets: prometheus.DefBuckets,
		}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_answers_total",
			Help: "LLM answer attempts by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by handler and status code.",
		}, []string{"handler", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by handler.",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
	}

	reg.MustRegister(
		m.corpusChunks,
		m.documents,
		m.chunksIngested,
		m.retrievalLatency,
		m.answers,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

func (m *Metrics) SetCorpusChunks(n int) {
	if m == nil {
		return
	}
	m.corpusChunks.Set(float64(n))
}

// DocumentIngested counts one document; mode is "bulk" or "upload".
func (m *Metrics) DocumentIngested(mode string, chunks int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.documents.WithLabelValues(mode, result).Inc()
	m.chunksIngested.Add(float64(chunks))
}

func (m *Metrics) ObserveRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalLatency.Observe(d.Seconds())
}

// AnswerResult counts an answer attempt; result is "ok", "error" or "no_context".
func (m *Metrics) AnswerResult(result string) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(handler, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, code).Inc()
	m.httpLatency.WithLabelValues(handler).Observe(d.Seconds())
}
