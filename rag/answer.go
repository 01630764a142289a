package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"compliance-rag/internal/metrics"
)

const (
	DefaultProvider      = "Groq"
	DefaultAnswerTimeout = 30 * time.Second

	systemInstruction = "You are a strict, reliable compliance analyst. Respond only using the context provided."
)

var errNoChatClient = errors.New("no LLM client configured")

// ChatClient sends one system and one user message to a chat model and
// returns the reply text.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Answerer asks an LLM to answer a question strictly from retrieved context.
type Answerer struct {
	client         ChatClient
	provider       string
	timeout        time.Duration
	noContextReply string
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type AnswererOption func(*Answerer)

// WithProvider sets the provider name used in error messages.
func WithProvider(name string) AnswererOption {
	return func(a *Answerer) {
		if name != "" {
			a.provider = name
		}
	}
}

func WithAnswerTimeout(d time.Duration) AnswererOption {
	return func(a *Answerer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithNoContextReply makes Answer return reply without calling the LLM
// when the context is empty.
func WithNoContextReply(reply string) AnswererOption {
	return func(a *Answerer) {
		a.noContextReply = reply
	}
}

func WithAnswerLogger(logger *slog.Logger) AnswererOption {
	return func(a *Answerer) {
		a.logger = logger
	}
}

func WithAnswerMetrics(m *metrics.Metrics) AnswererOption {
	return func(a *Answerer) {
		a.metrics = m
	}
}

// NewAnswerer returns an Answerer. A nil client makes every Answer fail
// with an *AnswerError.
func NewAnswerer(client ChatClient, opts ...AnswererOption) *Answerer {
	a := &Answerer{
		client:   client,
		provider: DefaultProvider,
		timeout:  DefaultAnswerTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

func (a *Answerer) Provider() string { return a.provider }

// Answer returns the LLM's reply. Failures, including the timeout, are
// returned as *AnswerError.
func (a *Answerer) Answer(ctx context.Context, question, contextText string) (string, error) {
	if contextText == "" && a.noContextReply != "" {
		a.metrics.AnswerResult("no_context")
		return a.noContextReply, nil
	}
	if a.client == nil {
		a.metrics.AnswerResult("error")
		return "", &AnswerError{Provider: a.provider, Err: errNoChatClient}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.client.Complete(ctx, systemInstruction, BuildPrompt(question, contextText))
	if err != nil {
		a.metrics.AnswerResult("error")
		a.logger.Error("llm call failed", "provider", a.provider, "error", err)
		return "", &AnswerError{Provider: a.provider, Err: err}
	}

	a.metrics.AnswerResult("ok")
	return reply, nil
}

// AnswerOrMessage is Answer with every error turned into its user-facing message.
func (a *Answerer) AnswerOrMessage(ctx context.Context, question, contextText string) string {
	reply, err := a.Answer(ctx, question, contextText)
	if err != nil {
		return err.Error()
	}
	return reply
}

// BuildPrompt renders the user message sent with the system instruction.
func BuildPrompt(question, contextText string) string {
	return fmt.Sprintf(`You are a compliance assistant. Answer based only on the provided context below.

Context:
%s

Question: %s
Answer:`, contextText, question)
}
