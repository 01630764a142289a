package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-rag/internal/metrics"
)

type stubChat struct {
	reply  string
	err    error
	delay  time.Duration
	calls  int
	system string
	user   string
}

func (s *stubChat) Complete(ctx context.Context, system, user string) (string, error) {
	s.calls++
	s.system, s.user = system, user
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

func TestAnswerer_Answer(t *testing.T) {
	chat := &stubChat{reply: "Transactions over $10,000 must be reported."}
	a := NewAnswerer(chat, WithAnswerLogger(quietLogger()))

	got, err := a.Answer(context.Background(), "What is the threshold?", "[aml.pdf]\nAML policy requires reporting transactions over $10,000.")
	require.NoError(t, err)
	assert.Equal(t, chat.reply, got)
	assert.Equal(t, systemInstruction, chat.system)
	assert.Contains(t, chat.user, "Context:\n[aml.pdf]\nAML policy")
	assert.True(t, strings.HasSuffix(chat.user, "Question: What is the threshold?\nAnswer:"))
}

func TestAnswerer_EmptyContextStillAsks(t *testing.T) {
	chat := &stubChat{reply: "I cannot find this in the provided documents."}
	a := NewAnswerer(chat, WithAnswerLogger(quietLogger()))

	got := a.AnswerOrMessage(context.Background(), "Anything?", "")
	assert.Equal(t, chat.reply, got)
	assert.Equal(t, 1, chat.calls)
	assert.Contains(t, chat.user, "Context:\n\n\nQuestion: Anything?")
}

func TestAnswerer_NoContextReply(t *testing.T) {
	chat := &stubChat{reply: "unused"}
	a := NewAnswerer(chat, WithNoContextReply("No compliance documents are loaded."))

	got, err := a.Answer(context.Background(), "Anything?", "")
	require.NoError(t, err)
	assert.Equal(t, "No compliance documents are loaded.", got)
	assert.Zero(t, chat.calls)

	_, err = a.Answer(context.Background(), "Anything?", "[a.pdf]\ntext")
	require.NoError(t, err)
	assert.Equal(t, 1, chat.calls)
}

func TestAnswerer_FailureBecomesMessage(t *testing.T) {
	chat := &stubChat{err: errors.New("503 service unavailable")}
	a := NewAnswerer(chat, WithProvider("Groq"), WithAnswerLogger(quietLogger()))

	_, err := a.Answer(context.Background(), "q", "ctx")
	var ansErr *AnswerError
	require.True(t, errors.As(err, &ansErr))
	assert.Equal(t, "Groq", ansErr.Provider)

	got := a.AnswerOrMessage(context.Background(), "q", "ctx")
	assert.Equal(t, "Error from Groq: 503 service unavailable", got)
}

func TestAnswerer_Timeout(t *testing.T) {
	chat := &stubChat{reply: "late", delay: time.Second}
	a := NewAnswerer(chat, WithAnswerTimeout(20*time.Millisecond), WithAnswerLogger(quietLogger()))

	_, err := a.Answer(context.Background(), "q", "ctx")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, strings.HasPrefix(a.AnswerOrMessage(context.Background(), "q", "ctx"), "Error from Groq"))
}

func TestAnswerer_NilClient(t *testing.T) {
	a := NewAnswerer(nil, WithProvider("Local"))

	got := a.AnswerOrMessage(context.Background(), "q", "ctx")
	assert.Equal(t, "Error from Local: no LLM client configured", got)
	assert.Equal(t, "Local", a.Provider())
}

func TestAnswerer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ok := NewAnswerer(&stubChat{reply: "yes"}, WithAnswerMetrics(m))
	failing := NewAnswerer(&stubChat{err: errors.New("boom")}, WithAnswerMetrics(m), WithAnswerLogger(quietLogger()))

	ok.AnswerOrMessage(context.Background(), "q", "ctx")
	ok.AnswerOrMessage(context.Background(), "q", "ctx")
	failing.AnswerOrMessage(context.Background(), "q", "ctx")

	n, err := testutil.GatherAndCount(reg, "rag_answers_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	expected := `
# HELP rag_answers_total LLM answer attempts by result.
# TYPE rag_answers_total counter
rag_answers_total{result="error"} 1
rag_answers_total{result="ok"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "rag_answers_total"))
}

func TestBuildPrompt(t *testing.T) {
	want := "You are a compliance assistant. Answer based only on the provided context below.\n\n" +
		"Context:\n[a.pdf]\nSome text.\n\nQuestion: Why?\nAnswer:"
	assert.Equal(t, want, BuildPrompt("Why?", "[a.pdf]\nSome text."))
}
