package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnTengye/contractrisk/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 10 * time.Millisecond
)

// fakeLLM returns canned text and records every request it receives
type fakeLLM struct {
	mu       sync.Mutex
	text     string
	err      error
	block    bool
	requests []CompletionRequest
}

func (f *fakeLLM) ID() string { return "fake:test" }

func (f *fakeLLM) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &CompletionResponse{Text: f.text, Model: "fake-model"}, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Put(context.Context, *model.DocumentAnalysis) error {
	return ErrStorage
}

const autoRenewResponse = `{"clauses":[{"clause_text":"Auto-renews without notice","risk_level":"high","risk_score":9,"explanation":"Locks the customer in."}],"summary":"Renewal risk.","recommendations":["Add 30-day notice clause"],"document_type":"contract"}`

func TestPipelineAnalyze(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{text: autoRenewResponse}
	store := NewMemoryStore(0)
	p := NewPipeline(llm, store)

	doc := "This agreement auto-renews every year without notice."
	a, err := p.Analyze(ctx, []byte(doc), "agreement.txt")
	require.NoError(t, err)

	require.Len(t, a.Clauses, 1)
	assert.Equal(t, model.RiskHigh, a.Clauses[0].RiskLevel)
	assert.Equal(t, 9, a.Clauses[0].RiskScore)
	assert.Equal(t, 9.0, a.OverallRiskScore)
	assert.Equal(t, model.DocContract, a.DocumentType)
	assert.Equal(t, "Renewal risk.", a.Summary)
	assert.Equal(t, []string{"Add 30-day notice clause"}, a.Recommendations)
	assert.Equal(t, "agreement.txt", a.Filename)
	assert.Equal(t, "fake-model", a.Model)
	assert.False(t, a.TextTruncated)
	require.NotNil(t, a.FullDocumentText)
	assert.Equal(t, doc, *a.FullDocumentText)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, a.DocumentID)

	stored, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Clauses, stored.Clauses)
	assert.Equal(t, 1, store.Count())

	require.Equal(t, 1, llm.calls())
	req := llm.requests[0]
	assert.True(t, strings.HasPrefix(req.SessionID, "legal_doc_"))
	assert.Contains(t, req.Prompt, doc)
	assert.Contains(t, req.Prompt, "agreement.txt")
	assert.NotEmpty(t, req.System)
}

func TestPipelineAnalyzePDF(t *testing.T) {
	llm := &fakeLLM{text: autoRenewResponse}
	store := NewMemoryStore(0)
	p := NewPipeline(llm, store)

	a, err := p.Analyze(context.Background(), buildPDF([]string{"Renewal", "", "Termination"}), "lease.pdf")
	require.NoError(t, err)

	require.NotNil(t, a.FullDocumentText)
	assert.Equal(t, "Renewal\n\nTermination\n", *a.FullDocumentText)
	assert.Equal(t, "lease.pdf", a.Filename)
	assert.Equal(t, 9.0, a.OverallRiskScore)
	assert.Equal(t, 1, store.Count())
	require.Equal(t, 1, llm.calls())
	assert.Contains(t, llm.requests[0].Prompt, "Termination")
}

func TestPipelineFreshSessionPerAnalysis(t *testing.T) {
	llm := &fakeLLM{text: autoRenewResponse}
	p := NewPipeline(llm, NewMemoryStore(0))

	for i := 0; i < 2; i++ {
		_, err := p.Analyze(context.Background(), []byte("text"), "a.txt")
		require.NoError(t, err)
	}
	require.Equal(t, 2, llm.calls())
	assert.NotEqual(t, llm.requests[0].SessionID, llm.requests[1].SessionID)
}

func TestPipelineFailures(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		filename  string
		llm       *fakeLLM
		wantErr   error
		wantCalls int
	}{
		{
			name:      "score out of range",
			content:   "some text",
			filename:  "a.txt",
			llm:       &fakeLLM{text: `{"clauses":[{"clause_text":"x","risk_level":"high","risk_score":11,"explanation":"e"}]}`},
			wantErr:   ErrSchemaViolation,
			wantCalls: 1,
		},
		{
			name:      "unsupported extension",
			content:   "some text",
			filename:  "notes.docx",
			llm:       &fakeLLM{text: autoRenewResponse},
			wantErr:   ErrUnsupportedFormat,
			wantCalls: 0,
		},
		{
			name:      "prose response",
			content:   "some text",
			filename:  "a.txt",
			llm:       &fakeLLM{text: "I could not find any risky clauses."},
			wantErr:   ErrMalformedResponse,
			wantCalls: 1,
		},
		{
			name:      "service failure",
			content:   "some text",
			filename:  "a.txt",
			llm:       &fakeLLM{err: &StatusError{Provider: "fake", StatusCode: 503}},
			wantErr:   ErrService,
			wantCalls: 1,
		},
		{
			name:      "blank document",
			content:   " \n\t ",
			filename:  "a.txt",
			llm:       &fakeLLM{text: autoRenewResponse},
			wantErr:   ErrEmptyDocument,
			wantCalls: 0,
		},
		{
			name:      "invalid utf-8",
			content:   "\xff\xfe\xfd",
			filename:  "a.txt",
			llm:       &fakeLLM{text: autoRenewResponse},
			wantErr:   ErrExtraction,
			wantCalls: 0,
		},
		{
			name:      "corrupt pdf",
			content:   "not a pdf",
			filename:  "a.PDF",
			llm:       &fakeLLM{text: autoRenewResponse},
			wantErr:   ErrExtraction,
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore(0)
			p := NewPipeline(tt.llm, store)

			a, err := p.Analyze(context.Background(), []byte(tt.content), tt.filename)
			require.Error(t, err)
			assert.Nil(t, a)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, tt.wantCalls, tt.llm.calls())
			assert.Equal(t, 0, store.Count(), "no record may be stored on failure")
		})
	}
}

func TestPipelineFailureLogsLastStageReached(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name  string
		llm   *fakeLLM
		file  string
		stage Stage
	}{
		{"unsupported format", &fakeLLM{text: autoRenewResponse}, "notes.docx", StageReceived},
		{"service failure", &fakeLLM{err: &StatusError{Provider: "fake", StatusCode: 503}}, "a.txt", StageAwaitingService},
		{"parse failure", &fakeLLM{text: "prose"}, "a.txt", StageResponseReceived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			_, err := NewPipeline(tt.llm, NewMemoryStore(0)).Analyze(context.Background(), []byte("text"), tt.file)
			require.Error(t, err)
			assert.Contains(t, buf.String(), "analysis failed")
			assert.Contains(t, buf.String(), "after_stage="+string(tt.stage))
		})
	}
}

func TestPipelineFencedResponse(t *testing.T) {
	ctx := context.Background()
	plain, err := NewPipeline(&fakeLLM{text: autoRenewResponse}, NewMemoryStore(0)).
		Analyze(ctx, []byte("text"), "a.txt")
	require.NoError(t, err)
	fenced, err := NewPipeline(&fakeLLM{text: "```json\n" + autoRenewResponse + "\n```"}, NewMemoryStore(0)).
		Analyze(ctx, []byte("text"), "a.txt")
	require.NoError(t, err)

	assert.Equal(t, plain.OverallRiskScore, fenced.OverallRiskScore)
	assert.Equal(t, plain.Summary, fenced.Summary)
	assert.Equal(t, plain.Clauses[0].ClauseText, fenced.Clauses[0].ClauseText)
	assert.Equal(t, plain.Clauses[0].RiskLevel, fenced.Clauses[0].RiskLevel)
}

func TestPipelineTruncation(t *testing.T) {
	llm := &fakeLLM{text: `{"clauses":[]}`}
	p := NewPipeline(llm, NewMemoryStore(0), WithLimits(20, 0))

	doc := strings.Repeat("é", 30)
	a, err := p.Analyze(context.Background(), []byte(doc), "long.txt")
	require.NoError(t, err)

	assert.True(t, a.TextTruncated)
	assert.Equal(t, doc, *a.FullDocumentText)
	assert.Contains(t, llm.requests[0].Prompt, strings.Repeat("é", 20)+"...")
	assert.NotContains(t, llm.requests[0].Prompt, strings.Repeat("é", 21))
	assert.Equal(t, 0.0, a.OverallRiskScore)
	assert.Empty(t, a.Clauses)
}

func TestPipelineOmitFullText(t *testing.T) {
	p := NewPipeline(&fakeLLM{text: autoRenewResponse}, NewMemoryStore(0), WithOmitFullText(true))
	a, err := p.Analyze(context.Background(), []byte("text"), "a.txt")
	require.NoError(t, err)
	assert.Nil(t, a.FullDocumentText)
}

func TestPipelineGenerationSettings(t *testing.T) {
	llm := &fakeLLM{text: autoRenewResponse}
	p := NewPipeline(llm, NewMemoryStore(0), WithGeneration(0.2, 4096))
	_, err := p.Analyze(context.Background(), []byte("text"), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, float32(0.2), llm.requests[0].Temperature)
	assert.Equal(t, 4096, llm.requests[0].MaxTokens)
}

func TestPipelineStoreFailure(t *testing.T) {
	p := NewPipeline(&fakeLLM{text: autoRenewResponse}, failingStore{NewMemoryStore(0)})
	a, err := p.Analyze(context.Background(), []byte("text"), "a.txt")
	assert.Nil(t, a)
	assert.True(t, errors.Is(err, ErrStorage), "got %v", err)
}

func TestPipelineCancelledDuringServiceCall(t *testing.T) {
	llm := &fakeLLM{block: true}
	store := NewMemoryStore(0)
	p := NewPipeline(llm, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Analyze(ctx, []byte("text"), "a.txt")
		done <- err
	}()

	require.Eventually(t, func() bool { return llm.calls() == 1 }, testTimeout, testTick)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, ErrService))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, store.Count())
}

func TestPipelineConcurrent(t *testing.T) {
	store := NewMemoryStore(0)
	p := NewPipeline(&fakeLLM{text: autoRenewResponse}, store)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Analyze(context.Background(), []byte("text"), "a.txt")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, store.Count())
}

func TestPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	ok := NewPipeline(&fakeLLM{text: autoRenewResponse}, NewMemoryStore(0), WithMetrics(m))
	_, err := ok.Analyze(context.Background(), []byte("text"), "a.txt")
	require.NoError(t, err)

	bad := NewPipeline(&fakeLLM{text: "prose"}, NewMemoryStore(0), WithMetrics(m))
	_, err = bad.Analyze(context.Background(), []byte("text"), "a.txt")
	require.Error(t, err)

	_, err = bad.Analyze(context.Background(), []byte("text"), "a.doc")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("malformed_response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("unsupported_format")))
}
