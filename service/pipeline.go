package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/google/uuid"
)

// Stage is a step of one analysis. Stages run in declaration order; any
// failure ends the analysis with nothing persisted.
type Stage string

const (
	StageReceived         Stage = "received"
	StageExtracted        Stage = "extracted"
	StagePromptBuilt      Stage = "prompt_built"
	StageAwaitingService  Stage = "awaiting_service"
	StageResponseReceived Stage = "response_received"
	StageParsed           Stage = "parsed"
	StageAggregated       Stage = "aggregated"
	StageFinished         Stage = "finished"
)

const sessionPrefix = "legal_doc_"

// Pipeline turns an uploaded document into a stored DocumentAnalysis. It holds
// no per-request state and is safe for concurrent use.
type Pipeline struct {
	client       LLMClient
	store        AnalysisStore
	extractor    *TextExtractor
	prompts      *PromptBuilder
	parser       *ResponseParser
	metrics      *Metrics
	temperature  float32
	maxTokens    int
	omitFullText bool
}

type PipelineOption func(*Pipeline)

// WithLimits sets the prompt character budget and the clause cap
func WithLimits(maxPromptChars, maxClauses int) PipelineOption {
	return func(p *Pipeline) {
		p.prompts = NewPromptBuilder(maxPromptChars, maxClauses)
		p.parser = NewResponseParser(maxClauses)
	}
}

func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithGeneration sets sampling temperature and output token limit for the model
func WithGeneration(temperature float32, maxTokens int) PipelineOption {
	return func(p *Pipeline) {
		p.temperature = temperature
		p.maxTokens = maxTokens
	}
}

// WithOmitFullText leaves full_document_text empty in stored records
func WithOmitFullText(omit bool) PipelineOption {
	return func(p *Pipeline) {
		p.omitFullText = omit
	}
}

func NewPipeline(client LLMClient, store AnalysisStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		client:    client,
		store:     store,
		extractor: NewTextExtractor(),
		prompts:   NewPromptBuilder(DefaultMaxPromptChars, MaxClauses),
		parser:    NewResponseParser(MaxClauses),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyze runs one document through every stage and stores the result.
// Failures are one of the Err* kinds in errors.go.
func (p *Pipeline) Analyze(ctx context.Context, content []byte, filename string) (analysis *model.DocumentAnalysis, err error) {
	start := time.Now()
	stage := StageReceived
	defer func() {
		var score float64
		if analysis != nil {
			score = analysis.OverallRiskScore
		}
		p.metrics.observeAnalysis(start, score, err)
		if err != nil {
			log := logger.Warn
			if !IsClientError(err) {
				log = logger.Error
			}
			log(ctx, "analysis failed",
				"after_stage", stage,
				"kind", ErrorKind(err),
				"filename", filename,
				"error", err,
			)
		}
	}()

	analysis = model.NewDocumentAnalysis(filename)
	sessionID := sessionPrefix + uuid.New().String()
	ctx = logger.WithAnalysis(ctx, analysis.ID, sessionID)
	logger.Debug(ctx, "analysis stage", "stage", stage, "filename", filename, "bytes", len(content))

	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	text, err := p.extractor.Extract(content, format)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no text could be extracted from %s", ErrEmptyDocument, filename)
	}
	stage = StageExtracted
	logger.Debug(ctx, "analysis stage", "stage", stage, "chars", len([]rune(text)))

	prompt := p.prompts.Build(text, filename)
	stage = StagePromptBuilt
	if prompt.Truncated {
		logger.Info(ctx, "document text truncated for prompt",
			"original_chars", prompt.OriginalChars,
			"max_chars", p.prompts.MaxChars(),
		)
	}
	logger.Debug(ctx, "analysis stage", "stage", stage, "truncated", prompt.Truncated)

	stage = StageAwaitingService
	logger.Debug(ctx, "analysis stage", "stage", stage, "client", p.client.ID())
	resp, err := p.client.Complete(ctx, CompletionRequest{
		SessionID:   sessionID,
		System:      prompt.System,
		Prompt:      prompt.User,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}
	stage = StageResponseReceived
	logger.Debug(ctx, "analysis stage", "stage", stage,
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	parsed, err := p.parser.Parse(ctx, resp.Text)
	if err != nil {
		return nil, err
	}
	stage = StageParsed
	logger.Debug(ctx, "analysis stage", "stage", stage, "clauses", len(parsed.Clauses))

	analysis.DocumentType = parsed.DocumentType
	analysis.Clauses = parsed.Clauses
	analysis.Summary = parsed.Summary
	analysis.Recommendations = parsed.Recommendations
	analysis.OverallRiskScore = AggregateRisk(parsed.Clauses)
	analysis.TextTruncated = prompt.Truncated
	analysis.Model = resp.Model
	if !p.omitFullText {
		analysis.FullDocumentText = &text
	}
	stage = StageAggregated
	logger.Debug(ctx, "analysis stage", "stage", stage, "overall_risk_score", analysis.OverallRiskScore)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis abandoned before saving: %w", err)
	}
	if err := p.store.Put(ctx, analysis); err != nil {
		return nil, err
	}
	stage = StageFinished
	logger.Info(ctx, "analysis finished",
		"filename", filename,
		"document_type", analysis.DocumentType,
		"clauses", len(analysis.Clauses),
		"overall_risk_score", analysis.OverallRiskScore,
		"duration", time.Since(start),
	)
	return analysis, nil
}
