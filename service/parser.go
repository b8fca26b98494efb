package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/xeipuuv/gojsonschema"
)

// rawPreviewChars is how much of an unparseable response is quoted in errors
const rawPreviewChars = 200

const fence = "```"

const responseSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "clauses": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["clause_text", "risk_level", "risk_score", "explanation"],
        "properties": {
          "clause_text": { "type": "string", "pattern": "\\S" },
          "risk_level": { "type": "string", "pattern": "(?i)^\\s*(low|medium|high)\\s*$" },
          "risk_score": { "type": "integer", "minimum": 1, "maximum": 10 },
          "explanation": { "type": "string" },
          "section": { "type": ["string", "null"] }
        }
      }
    },
    "summary": { "type": ["string", "null"] },
    "recommendations": {
      "type": ["array", "null"],
      "items": { "type": "string" }
    },
    "document_type": { "type": ["string", "null"] }
  }
}`

var responseSchemaLoader = gojsonschema.NewStringLoader(responseSchemaJSON)

// ParsedResponse is the validated part of an analysis produced by the model
type ParsedResponse struct {
	Clauses         []model.Clause
	Summary         string
	Recommendations []string
	DocumentType    model.DocumentType
}

type rawClause struct {
	ClauseText  string      `json:"clause_text"`
	RiskLevel   string      `json:"risk_level"`
	RiskScore   json.Number `json:"risk_score"`
	Explanation string      `json:"explanation"`
	Section     *string     `json:"section"`
}

type rawResponse struct {
	Clauses         []json.RawMessage `json:"clauses"`
	Summary         *string           `json:"summary"`
	Recommendations []string          `json:"recommendations"`
	DocumentType    *string           `json:"document_type"`
}

// ResponseParser validates free-form model output against the analysis schema.
// Leniency is limited to stripping code fences and defaulting optional
// top-level fields; values are never rewritten to make them fit.
type ResponseParser struct {
	maxClauses int
}

func NewResponseParser(maxClauses int) *ResponseParser {
	if maxClauses <= 0 || maxClauses > MaxClauses {
		maxClauses = MaxClauses
	}
	return &ResponseParser{maxClauses: maxClauses}
}

// StripFences removes a surrounding markdown code block, with or without a
// language tag. Text that is not fenced on both ends is only trimmed.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) < 2*len(fence) || !strings.HasPrefix(s, fence) || !strings.HasSuffix(s, fence) {
		return s
	}
	inner := s[len(fence) : len(s)-len(fence)]
	inner = strings.TrimLeftFunc(inner, isLanguageTagRune)
	return strings.TrimSpace(inner)
}

func isLanguageTagRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '+'
}

// Parse turns raw model output into validated clauses and summary fields
func (p *ResponseParser) Parse(ctx context.Context, raw string) (*ParsedResponse, error) {
	body := []byte(StripFences(raw))

	doc, err := decodeObject(body)
	if err != nil {
		preview, _ := truncateChars(strings.TrimSpace(raw), rawPreviewChars)
		return nil, fmt.Errorf("%w: %v; response starts with: %q", ErrMalformedResponse, err, preview)
	}

	if err := p.validate(ctx, doc); err != nil {
		return nil, err
	}

	var resp rawResponse
	if err := decodeWithNumbers(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if len(resp.Clauses) > p.maxClauses {
		resp.Clauses = resp.Clauses[:p.maxClauses]
	}

	return p.build(ctx, &resp)
}

// decodeObject parses exactly one JSON object with numbers kept as json.Number
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return obj, nil
}

func decodeWithNumbers(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

// validate checks the first maxClauses clauses and the optional top-level
// fields against the response schema
func (p *ResponseParser) validate(ctx context.Context, doc map[string]any) error {
	if clauses, ok := doc["clauses"].([]any); ok && len(clauses) > p.maxClauses {
		logger.Warn(ctx, "model returned more clauses than allowed, extra clauses dropped",
			"returned", len(clauses),
			"kept", p.maxClauses,
		)
		doc["clauses"] = clauses[:p.maxClauses]
	}

	result, err := gojsonschema.Validate(responseSchemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(issues, "; "))
}

func (p *ResponseParser) build(ctx context.Context, resp *rawResponse) (*ParsedResponse, error) {
	out := &ParsedResponse{
		Clauses:         make([]model.Clause, 0, len(resp.Clauses)),
		Recommendations: []string{},
		DocumentType:    model.DocUnknown,
	}

	for i, msg := range resp.Clauses {
		var rc rawClause
		if err := decodeWithNumbers(msg, &rc); err != nil {
			return nil, fmt.Errorf("%w: clauses[%d]: %v", ErrSchemaViolation, i, err)
		}
		score, err := clauseScore(rc.RiskScore)
		if err != nil {
			return nil, fmt.Errorf("%w: clauses[%d].risk_score: %v", ErrSchemaViolation, i, err)
		}
		reported, err := model.ParseRiskLevel(rc.RiskLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: clauses[%d].risk_level: %v", ErrSchemaViolation, i, err)
		}

		clause, err := model.NewClause(rc.ClauseText, score, rc.Explanation, rc.Section)
		if err != nil {
			return nil, fmt.Errorf("%w: clauses[%d]: %v", ErrSchemaViolation, i, err)
		}
		if clause.RiskLevel != reported {
			logger.Warn(ctx, "risk level disagrees with score, using level derived from score",
				"clause_index", i,
				"risk_score", score,
				"reported_level", reported,
				"derived_level", clause.RiskLevel,
			)
		}
		out.Clauses = append(out.Clauses, clause)
	}

	if resp.Summary != nil {
		out.Summary = *resp.Summary
	}
	if resp.Recommendations != nil {
		out.Recommendations = resp.Recommendations
	}
	if resp.DocumentType != nil {
		out.DocumentType = model.ParseDocumentType(*resp.DocumentType)
	}

	return out, nil
}

// clauseScore converts a validated JSON number; integral floats such as 7.0 are accepted
func clauseScore(n json.Number) (int, error) {
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("%q is not an integer", n.String())
	}
	return int(f), nil
}
