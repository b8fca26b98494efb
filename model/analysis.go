package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RiskLevel is the coarse risk band of a clause
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Risk score bounds
const (
	MinRiskScore = 1
	MaxRiskScore = 10
)

// ParseRiskLevel accepts low/medium/high in any case
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	}
	return "", fmt.Errorf("invalid risk level %q", s)
}

// LevelForScore maps a 1-10 score onto its band: 1-3 low, 4-6 medium, 7-10 high.
// It is the only place the correspondence is defined.
func LevelForScore(score int) (RiskLevel, error) {
	switch {
	case score < MinRiskScore || score > MaxRiskScore:
		return "", fmt.Errorf("risk score %d out of range [%d,%d]", score, MinRiskScore, MaxRiskScore)
	case score <= 3:
		return RiskLow, nil
	case score <= 6:
		return RiskMedium, nil
	default:
		return RiskHigh, nil
	}
}

// DocumentType classifies the analysed document
type DocumentType string

const (
	DocContract       DocumentType = "contract"
	DocTermsOfService DocumentType = "terms_of_service"
	DocPrivacyPolicy  DocumentType = "privacy_policy"
	DocLoanAgreement  DocumentType = "loan_agreement"
	DocOther          DocumentType = "other"
	DocUnknown        DocumentType = "unknown"
)

// KnownDocumentTypes lists the types the model is asked to choose from
var KnownDocumentTypes = []DocumentType{
	DocContract,
	DocTermsOfService,
	DocPrivacyPolicy,
	DocLoanAgreement,
	DocOther,
}

// ParseDocumentType normalises a reported type. Empty input is unknown,
// anything outside the known set is other.
func ParseDocumentType(s string) DocumentType {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DocUnknown
	}
	for _, t := range KnownDocumentTypes {
		if DocumentType(s) == t {
			return t
		}
	}
	if DocumentType(s) == DocUnknown {
		return DocUnknown
	}
	return DocOther
}

// Clause is a single risky passage found in a document
type Clause struct {
	ID          string    `json:"id"`
	ClauseText  string    `json:"clause_text"`
	RiskLevel   RiskLevel `json:"risk_level"`
	RiskScore   int       `json:"risk_score"`
	Explanation string    `json:"explanation"`
	Section     *string   `json:"section"`
}

// NewClause builds a clause with a fresh id. The level is derived from the score.
func NewClause(text string, score int, explanation string, section *string) (Clause, error) {
	if strings.TrimSpace(text) == "" {
		return Clause{}, fmt.Errorf("clause text is empty")
	}
	level, err := LevelForScore(score)
	if err != nil {
		return Clause{}, err
	}
	return Clause{
		ID:          uuid.New().String(),
		ClauseText:  text,
		RiskLevel:   level,
		RiskScore:   score,
		Explanation: explanation,
		Section:     section,
	}, nil
}

// DocumentAnalysis is the finished, immutable result of analysing one upload
type DocumentAnalysis struct {
	ID               string       `json:"id"`
	DocumentID       string       `json:"document_id"`
	Filename         string       `json:"filename"`
	DocumentType     DocumentType `json:"document_type"`
	FullDocumentText *string      `json:"full_document_text"`
	TextTruncated    bool         `json:"text_truncated"`
	Model            string       `json:"model,omitempty"`
	Clauses          []Clause     `json:"clauses"`
	Summary          string       `json:"summary"`
	Recommendations  []string     `json:"recommendations"`
	OverallRiskScore float64      `json:"overall_risk_score"`
	CreatedAt        time.Time    `json:"created_at"`
}

// NewDocumentAnalysis assigns the record and document ids and the creation time
func NewDocumentAnalysis(filename string) *DocumentAnalysis {
	return &DocumentAnalysis{
		ID:              uuid.New().String(),
		DocumentID:      uuid.New().String(),
		Filename:        filename,
		DocumentType:    DocUnknown,
		Clauses:         []Clause{},
		Recommendations: []string{},
		CreatedAt:       time.Now().UTC().Round(0),
	}
}

// TimestampLayout is the fixed-width ISO-8601 form used for stored timestamps,
// so lexical order matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts TimestampLayout and any RFC 3339 timestamp
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
