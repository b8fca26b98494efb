package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AnTengye/contractrisk/config"
)

// DefaultMaxPromptChars bounds how much of a document is sent to the model.
// Text past the limit is not analysed.
const DefaultMaxPromptChars = 10000

// MaxClauses is the number of clauses the model is asked for and the parser keeps
const MaxClauses = config.MaxClauses

const systemPrompt = `You are an expert legal document analyzer. Your job is to:
1. Identify risky clauses in legal documents
2. Assign risk scores from 1-10 (1=low risk, 10=extremely risky)
3. Classify each clause as LOW (1-3), MEDIUM (4-6), or HIGH (7-10) risk
4. Provide clear explanations in plain English for why each clause is risky
5. Summarize the entire document in simple, accessible language
6. Provide actionable recommendations to reduce legal risks

Focus on common risk factors like:
- Auto-renewal clauses
- Indemnity and liability terms
- Termination restrictions
- Hidden fees or penalties
- Exclusive dealing arrangements
- Dispute resolution limitations
- Intellectual property transfers
- Data usage and privacy terms`

const outputContract = `Respond with a single JSON object and nothing else, in exactly this format:
{
    "clauses": [
        {
            "clause_text": "actual clause text",
            "risk_level": "low|medium|high",
            "risk_score": 1-10,
            "explanation": "why this clause is risky in plain English",
            "section": "section name if identifiable"
        }
    ],
    "summary": "plain language summary of the entire document",
    "recommendations": ["actionable recommendation 1", "actionable recommendation 2"],
    "document_type": "contract|terms_of_service|privacy_policy|loan_agreement|other"
}

Rules:
- "clauses" holds at most %d entries; keep only the most important risky clauses.
- Every clause must have "clause_text", "risk_level", "risk_score" and "explanation"; "section" is optional.
- "risk_score" is an integer from 1 to 10 and "risk_level" must match it: low for 1-3, medium for 4-6, high for 7-10.
- "document_type" is one of contract, terms_of_service, privacy_policy, loan_agreement or other.`

// Prompt is the instruction payload for one analysis
type Prompt struct {
	System        string
	User          string
	Truncated     bool
	OriginalChars int
}

// PromptBuilder renders document text into a deterministic prompt
type PromptBuilder struct {
	maxChars   int
	maxClauses int
}

func NewPromptBuilder(maxChars, maxClauses int) *PromptBuilder {
	if maxChars <= 0 {
		maxChars = DefaultMaxPromptChars
	}
	if maxClauses <= 0 || maxClauses > MaxClauses {
		maxClauses = MaxClauses
	}
	return &PromptBuilder{maxChars: maxChars, maxClauses: maxClauses}
}

// MaxChars returns the character budget for document text
func (b *PromptBuilder) MaxChars() int {
	return b.maxChars
}

// Build embeds at most MaxChars characters of text. Truncated reports whether
// anything was cut.
func (b *PromptBuilder) Build(text, filename string) Prompt {
	content, truncated := truncateChars(text, b.maxChars)
	if truncated {
		content += "..."
	}

	var sb strings.Builder
	sb.WriteString("Analyze this legal document and provide a detailed risk assessment:\n\n")
	fmt.Fprintf(&sb, "DOCUMENT: %s\n", filename)
	fmt.Fprintf(&sb, "CONTENT: %s\n\n", content)
	fmt.Fprintf(&sb, outputContract, b.maxClauses)
	sb.WriteString("\n")

	return Prompt{
		System:        systemPrompt,
		User:          sb.String(),
		Truncated:     truncated,
		OriginalChars: utf8.RuneCountInString(text),
	}
}

// truncateChars cuts s after n characters (runes, not bytes)
func truncateChars(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
