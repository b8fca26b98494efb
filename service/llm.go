package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/AnTengye/contractrisk/config"
)

// CompletionRequest is one stateless prompt to the model
type CompletionRequest struct {
	SessionID   string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// CompletionResponse is the model's free-form answer
type CompletionResponse struct {
	Text  string
	Model string
	Usage TokenUsage
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// LLMClient sends one prompt and returns the raw text answer. Implementations
// keep no conversation state between calls.
type LLMClient interface {
	ID() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Provider failures that another attempt cannot fix
var (
	ErrMissingAPIKey       = errors.New("API key not provided")
	ErrUnusableLLMResponse = errors.New("unusable provider response")
)

// StatusError is returned when a provider answers with a non-2xx status
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the call may succeed
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewLLMClient builds the configured provider wrapped with retry and timeout
func NewLLMClient(cfg *config.Config, metrics *Metrics) (LLMClient, error) {
	var inner LLMClient
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		inner = NewGeminiProvider(cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL, nil)
	case config.ProviderOpenAI:
		inner = NewOpenAIProvider(cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL, nil)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	return NewResilientClient(inner, ResilienceConfig{
		MaxAttempts:  cfg.Resilience.MaxAttempts,
		InitialDelay: cfg.Resilience.InitialDelay,
		Timeout:      cfg.Resilience.Timeout,
	}, metrics), nil
}
