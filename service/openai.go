package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
type OpenAIProvider struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIProvider(model, apiKey, baseURL string, client *http.Client) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAIProvider{
		model:      model,
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: client,
	}
}

func (p *OpenAIProvider) ID() string {
	return "openai:" + p.model
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float32        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	User        string          `json:"user,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	oReq := openAIRequest{
		Model:     p.model,
		MaxTokens: req.MaxTokens,
		User:      req.SessionID,
	}
	if req.System != "" {
		oReq.Messages = append(oReq.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	oReq.Messages = append(oReq.Messages, openAIMessage{Role: "user", Content: req.Prompt})
	if req.Temperature > 0 {
		temp := req.Temperature
		oReq.Temperature = &temp
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Provider: "openai", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var oResp openAIResponse
	if err := json.Unmarshal(respBody, &oResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w", ErrUnusableLLMResponse, err)
	}
	if len(oResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai API returned no choices", ErrUnusableLLMResponse)
	}

	model := oResp.Model
	if model == "" {
		model = p.model
	}
	return &CompletionResponse{
		Text:  oResp.Choices[0].Message.Content,
		Model: model,
		Usage: TokenUsage{
			InputTokens:  oResp.Usage.PromptTokens,
			OutputTokens: oResp.Usage.CompletionTokens,
		},
	}, nil
}
