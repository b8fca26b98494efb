package service

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
)

// ResilienceConfig bounds a single logical LLM call
type ResilienceConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Timeout      time.Duration
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Timeout:      120 * time.Second,
	}
}

// ResilientClient retries transient provider failures with exponential
// backoff, all under one hard timeout. It never re-prompts because of what
// the model answered; only transport-level failures are retried.
type ResilientClient struct {
	inner   LLMClient
	cfg     ResilienceConfig
	metrics *Metrics
}

func NewResilientClient(inner LLMClient, cfg ResilienceConfig, metrics *Metrics) *ResilientClient {
	def := DefaultResilienceConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &ResilientClient{inner: inner, cfg: cfg, metrics: metrics}
}

func (c *ResilientClient) ID() string {
	return c.inner.ID()
}

func (c *ResilientClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	r := retry.New[*CompletionResponse](retry.Config{
		MaxAttempts:   c.cfg.MaxAttempts,
		InitialDelay:  c.cfg.InitialDelay,
		BackoffPolicy: retry.BackoffExponential,
		IsRetryable:   isTransient,
	})
	t := timeout.New[*CompletionResponse](timeout.Config{
		DefaultTimeout: c.cfg.Timeout,
	})

	return t.Execute(ctx, c.cfg.Timeout, func(ctx context.Context) (*CompletionResponse, error) {
		return r.Do(ctx, func(ctx context.Context) (*CompletionResponse, error) {
			resp, err := c.inner.Complete(ctx, req)
			c.metrics.observeLLMAttempt(err)
			return resp, err
		})
	})
}

// isTransient treats provider 429/5xx answers and transport failures as
// retryable. Other non-2xx answers, missing credentials, unparseable bodies
// and cancellation are not.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrMissingAPIKey) ||
		errors.Is(err, ErrUnusableLLMResponse) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
