// Package llm is the model gateway: a provider-neutral completion client,
// OpenAI-compatible and Anthropic providers, and composable executors
// (timeout, retry, fallback) built around the Client interface.
package llm

import (
	"context"
	"fmt"
	"time"

	flowerrors "github.com/randalmurphal/medconsult/pkg/flowgraph/errors"
)

// Client sends completion requests to a model.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return f(ctx, req)
}

// Provider names accepted by ModelConfig.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ModelConfig describes one model endpoint.
type ModelConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	Temperature *float64      `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// DefaultTimeout applies when ModelConfig.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Validate checks the configuration.
func (c ModelConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	switch c.Provider {
	case "", ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be >= 0, got %d", c.MaxTokens)
	}
	return nil
}

// New builds the executor chain for cfg: the provider client wrapped in a
// per-attempt timeout and then in retries.
func New(cfg ModelConfig) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		provider Client
		err      error
	)
	switch cfg.Provider {
	case ProviderAnthropic:
		provider, err = NewAnthropic(cfg)
	default:
		provider, err = NewOpenAI(cfg)
	}
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := WithTimeout(provider, timeout)
	if cfg.MaxRetries > 0 {
		client = WithRetry(client, flowerrors.NewRetryConfig(flowerrors.DefaultRetry,
			flowerrors.WithMaxAttempts(cfg.MaxRetries+1),
		))
	}
	return client, nil
}

// applyDefaults fills request fields left zero from the model config.
func applyDefaults(req CompletionRequest, cfg ModelConfig) CompletionRequest {
	if req.Model == "" {
		req.Model = cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if req.Temperature == nil {
		req.Temperature = cfg.Temperature
	}
	return req
}
