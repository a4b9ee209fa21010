package llm

import (
	"context"
	"time"
)

// Provider defines the interface for chat-completion backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, params Params) (*Response, error)
}

// Embedder turns texts into vectors. The result holds one vector per input,
// in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Params are the per-request sampling settings. A nil Temperature leaves
// the provider's default in place; zero is sent as zero.
type Params struct {
	Temperature *float64
	MaxTokens   int
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
	MaxRetries     int
}

// DefaultParams returns the sampling settings carried by the config.
func (c *Config) DefaultParams() Params {
	temperature := c.Temperature
	return Params{Temperature: &temperature, MaxTokens: c.MaxTokens}
}

// Float returns a pointer to v, for Params.Temperature.
func Float(v float64) *float64 {
	return &v
}
