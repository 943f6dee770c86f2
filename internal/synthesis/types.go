// Package synthesis talks to the external code synthesis service.
//
// A Client sends one prompt with sampling parameters and returns raw text.
// The Router sits in front of the configured providers and applies rate
// limiting, per-call timeouts and provider fallback.
package synthesis

import (
	"context"
	"time"
)

// Provider identifies a synthesis backend
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Params are the sampling parameters for one call
type Params struct {
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Request is one synthesis call
type Request struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Params Params `json:"params"`
}

// Usage tracks token consumption reported by the provider
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the raw text produced by the provider
type Response struct {
	ID       string        `json:"id"`
	Provider Provider      `json:"provider"`
	Model    string        `json:"model"`
	Text     string        `json:"text"`
	Usage    *Usage        `json:"usage,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Client is implemented by every synthesis provider
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Health(ctx context.Context) error
	Provider() Provider
	Model() string
	Endpoint() string
}

// ProviderUsage tracks usage statistics for a provider
type ProviderUsage struct {
	Provider     Provider      `json:"provider"`
	RequestCount int64         `json:"request_count"`
	ErrorCount   int64         `json:"error_count"`
	TotalTokens  int64         `json:"total_tokens"`
	AvgLatency   time.Duration `json:"avg_latency"`
	LastUsed     time.Time     `json:"last_used"`
}
