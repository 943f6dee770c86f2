package synthesis

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are an expert software developer. Respond with complete, runnable code."

// OpenAIClient calls any OpenAI-compatible chat completions endpoint
type OpenAIClient struct {
	client  *openai.Client
	model   string
	baseURL string
}

// NewOpenAIClient creates a client. baseURL may point at a self-hosted
// OpenAI-compatible server; empty means api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		baseURL: cfg.BaseURL,
	}
}

func (o *OpenAIClient) Provider() Provider { return ProviderOpenAI }
func (o *OpenAIClient) Model() string      { return o.model }
func (o *OpenAIClient) Endpoint() string   { return o.baseURL }

// Complete implements Client
func (o *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	system := req.System
	if system == "" {
		system = systemPrompt
	}
	chatReq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Response{
		ID:       req.ID,
		Provider: ProviderOpenAI,
		Model:    resp.Model,
		Text:     resp.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// Health lists models as a cheap authenticated round-trip
func (o *OpenAIClient) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai health check failed: %w", err)
	}
	return nil
}
