// Package openai provides a client for OpenAI-compatible inference servers
// (Ollama /v1, vLLM, LM Studio) using the official SDK
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/Zerofisher/anxun/agent/llm"
)

const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "qwen3:8b"

	// placeholderKey is sent to local servers that ignore authentication.
	placeholderKey = "ollama"
)

// Client implements llm.Client for OpenAI-compatible APIs
type Client struct {
	config *llm.Config
	sdk    openai.Client
	health openai.Client
}

// New creates a new OpenAI-compatible client
func New(cfg *llm.Config) (*Client, error) {
	if cfg == nil {
		cfg = llm.DefaultConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = placeholderKey
	}

	// Build SDK options
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	for k, v := range cfg.ExtraHeader {
		opts = append(opts, option.WithHeader(k, v))
	}

	healthOpts := append([]option.RequestOption{}, opts...)
	if cfg.HealthTimeout > 0 {
		healthOpts = append(healthOpts, option.WithRequestTimeout(cfg.HealthTimeout))
	}

	return &Client{
		config: cfg,
		sdk:    openai.NewClient(opts...),
		health: openai.NewClient(healthOpts...),
	}, nil
}

func (c *Client) Provider() llm.Provider {
	return llm.ProviderOpenAI
}

func (c *Client) ModelID() string {
	return c.config.Model
}

func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	params := c.buildParams(req)

	var reqOpts []option.RequestOption
	if c.config.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(c.config.Timeout))
	}

	completion, err := c.sdk.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &llm.APIError{StatusCode: apiErr.StatusCode, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	return c.parseResponse(completion)
}

// ChatStream implements streaming chat with the SDK's SSE decoder
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	params := c.buildParams(req)

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)

	eventChan := make(chan llm.StreamEvent, 100)

	go c.processStream(ctx, stream, eventChan)

	return eventChan, nil
}

// Ping lists models as a liveness probe.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.health.Models.List(ctx); err != nil {
		return fmt.Errorf("AI服务不可达: %w", err)
	}
	return nil
}

func (c *Client) buildParams(req *llm.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	params := openai.ChatCompletionNewParams{
		Model: model,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	for _, msg := range req.Messages {
		params.Messages = append(params.Messages, convertMessage(msg))
	}
	return params
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleAssistant:
		return openai.AssistantMessage(msg.Content)
	default:
		return openai.UserMessage(msg.Content)
	}
}

func (c *Client) parseResponse(resp *openai.ChatCompletion) (*llm.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	return &llm.ChatResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: &llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (c *Client) processStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], eventChan chan<- llm.StreamEvent) {
	defer close(eventChan)
	defer stream.Close()

	eventChan <- llm.StreamEvent{Type: llm.StreamEventStart}

	stopReason := ""
	for stream.Next() {
		select {
		case <-ctx.Done():
			eventChan <- llm.StreamEvent{Type: llm.StreamEventError, Error: ctx.Err()}
			return
		default:
		}

		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			eventChan <- llm.StreamEvent{Type: llm.StreamEventDelta, Delta: delta}
		}
		if reason := chunk.Choices[0].FinishReason; reason != "" {
			stopReason = string(reason)
		}
	}

	if err := stream.Err(); err != nil {
		eventChan <- llm.StreamEvent{Type: llm.StreamEventError, Error: err}
		return
	}

	eventChan <- llm.StreamEvent{Type: llm.StreamEventEnd, StopReason: stopReason}
}

var (
	_ llm.Client = (*Client)(nil)
	_ llm.Pinger = (*Client)(nil)
)
