// Package ollama provides a client for Ollama's native /api/chat endpoint
// built on the official Go API client.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/Zerofisher/anxun/agent/llm"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "qwen3:8b"
)

// Client implements llm.Client against /api/chat and /api/tags.
type Client struct {
	config *llm.Config

	// chat carries the total timeout for non-streaming calls.
	chat *api.Client
	// stream only bounds the wait for response headers.
	stream *api.Client
	// health is used for the liveness probe.
	health *api.Client
}

// New creates a new Ollama client
func New(cfg *llm.Config) (*Client, error) {
	if cfg == nil {
		cfg = llm.DefaultConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	// Accept the OpenAI-compatible form of the URL as well.
	cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 5 * time.Second
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL %q: %w", cfg.BaseURL, err)
	}

	header := make(http.Header)
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	for k, v := range cfg.ExtraHeader {
		header.Set(k, v)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport := transport.Clone()
	streamTransport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		config: cfg,
		chat:   api.NewClient(base, &http.Client{Timeout: cfg.Timeout, Transport: withHeader(transport, header)}),
		stream: api.NewClient(base, &http.Client{Transport: withHeader(streamTransport, header)}),
		health: api.NewClient(base, &http.Client{Timeout: cfg.HealthTimeout, Transport: withHeader(transport, header)}),
	}, nil
}

func (c *Client) Provider() llm.Provider {
	return llm.ProviderOllama
}

func (c *Client) ModelID() string {
	return c.config.Model
}

func (c *Client) buildRequest(req *llm.ChatRequest, stream bool) *api.ChatRequest {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	body := &api.ChatRequest{Model: model, Stream: &stream}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, api.Message{Role: string(m.Role), Content: m.Content})
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.Options = map[string]any{}
		if req.Temperature > 0 {
			body.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			body.Options["num_predict"] = req.MaxTokens
		}
	}
	return body
}

func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var out *api.ChatResponse
	err := c.chat.Chat(ctx, c.buildRequest(req, false), func(resp api.ChatResponse) error {
		out = &resp
		return nil
	})
	if err != nil {
		return nil, convertError(err)
	}
	if out == nil {
		return nil, fmt.Errorf("AI服务错误: empty response")
	}

	return &llm.ChatResponse{
		Content:    out.Message.Content,
		StopReason: out.DoneReason,
		Usage: &llm.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// ChatStream forwards the streamed reply as events. A stream that ends
// without a done chunk is reported as io.ErrUnexpectedEOF. Cancelling ctx
// closes the response body and ends the producer.
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	body := c.buildRequest(req, true)
	eventChan := make(chan llm.StreamEvent, 100)
	go c.processStream(ctx, body, eventChan)
	return eventChan, nil
}

func (c *Client) processStream(ctx context.Context, body *api.ChatRequest, eventChan chan<- llm.StreamEvent) {
	defer close(eventChan)

	send := func(ev llm.StreamEvent) bool {
		select {
		case eventChan <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(llm.StreamEvent{Type: llm.StreamEventStart}) {
		return
	}

	var (
		done       bool
		stopReason string
	)
	err := c.stream.Chat(ctx, body, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			if !send(llm.StreamEvent{Type: llm.StreamEventDelta, Delta: resp.Message.Content}) {
				return ctx.Err()
			}
		}
		if resp.Done {
			done, stopReason = true, resp.DoneReason
		}
		return nil
	})

	switch {
	case err != nil:
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		send(llm.StreamEvent{Type: llm.StreamEventError, Error: fmt.Errorf("stream interrupted: %w", convertError(err))})
	case !done:
		send(llm.StreamEvent{Type: llm.StreamEventError, Error: fmt.Errorf("stream interrupted: %w", io.ErrUnexpectedEOF)})
	default:
		send(llm.StreamEvent{Type: llm.StreamEventEnd, StopReason: stopReason})
	}
}

// Ping lists local models through GET /api/tags.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.health.List(ctx); err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return &llm.APIError{StatusCode: statusErr.StatusCode, Body: statusErr.ErrorMessage}
		}
		return fmt.Errorf("AI服务不可达: %w", err)
	}
	return nil
}

// convertError maps non-200 answers to *llm.APIError and keeps other
// errors wrapped.
func convertError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &llm.APIError{StatusCode: statusErr.StatusCode, Body: statusErr.ErrorMessage}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("AI服务连接失败: %w", err)
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

func withHeader(base http.RoundTripper, header http.Header) http.RoundTripper {
	if len(header) == 0 {
		return base
	}
	return &headerTransport{base: base, header: header}
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.header {
		r.Header[k] = v
	}
	return t.base.RoundTrip(r)
}

var (
	_ llm.Client = (*Client)(nil)
	_ llm.Pinger = (*Client)(nil)
)
