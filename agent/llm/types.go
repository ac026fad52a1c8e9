// Package llm provides unified abstractions for inference backends
package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider represents different inference backends
type Provider string

const (
	ProviderOllama Provider = "ollama" // native /api/chat
	ProviderOpenAI Provider = "openai" // any OpenAI-compatible /v1 endpoint
)

// Message represents a unified chat message
type Message struct {
	Role    Role   // system/user/assistant
	Content string // text content
}

// Role represents message roles
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatRequest represents a unified chat request
type ChatRequest struct {
	Model       string    // model identifier, empty = client default
	Messages    []Message // conversation history
	MaxTokens   int       // max tokens to generate, 0 = backend default
	Temperature float64   // sampling temperature, 0 = backend default
}

// ChatResponse represents a unified chat response
type ChatResponse struct {
	Content    string // text content from assistant
	StopReason string // why the model stopped
	Usage      *Usage // token usage (optional)
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamEventType represents the type of streaming event
type StreamEventType string

const (
	StreamEventStart StreamEventType = "start" // Stream started
	StreamEventDelta StreamEventType = "delta" // Content delta (text chunk)
	StreamEventEnd   StreamEventType = "end"   // Stream ended
	StreamEventError StreamEventType = "error" // Error occurred
)

// StreamEvent represents a streaming event from the backend
type StreamEvent struct {
	Type       StreamEventType // Event type
	Delta      string          // Text delta (for delta events)
	StopReason string          // Stop reason (for end events)
	Error      error           // Error (for error events)
}

// Client is the unified interface for all inference backends
type Client interface {
	// Chat sends a chat request and returns the response
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream sends a chat request and returns a stream of events.
	// The channel is closed after an end or error event.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)

	// Provider returns the provider type
	Provider() Provider

	// ModelID returns the current model identifier
	ModelID() string
}

// Pinger is implemented by clients that can probe backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APIError is returned when the backend answers with a non-200 status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("AI服务错误: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("AI服务错误: HTTP %d: %s", e.StatusCode, e.Body)
}

// Config holds common configuration for backend clients
type Config struct {
	APIKey        string            // API key for authentication
	BaseURL       string            // Base URL for API requests
	Model         string            // Model identifier
	Timeout       time.Duration     // Request timeout for non-streaming calls
	HealthTimeout time.Duration     // Timeout for liveness probes
	MaxRetries    int               // Max retry attempts (OpenAI SDK only)
	ExtraHeader   map[string]string // Extra HTTP headers
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:       60 * time.Second,
		HealthTimeout: 5 * time.Second,
	}
}
