package tracing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zerofisher/anxun/agent/llm"
)

// TracedClient wraps an llm.Client to add OpenTelemetry tracing.
// It creates spans for Chat, ChatStream and Ping with GenAI semantic conventions.
type TracedClient struct {
	client llm.Client
}

// WrapClient wraps an inference client with tracing.
// If tracing is not enabled, returns the original client unchanged.
func WrapClient(client llm.Client) llm.Client {
	if !IsEnabled() {
		return client
	}
	return &TracedClient{client: client}
}

func (c *TracedClient) startSpan(ctx context.Context, name, op string, req *llm.ChatRequest) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))

	model := req.Model
	if model == "" {
		model = c.client.ModelID()
	}
	span.SetAttributes(
		attribute.String("gen_ai.system", string(c.client.Provider())),
		attribute.String("gen_ai.request.model", model),
		attribute.String("gen_ai.operation.name", op),
		attribute.Int("gen_ai.request.message_count", len(req.Messages)),
	)

	// Last user message as input preview, for Langfuse compatibility
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser && req.Messages[i].Content != "" {
			preview := Truncate(req.Messages[i].Content, 500)
			span.SetAttributes(
				attribute.String("gen_ai.prompt", preview),
				attribute.String("input", preview),
			)
			break
		}
	}
	return ctx, span
}

// Chat implements llm.Client.Chat with tracing.
func (c *TracedClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, span := c.startSpan(ctx, "llm.chat", "chat", req)
	defer span.End()

	resp, err := c.client.Chat(ctx, req)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	outputPreview := Truncate(resp.Content, 500)
	span.SetAttributes(
		attribute.String("gen_ai.completion", outputPreview),
		attribute.String("output", outputPreview), // Langfuse fallback
	)
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
			attribute.Int("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
		)
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// ChatStream implements llm.Client.ChatStream with tracing.
func (c *TracedClient) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	ctx, span := c.startSpan(ctx, "llm.chat_stream", "chat_stream", req)

	eventChan, err := c.client.ChatStream(ctx, req)
	if err != nil {
		recordError(span, err)
		span.End()
		return nil, err
	}

	// Wrap channel to end span when streaming completes
	wrappedChan := make(chan llm.StreamEvent, 100)
	go func() {
		defer close(wrappedChan)

		var contentBuilder strings.Builder
		failed := false
		forwarding := true
		for event := range eventChan {
			if forwarding {
				select {
				case wrappedChan <- event:
				case <-ctx.Done():
					forwarding, failed = false, true
					recordError(span, ctx.Err())
				}
			}

			switch event.Type {
			case llm.StreamEventDelta:
				contentBuilder.WriteString(event.Delta)
			case llm.StreamEventError:
				if event.Error != nil {
					failed = true
					recordError(span, event.Error)
				}
			}
		}

		if text := contentBuilder.String(); text != "" {
			outputPreview := Truncate(text, 500)
			span.SetAttributes(
				attribute.String("gen_ai.completion", outputPreview),
				attribute.String("output", outputPreview),
			)
		}
		if !failed {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	return wrappedChan, nil
}

// Ping forwards the liveness probe when the wrapped client supports it.
func (c *TracedClient) Ping(ctx context.Context) error {
	pinger, ok := c.client.(llm.Pinger)
	if !ok {
		return errors.New("client does not support health checks")
	}
	ctx, span := Tracer().Start(ctx, "llm.ping", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("gen_ai.system", string(c.client.Provider())))

	if err := pinger.Ping(ctx); err != nil {
		recordError(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Provider implements llm.Client.Provider.
func (c *TracedClient) Provider() llm.Provider {
	return c.client.Provider()
}

// ModelID implements llm.Client.ModelID.
func (c *TracedClient) ModelID() string {
	return c.client.ModelID()
}

// StartCommand opens an internal span around one external command
// invocation. The returned func ends the span and records err if non-nil.
func StartCommand(ctx context.Context, tool string, args []string) (context.Context, func(err error)) {
	ctx, span := Tracer().Start(ctx, "exec."+tool, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("process.executable.name", tool),
		attribute.String("process.command_args", Truncate(strings.Join(args, " "), 500)),
	)
	return ctx, func(err error) {
		if err != nil {
			recordError(span, err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(sanitizedError(err))
	span.SetStatus(codes.Error, SanitizeUTF8(err.Error()))
}

// sanitizedError wraps an error with a sanitized UTF-8 message.
// This ensures RecordError doesn't fail on invalid UTF-8 in error messages.
type sanitizedErr struct {
	original error
	message  string
}

func (e *sanitizedErr) Error() string {
	return e.message
}

func (e *sanitizedErr) Unwrap() error {
	return e.original
}

func sanitizedError(err error) error {
	if err == nil {
		return nil
	}
	return &sanitizedErr{
		original: err,
		message:  SanitizeUTF8(fmt.Sprintf("%v", err)),
	}
}
