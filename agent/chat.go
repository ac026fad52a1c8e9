package agent

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Zerofisher/anxun/agent/llm"
	"github.com/Zerofisher/anxun/agent/session"
	"github.com/Zerofisher/anxun/pkg/model"
)

// DefaultSessionID is used when a caller does not name a session.
const DefaultSessionID = "default"

// ChatChunk is one element of a streamed reply: a content increment, the
// final Done marker, or an error. Exactly one of Done or Err ends a stream.
type ChatChunk struct {
	Content string
	Done    bool
	Err     error
}

// Chatter runs multi-turn conversations backed by a session store.
type Chatter struct {
	client   llm.Client
	sessions *session.Store
	settings
}

// NewChatter creates a Chatter over an explicitly constructed store.
func NewChatter(client llm.Client, sessions *session.Store, opts ...Option) *Chatter {
	return &Chatter{client: client, sessions: sessions, settings: defaultSettings(opts)}
}

// Sessions returns the underlying store.
func (c *Chatter) Sessions() *session.Store {
	return c.sessions
}

// prepare validates the message, records the user turn and builds the
// request from the system prompt and the retained history.
func (c *Chatter) prepare(message, sessionID, modelName string) (string, *llm.ChatRequest, error) {
	if strings.TrimSpace(message) == "" {
		return "", nil, model.Invalidf("消息不能为空")
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	c.sessions.Append(sessionID, model.RoleUser, message)
	req := &llm.ChatRequest{
		Model:    c.aliases.Resolve(modelName),
		Messages: toMessages(c.sessions.Context(sessionID, true)),
	}
	return sessionID, req, nil
}

// Chat sends one non-streaming turn and records the reply.
func (c *Chatter) Chat(ctx context.Context, message, sessionID, modelName string) (string, error) {
	sessionID, req, err := c.prepare(message, sessionID, modelName)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Chat(ctx, req)
	if err != nil {
		c.logger.LogError("chat request failed", map[string]string{"session": sessionID, "error": err.Error()})
		return "", fmt.Errorf("AI服务调用失败: %w", err)
	}

	c.sessions.Append(sessionID, model.RoleAssistant, resp.Content)
	return resp.Content, nil
}

// ChatStream sends one streaming turn. Increments are forwarded as they
// arrive; the concatenated reply is recorded once the backend reports
// completion. The returned stop func cancels the turn and releases the
// producer; callers that stop reading early must call it. It is safe to
// call after the stream has ended.
func (c *Chatter) ChatStream(ctx context.Context, message, sessionID, modelName string) (<-chan ChatChunk, context.CancelFunc, error) {
	sessionID, req, err := c.prepare(message, sessionID, modelName)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := c.client.ChatStream(ctx, req)
	if err != nil {
		cancel()
		c.logger.LogError("chat stream failed", map[string]string{"session": sessionID, "error": err.Error()})
		return nil, nil, fmt.Errorf("AI服务调用失败: %w", err)
	}

	out := make(chan ChatChunk, 16)
	go func() {
		defer cancel()
		defer close(out)

		send := func(chunk ChatChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var full strings.Builder
		for ev := range events {
			switch ev.Type {
			case llm.StreamEventDelta:
				full.WriteString(ev.Delta)
				if !send(ChatChunk{Content: ev.Delta}) {
					drain(events)
					return
				}
			case llm.StreamEventEnd:
				c.sessions.Append(sessionID, model.RoleAssistant, full.String())
				send(ChatChunk{Done: true})
				drain(events)
				return
			case llm.StreamEventError:
				c.logger.LogError("chat stream interrupted", map[string]string{"session": sessionID, "error": errString(ev.Error)})
				send(ChatChunk{Err: ev.Error})
				drain(events)
				return
			}
		}
		send(ChatChunk{Err: io.ErrUnexpectedEOF})
	}()
	return out, cancel, nil
}

// drain consumes the rest of a backend stream so its producer can exit.
func drain(events <-chan llm.StreamEvent) {
	go func() {
		for range events {
		}
	}()
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
