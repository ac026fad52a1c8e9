package app

import (
	"context"
	"errors"
	"os"

	"github.com/Zerofisher/anxun/agent"
	"github.com/Zerofisher/anxun/agent/llm"
	"github.com/Zerofisher/anxun/pkg/model"
)

// Status values reported by SystemStatus.
const (
	AIRunning = "running"
	AIError   = "error"
	AIOffline = "offline"
	AIUnknown = "unknown"

	DataOK    = "ok"
	DataError = "error"
)

// SystemStatus is the health snapshot of the service.
type SystemStatus struct {
	AIService      string `json:"ollama_service"`
	DataDirectory  string `json:"data_directory"`
	ActiveSessions int    `json:"active_sessions"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

// Status probes the inference server and the data directory. Sub-checks
// degrade to their failure value; Status itself never fails.
func (s *Service) Status(ctx context.Context) SystemStatus {
	st := SystemStatus{
		AIService:      AIUnknown,
		DataDirectory:  DataError,
		ActiveSessions: s.chatter.Sessions().Count(),
		Model:          s.client.ModelID(),
	}
	if p, err := llm.ParseProvider(s.cfg.AI.Provider); err == nil {
		st.Provider = p.String()
	}

	if pinger, ok := s.client.(llm.Pinger); ok {
		err := pinger.Ping(ctx)
		var apiErr *llm.APIError
		switch {
		case err == nil:
			st.AIService = AIRunning
		case errors.As(err, &apiErr):
			st.AIService = AIError
		default:
			st.AIService = AIOffline
		}
	}

	if info, err := os.Stat(s.sink.Root()); err == nil && info.IsDir() {
		st.DataDirectory = DataOK
	}
	return st
}

// ChatOptions select the session and model for one chat turn.
type ChatOptions struct {
	SessionID string
	Model     string
}

func (s *Service) chatArgs(opts ChatOptions) (string, string) {
	id := opts.SessionID
	if id == "" {
		id = agent.DefaultSessionID
	}
	m := opts.Model
	if m == "" {
		m = s.cfg.ChatModel()
	}
	return id, m
}

// Chat sends one message in a session and returns the reply.
func (s *Service) Chat(ctx context.Context, message string, opts ChatOptions) (string, error) {
	id, m := s.chatArgs(opts)
	return s.chatter.Chat(ctx, message, id, m)
}

// ChatStream sends one message and streams the reply. stop ends the turn
// early.
func (s *Service) ChatStream(ctx context.Context, message string, opts ChatOptions) (<-chan agent.ChatChunk, context.CancelFunc, error) {
	id, m := s.chatArgs(opts)
	return s.chatter.ChatStream(ctx, message, id, m)
}

// ChatHistory returns a copy of a session's turns.
func (s *Service) ChatHistory(sessionID string) []model.ChatTurn {
	if sessionID == "" {
		sessionID = agent.DefaultSessionID
	}
	return s.chatter.Sessions().History(sessionID)
}

// ClearChat empties a session.
func (s *Service) ClearChat(sessionID string) {
	if sessionID == "" {
		sessionID = agent.DefaultSessionID
	}
	s.chatter.Sessions().Clear(sessionID)
}
