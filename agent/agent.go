// Package agent sends capture records and chat turns to the inference
// backend and turns the replies into results.
package agent

import (
	"fmt"
	"time"

	"github.com/Zerofisher/anxun/agent/llm"
	"github.com/Zerofisher/anxun/agent/providers/ollama"
	"github.com/Zerofisher/anxun/agent/providers/openai"
	"github.com/Zerofisher/anxun/agent/tracing"
	"github.com/Zerofisher/anxun/internal/logging"
	"github.com/Zerofisher/anxun/pkg/model"
)

// DefaultTimeout bounds one non-streaming analysis or chat call.
const DefaultTimeout = 60 * time.Second

// Aliases rewrites requested model names before they reach the backend.
type Aliases map[string]string

// DefaultAliases maps retired model names onto their replacements.
func DefaultAliases() Aliases {
	return Aliases{"qwen2.5:7b": "qwen3:8b"}
}

// Resolve returns the alias target for name, or name itself.
func (a Aliases) Resolve(name string) string {
	if target, ok := a[name]; ok && target != "" {
		return target
	}
	return name
}

// NewLLMClient creates a traced client for the given provider. A nil cfg
// is read from the environment.
func NewLLMClient(provider llm.Provider, cfg *llm.Config) (llm.Client, error) {
	if provider == "" {
		provider = llm.DetectProvider()
	}
	if cfg == nil {
		cfg = llm.ConfigFromEnv(provider)
	}
	if err := llm.ValidateConfig(cfg, provider); err != nil {
		return nil, err
	}

	var (
		client llm.Client
		err    error
	)
	switch provider {
	case llm.ProviderOllama:
		client, err = ollama.New(cfg)
	case llm.ProviderOpenAI:
		client, err = openai.New(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return tracing.WrapClient(client), nil
}

// Option configures an Analyzer or a Chatter.
type Option func(*settings)

type settings struct {
	logger  logging.Logger
	aliases Aliases
	timeout time.Duration
}

func defaultSettings(opts []Option) settings {
	s := settings{
		logger:  logging.Nop(),
		aliases: DefaultAliases(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *settings) { s.logger = logging.OrNop(l) }
}

// WithAliases replaces the model alias map.
func WithAliases(a Aliases) Option {
	return func(s *settings) { s.aliases = a }
}

// WithTimeout bounds each non-streaming call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

func toMessages(turns []model.ChatTurn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}
	return msgs
}
