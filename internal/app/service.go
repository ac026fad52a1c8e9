// Package app provides application-level orchestration for anxun.
package app

import (
	"context"
	"fmt"

	"github.com/Zerofisher/anxun/agent"
	"github.com/Zerofisher/anxun/agent/llm"
	"github.com/Zerofisher/anxun/agent/session"
	"github.com/Zerofisher/anxun/agent/tracing"
	"github.com/Zerofisher/anxun/capture"
	"github.com/Zerofisher/anxun/internal/config"
	"github.com/Zerofisher/anxun/internal/logging"
	"github.com/Zerofisher/anxun/internal/notify"
	"github.com/Zerofisher/anxun/pkg/store"
	"github.com/Zerofisher/anxun/pkg/store/files"
)

// Deps are the collaborators of a Service. Setup builds the real ones; tests
// pass fakes.
type Deps struct {
	Client   llm.Client
	Sink     store.Sink
	Invoker  *capture.Invoker
	Notifier notify.Notifier // nil disables alerts
	Logger   logging.Logger
}

// Service wires capture, analysis, chat, persistence and alerting behind
// the operations exposed by the CLI and the HTTP API.
type Service struct {
	cfg      *config.Config
	client   llm.Client
	sink     store.Sink
	invoker  *capture.Invoker
	analyzer *agent.Analyzer
	chatter  *agent.Chatter
	alerter  *notify.Alerter
	logger   logging.Logger
	closers  []func()
}

// New assembles a Service from already-built collaborators.
func New(cfg *config.Config, deps Deps) *Service {
	logger := logging.OrNop(deps.Logger)
	opts := []agent.Option{
		agent.WithLogger(logger),
		agent.WithAliases(agent.Aliases(cfg.AI.ModelAliases)),
		agent.WithTimeout(cfg.AI.Timeout.Std()),
	}
	return &Service{
		cfg:      cfg,
		client:   deps.Client,
		sink:     deps.Sink,
		invoker:  deps.Invoker,
		analyzer: agent.NewAnalyzer(deps.Client, deps.Sink, opts...),
		chatter:  agent.NewChatter(deps.Client, session.New(cfg.Chat.MaxHistory, agent.SystemPrompt), opts...),
		alerter:  notify.NewAlerter(deps.Notifier, logger),
		logger:   logger,
	}
}

// Setup builds a Service from configuration: tracing, the data directory,
// the inference client, the tshark invoker and, when configured, the NATS
// alert notifier. A notifier that cannot connect is logged and skipped.
func Setup(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Service, error) {
	logger = logging.OrNop(logger)

	if err := tracing.Init(ctx, cfg.TracingOptions()); err != nil {
		logger.LogWarn("failed to initialize tracing", map[string]string{"error": err.Error()})
	}

	sink, err := files.New(cfg.DataDir, files.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	provider, llmCfg, err := cfg.LLM()
	if err != nil {
		return nil, err
	}
	client, err := agent.NewLLMClient(provider, llmCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AI client: %w", err)
	}

	invoker := capture.New(cfg.Tshark.Path,
		capture.WithSink(sink),
		capture.WithLogger(logger),
		capture.WithTempDir(cfg.Tshark.TempDir),
	)

	deps := Deps{Client: client, Sink: sink, Invoker: invoker, Logger: logger}
	var closers []func()
	if cfg.Notify.NATSURL != "" {
		n, err := notify.NewNATSNotifier(cfg.Notify.NATSURL, cfg.Notify.Subject)
		if err != nil {
			logger.LogWarn("alert notifier disabled", map[string]string{"error": err.Error()})
		} else {
			deps.Notifier = n
			closers = append(closers, n.Close)
		}
	}

	s := New(cfg, deps)
	s.closers = append(closers, func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.LogWarn("failed to flush traces", map[string]string{"error": err.Error()})
		}
	})

	logger.LogInfo("service ready", map[string]string{
		"provider": provider.String(),
		"model":    client.ModelID(),
		"data_dir": sink.Root(),
	})
	return s, nil
}

// Close releases the notifier connection and flushes traces.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Logger returns the service logger.
func (s *Service) Logger() logging.Logger { return s.logger }
