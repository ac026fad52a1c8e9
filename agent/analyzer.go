package agent

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Zerofisher/anxun/agent/llm"
	"github.com/Zerofisher/anxun/agent/reconcile"
	"github.com/Zerofisher/anxun/pkg/model"
	"github.com/Zerofisher/anxun/pkg/store"
)

// AnalyzeOptions selects the model and thinking mode for one analysis.
type AnalyzeOptions struct {
	Model    string // empty = client default
	Thinking bool   // false prefixes the prompt with /no_think
}

// Analyzer asks the model for a security verdict on a batch of records.
type Analyzer struct {
	client llm.Client
	sink   store.Sink
	settings
}

// NewAnalyzer creates an Analyzer. sink may be nil to skip persistence.
func NewAnalyzer(client llm.Client, sink store.Sink, opts ...Option) *Analyzer {
	return &Analyzer{client: client, sink: sink, settings: defaultSettings(opts)}
}

// Analyze sends one non-streaming request and reconciles the reply. Backend
// failures are returned as errors and are not retried. A failure to save
// the result is only logged.
func (a *Analyzer) Analyze(ctx context.Context, records []model.PacketRecord, opts AnalyzeOptions) (*model.AnalysisResult, error) {
	if len(records) == 0 {
		return nil, model.Invalidf("没有可分析的数据包")
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req := &llm.ChatRequest{
		Model:    a.aliases.Resolve(opts.Model),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: BuildAnalysisPrompt(records, opts.Thinking)}},
	}

	a.logger.LogInfo("sending traffic data to AI model", map[string]string{
		"packets":  strconv.Itoa(len(records)),
		"model":    modelName(req.Model, a.client),
		"thinking": strconv.FormatBool(opts.Thinking),
	})

	resp, err := a.client.Chat(ctx, req)
	if err != nil {
		a.logger.LogError("AI analysis failed", map[string]string{"error": err.Error()})
		return nil, fmt.Errorf("AI分析失败: %w", err)
	}

	result := reconcile.Reconcile(resp.Content)

	if a.sink != nil {
		path, err := a.sink.SaveAnalysis(&result)
		if err != nil {
			a.logger.LogWarn("failed to save AI analysis", map[string]string{"error": err.Error()})
		} else {
			a.logger.LogInfo("AI analysis completed", map[string]string{"path": path, "risk_level": string(result.RiskLevel)})
		}
	}
	return &result, nil
}

func modelName(requested string, client llm.Client) string {
	if requested != "" {
		return requested
	}
	return client.ModelID()
}
