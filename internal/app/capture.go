package app

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/Zerofisher/anxun/agent"
	"github.com/Zerofisher/anxun/capture"
	"github.com/Zerofisher/anxun/expert"
	"github.com/Zerofisher/anxun/filter"
	"github.com/Zerofisher/anxun/pkg/model"
	"github.com/Zerofisher/anxun/pkg/store"
	"github.com/Zerofisher/anxun/stats"
)

// AllowedExtensions are the capture file extensions accepted for analysis.
var AllowedExtensions = []string{".pcap", ".pcapng", ".cap"}

// CheckExtension rejects file names without an allowed extension.
func CheckExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return model.Invalidf("不支持的文件格式，请上传pcap、pcapng或cap文件")
}

// CompileDisplayFilter compiles a display filter expression.
// Returns nil filter if filterStr is empty.
func CompileDisplayFilter(filterStr string) (*filter.Filter, error) {
	if strings.TrimSpace(filterStr) == "" {
		return nil, nil
	}
	return filter.Compile(filterStr)
}

// ProcessOptions tune one capture-file analysis.
type ProcessOptions struct {
	SourceName string // name reported for the file; defaults to the path
	Filter     string // display filter applied to the parsed records
	Model      string
	Thinking   bool
}

// ParsePcapFile validates and parses a capture file into at most
// model.MaxRecords records, applying the display filter. An empty result is
// invalid input.
func (s *Service) ParsePcapFile(ctx context.Context, path, displayFilter string) ([]model.PacketRecord, capture.FileInfo, error) {
	f, err := CompileDisplayFilter(displayFilter)
	if err != nil {
		return nil, capture.FileInfo{}, err
	}
	info, err := capture.Inspect(path)
	if err != nil {
		return nil, capture.FileInfo{}, err
	}

	records := s.invoker.ParseFile(ctx, path)
	if f != nil {
		records = f.Apply(records)
	}
	if len(records) == 0 {
		return nil, info, model.Invalidf("无法解析pcap文件或文件为空")
	}
	return records, info, nil
}

// ProcessPcapFile parses a capture file, stores the structured records and
// asks the model for a verdict. An AI failure is reported in AIError, not
// as an error. High-risk verdicts trigger an alert.
func (s *Service) ProcessPcapFile(ctx context.Context, path string, opts ProcessOptions) (*model.FileAnalysis, error) {
	source := opts.SourceName
	if source == "" {
		source = path
	}
	if err := CheckExtension(source); err != nil {
		return nil, err
	}
	s.logger.LogInfo("starting analysis of capture file", map[string]string{"file": source})

	records, info, err := s.ParsePcapFile(ctx, path, opts.Filter)
	if err != nil {
		return nil, err
	}

	result := &model.FileAnalysis{
		SourceFile:     filepath.Base(source),
		PacketCount:    len(records),
		TotalPackets:   info.Packets,
		TrafficStats:   stats.Summarize(records, stats.DefaultTop),
		ExpertFindings: expert.Scan(records),
	}

	if s.sink != nil {
		structured, err := s.sink.SaveStructured(source, records)
		if err != nil {
			s.logger.LogWarn("failed to save structured data", map[string]string{"error": err.Error()})
		} else {
			result.StructuredDataFile = structured
		}
	}

	analysis, err := s.analyzer.Analyze(ctx, records, agent.AnalyzeOptions{
		Model:    s.analysisModel(opts.Model),
		Thinking: opts.Thinking,
	})
	if err != nil {
		result.AIError = err.Error()
	} else {
		result.AIAnalysis = analysis
		s.alerter.Notify(result.SourceFile, analysis)
	}

	result.ProcessingTime = time.Now()
	return result, nil
}

func (s *Service) analysisModel(requested string) string {
	if requested != "" {
		return requested
	}
	return s.cfg.AI.Model
}

// CaptureTraffic runs a bounded live capture. Unset request fields take the
// configured defaults.
func (s *Service) CaptureTraffic(ctx context.Context, req model.CaptureRequest) ([]model.CapturedPacketSummary, error) {
	return s.invoker.CaptureLive(ctx, s.cfg.CaptureDefaults(req))
}

// Interfaces lists the capture interfaces.
func (s *Service) Interfaces(ctx context.Context) []model.Interface {
	return s.invoker.ListInterfaces(ctx)
}

// History returns the most recent structured batches. A non-positive limit
// uses the default.
func (s *Service) History(limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = store.HistoryLimit
	}
	return s.sink.ListHistory(limit)
}
