// Package files implements store.Sink as timestamped JSON files on disk.
package files

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Zerofisher/anxun/internal/logging"
	"github.com/Zerofisher/anxun/pkg/model"
	"github.com/Zerofisher/anxun/pkg/store"
)

// TimestampLayout is embedded in artifact names and structured batches.
const TimestampLayout = "20060102_150405"

// Sink writes artifacts below a data root.
type Sink struct {
	root   string
	logger logging.Logger
	now    func() time.Time
}

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the time source used for artifact names.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithLogger sets the logger used for skipped history files.
func WithLogger(l logging.Logger) Option {
	return func(s *Sink) { s.logger = logging.OrNop(l) }
}

// New creates the data root and its subdirectories.
func New(root string, opts ...Option) (*Sink, error) {
	s := &Sink{root: root, logger: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	for _, dir := range []string{store.DirCapturedTraffic, store.DirAnalysisResults, store.DirAIResponses} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return s, nil
}

var _ store.Sink = (*Sink)(nil)

// Root returns the data root directory.
func (s *Sink) Root() string { return s.root }

func (s *Sink) stamp() string {
	return s.now().Format(TimestampLayout)
}

// SaveLiveCapture writes a live-capture batch.
func (s *Sink) SaveLiveCapture(packets []model.CapturedPacketSummary) (string, error) {
	name := fmt.Sprintf("live_capture_%s.json", s.stamp())
	return s.write(store.DirCapturedTraffic, name, packets)
}

// SaveStructured writes a structured record batch.
func (s *Sink) SaveStructured(sourceFile string, packets []model.PacketRecord) (string, error) {
	ts := s.stamp()
	if packets == nil {
		packets = []model.PacketRecord{}
	}
	batch := model.StructuredBatch{
		Timestamp:   ts,
		SourceFile:  filepath.Base(sourceFile),
		PacketCount: len(packets),
		Packets:     packets,
	}
	return s.write(store.DirAnalysisResults, fmt.Sprintf("structured_data_%s.json", ts), batch)
}

// SaveAnalysis writes a reconciled analysis result.
func (s *Sink) SaveAnalysis(result *model.AnalysisResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nil analysis result")
	}
	name := fmt.Sprintf("ai_analysis_%s.json", s.stamp())
	return s.write(store.DirAIResponses, name, result)
}

func (s *Sink) write(dir, name string, v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}

	path := filepath.Join(s.root, dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ListHistory reads every structured batch and returns the newest first.
// Unreadable files are skipped with a warning.
func (s *Sink) ListHistory(limit int) ([]model.HistoryEntry, error) {
	dir := filepath.Join(s.root, store.DirAnalysisResults)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("read history directory: %w", err)
	}

	history := make([]model.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.LogWarn("history file unreadable", map[string]string{"path": path, "error": err.Error()})
			continue
		}
		var head struct {
			Timestamp   string `json:"timestamp"`
			PacketCount int    `json:"packet_count"`
			SourceFile  string `json:"source_file"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			s.logger.LogWarn("history file malformed", map[string]string{"path": path, "error": err.Error()})
			continue
		}
		history = append(history, model.HistoryEntry{
			Type:        "analysis",
			Filename:    e.Name(),
			Timestamp:   head.Timestamp,
			PacketCount: head.PacketCount,
			SourceFile:  head.SourceFile,
		})
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp > history[j].Timestamp
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}
