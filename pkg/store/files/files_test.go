package files

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Zerofisher/anxun/pkg/model"
	"github.com/Zerofisher/anxun/pkg/store"
)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		t := current
		current = current.Add(time.Second)
		return t
	}
}

func TestNewCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	if _, err := New(root); err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, dir := range []string{store.DirCapturedTraffic, store.DirAnalysisResults, store.DirAIResponses} {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			t.Errorf("missing directory %s: %v", dir, err)
		}
	}
}

func TestSaveStructured(t *testing.T) {
	root := t.TempDir()
	clock := stepClock(time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local))
	s, err := New(root, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	packets := []model.PacketRecord{
		{{Name: "frame.number", Value: "1"}, {Name: "ip.src", Value: "10.0.0.1"}},
	}
	path, err := s.SaveStructured("/tmp/upload/campus.pcap", packets)
	if err != nil {
		t.Fatalf("SaveStructured: %v", err)
	}
	if filepath.Base(path) != "structured_data_20250314_092653.json" {
		t.Errorf("unexpected file name %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var batch model.StructuredBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if batch.SourceFile != "campus.pcap" || batch.PacketCount != 1 || batch.Timestamp != "20250314_092653" {
		t.Errorf("unexpected batch header: %+v", batch)
	}
	if v, _ := batch.Packets[0].Get("ip.src"); v != "10.0.0.1" {
		t.Errorf("packet lost ip.src: %v", batch.Packets[0])
	}
}

func TestSaveAnalysisAndLiveCapture(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, WithClock(stepClock(time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path, err := s.SaveAnalysis(&model.AnalysisResult{
		Summary:         "宿舍区存在 P2P 流量",
		RiskLevel:       model.RiskMedium,
		Threats:         []string{},
		Recommendations: []string{"限速"},
	})
	if err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "ai_analysis_") {
		t.Errorf("unexpected analysis file %s", path)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "宿舍区存在 P2P 流量") {
		t.Errorf("analysis file should keep UTF-8 text unescaped: %s", data)
	}

	path, err = s.SaveLiveCapture([]model.CapturedPacketSummary{{Timestamp: "t", Protocol: "eth:ip:tcp"}})
	if err != nil {
		t.Fatalf("SaveLiveCapture: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(root, store.DirCapturedTraffic) {
		t.Errorf("live capture written to %s", path)
	}

	if _, err := s.SaveAnalysis(nil); err == nil {
		t.Error("SaveAnalysis(nil) should fail")
	}
}

func TestListHistory(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, WithClock(stepClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.Local))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 25; i++ {
		if _, err := s.SaveStructured("f.pcap", []model.PacketRecord{{{Name: "frame.number", Value: "1"}}}); err != nil {
			t.Fatalf("SaveStructured: %v", err)
		}
	}
	// Junk that must be skipped.
	os.WriteFile(filepath.Join(root, store.DirAnalysisResults, "broken.json"), []byte("{"), 0o644)
	os.WriteFile(filepath.Join(root, store.DirAnalysisResults, "notes.txt"), []byte("x"), 0o644)

	history, err := s.ListHistory(store.HistoryLimit)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(history) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i-1].Timestamp < history[i].Timestamp {
			t.Fatalf("history not sorted descending at %d: %s < %s", i, history[i-1].Timestamp, history[i].Timestamp)
		}
	}
	if history[0].Timestamp != "20250501_120024" {
		t.Errorf("newest entry = %s", history[0].Timestamp)
	}
	if history[0].Type != "analysis" || history[0].SourceFile != "f.pcap" || history[0].PacketCount != 1 {
		t.Errorf("unexpected entry %+v", history[0])
	}
}
