// Package store defines the persistence sink for capture and analysis artifacts.
package store

import (
	"github.com/Zerofisher/anxun/pkg/model"
)

// Artifact subdirectories under the data root.
const (
	DirCapturedTraffic = "captured_traffic"
	DirAnalysisResults = "analysis_results"
	DirAIResponses     = "ai_responses"
)

// HistoryLimit is the default number of history entries returned.
const HistoryLimit = 20

// Sink persists artifacts. Artifacts are written once and never modified.
type Sink interface {
	// SaveLiveCapture writes live_capture_<ts>.json and returns its path.
	SaveLiveCapture(packets []model.CapturedPacketSummary) (string, error)

	// SaveStructured writes structured_data_<ts>.json and returns its path.
	SaveStructured(sourceFile string, packets []model.PacketRecord) (string, error)

	// SaveAnalysis writes ai_analysis_<ts>.json and returns its path.
	SaveAnalysis(result *model.AnalysisResult) (string, error)

	// ListHistory returns structured batches, newest first, at most limit.
	ListHistory(limit int) ([]model.HistoryEntry, error)

	// Root returns the data root directory.
	Root() string
}
