// Package model defines the data shapes shared by the capture, analysis and
// persistence layers. Everything here is JSON-serializable so it can cross the
// HTTP boundary and land on disk unchanged.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInput marks caller mistakes (bad bounds, empty message, wrong file
// type). Such requests are rejected before any subprocess or network call.
var ErrInvalidInput = errors.New("invalid input")

// Invalidf returns an ErrInvalidInput-wrapping error with a descriptive message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Capture limits. Larger requests are rejected, not clamped.
const (
	MaxCaptureDuration = 300 // seconds
	MaxCapturePackets  = 100
	MaxRecords         = 100
	MaxPayloadLen      = 200
)

// NotAvailable is the sentinel for absent values in CapturedPacketSummary.
const NotAvailable = "N/A"

// ────────────────────────────────────────────────────────────────────────────────
// Capture request - 实时抓包参数
// ────────────────────────────────────────────────────────────────────────────────

// CaptureRequest describes a bounded live capture.
type CaptureRequest struct {
	Interface   string `json:"interface"`
	Duration    int    `json:"duration"`     // seconds, ≤ MaxCaptureDuration
	PacketCount int    `json:"packet_count"` // ≤ MaxCapturePackets
}

// Defaults used when a caller leaves a capture field unset.
const (
	DefaultCaptureInterface = "any"
	DefaultCaptureDuration  = 30
	DefaultCapturePackets   = 50
)

// WithDefaults fills zero-valued fields. Negative values are kept so that
// Validate rejects them.
func (r CaptureRequest) WithDefaults() CaptureRequest {
	if strings.TrimSpace(r.Interface) == "" {
		r.Interface = DefaultCaptureInterface
	}
	if r.Duration == 0 {
		r.Duration = DefaultCaptureDuration
	}
	if r.PacketCount == 0 {
		r.PacketCount = DefaultCapturePackets
	}
	return r
}

// Validate enforces the capture bounds.
func (r CaptureRequest) Validate() error {
	if r.Duration > MaxCaptureDuration {
		return Invalidf("捕获时长不能超过%d秒", MaxCaptureDuration)
	}
	if r.Duration <= 0 {
		return Invalidf("捕获时长必须大于0")
	}
	if r.PacketCount > MaxCapturePackets {
		return Invalidf("包数量不能超过%d", MaxCapturePackets)
	}
	if r.PacketCount <= 0 {
		return Invalidf("包数量必须大于0")
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// PacketRecord - tshark 字段投影后的单包记录
// ────────────────────────────────────────────────────────────────────────────────

// Field is one (name, value) pair of a PacketRecord.
type Field struct {
	Name  string
	Value string
}

// PacketRecord is the ordered field list of one packet. Order follows the
// canonical field list; empty values are never stored.
type PacketRecord []Field

// Get returns the value of the named field.
func (p PacketRecord) Get(name string) (string, bool) {
	for _, f := range p {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// String renders the record as "name: value, name: value". This is the text
// embedded into analysis prompts.
func (p PacketRecord) String() string {
	var sb strings.Builder
	for i, f := range p {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value)
	}
	return sb.String()
}

// MarshalJSON encodes the record as an object whose keys keep field order.
func (p PacketRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalNoEscape(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := marshalNoEscape(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object back into an ordered record.
func (p *PacketRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("packet record: expected object, got %v", tok)
	}
	rec := PacketRecord{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("packet record: unexpected key %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("packet record field %s: %w", key, err)
		}
		rec = append(rec, Field{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = rec
	return nil
}

func marshalNoEscape(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ────────────────────────────────────────────────────────────────────────────────
// CapturedPacketSummary - 实时抓包摘要（来自 tshark -T json）
// ────────────────────────────────────────────────────────────────────────────────

// CapturedPacketSummary is the fixed-shape live-capture record. Absent values
// hold NotAvailable.
type CapturedPacketSummary struct {
	Timestamp string `json:"timestamp"`
	Protocol  string `json:"protocol"`
	Length    string `json:"length"`
	SrcIP     string `json:"src_ip"`
	DstIP     string `json:"dst_ip"`
	SrcPort   string `json:"src_port"`
	DstPort   string `json:"dst_port"`
}

// Interface is one capture interface as reported by tshark -D.
type Interface struct {
	ID          string `json:"id"`
	Device      string `json:"device"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// ────────────────────────────────────────────────────────────────────────────────
// AnalysisResult - AI 分析结果（五字段固定结构）
// ────────────────────────────────────────────────────────────────────────────────

// RiskLevel is the coarse risk tier reported to users.
type RiskLevel string

const (
	RiskLow    RiskLevel = "低"
	RiskMedium RiskLevel = "中"
	RiskHigh   RiskLevel = "高"
)

// Valid reports whether r is one of the three tiers.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// AnalysisResult is the reconciled model verdict.
//
// DetailedAnalysis is only guaranteed on the heuristic path; a JSON reply that
// omits it leaves it empty (and omitted on the wire).
type AnalysisResult struct {
	Summary          string    `json:"summary"`
	Threats          []string  `json:"threats"`
	RiskLevel        RiskLevel `json:"risk_level"`
	Recommendations  []string  `json:"recommendations"`
	DetailedAnalysis string    `json:"detailed_analysis,omitempty"`
}

// FileAnalysis is the composite outcome of analyzing one capture file.
type FileAnalysis struct {
	SourceFile         string          `json:"source_file"`
	StructuredDataFile string          `json:"structured_data_file,omitempty"`
	PacketCount        int             `json:"packet_count"`
	TotalPackets       int             `json:"total_packets,omitempty"`
	TrafficStats       *TrafficStats   `json:"traffic_stats,omitempty"`
	ExpertFindings     []Finding       `json:"expert_findings,omitempty"`
	AIAnalysis         *AnalysisResult `json:"ai_analysis,omitempty"`
	AIError            string          `json:"ai_error,omitempty"`
	ProcessingTime     time.Time       `json:"processing_time"`
}

// ────────────────────────────────────────────────────────────────────────────────
// Traffic profile
// ────────────────────────────────────────────────────────────────────────────────

// TrafficStats summarizes a set of packet records.
type TrafficStats struct {
	Packets       int            `json:"packets"`
	Bytes         int64          `json:"bytes"`
	Duration      float64        `json:"duration_seconds"`
	Protocols     map[string]int `json:"protocols"` // highest layer -> packets
	Endpoints     []Endpoint     `json:"top_endpoints"`
	Conversations []Conversation `json:"top_conversations"`
}

// Endpoint is the traffic sent and received by one address.
type Endpoint struct {
	Address   string `json:"address"`
	TxPackets int    `json:"tx_packets"`
	RxPackets int    `json:"rx_packets"`
	TxBytes   int64  `json:"tx_bytes"`
	RxBytes   int64  `json:"rx_bytes"`
}

// Conversation is the traffic between two address/port pairs. A is the
// lexically smaller side.
type Conversation struct {
	AddrA       string  `json:"addr_a"`
	PortA       string  `json:"port_a,omitempty"`
	AddrB       string  `json:"addr_b"`
	PortB       string  `json:"port_b,omitempty"`
	Protocol    string  `json:"protocol"`
	PacketsAtoB int     `json:"packets_a_to_b"`
	PacketsBtoA int     `json:"packets_b_to_a"`
	BytesAtoB   int64   `json:"bytes_a_to_b"`
	BytesBtoA   int64   `json:"bytes_b_to_a"`
	Duration    float64 `json:"duration_seconds"`
}

// Finding is one rule-based observation about the records, independent of
// the model's verdict.
type Finding struct {
	Packet   int    `json:"packet"` // frame.number of the triggering packet
	Severity string `json:"severity"`
	Group    string `json:"group"`
	Protocol string `json:"protocol"`
	Summary  string `json:"summary"`
	Details  string `json:"details,omitempty"`
}

// ────────────────────────────────────────────────────────────────────────────────
// Chat
// ────────────────────────────────────────────────────────────────────────────────

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatTurn is one message in a chat session.
type ChatTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ────────────────────────────────────────────────────────────────────────────────
// Stored artifacts
// ────────────────────────────────────────────────────────────────────────────────

// StructuredBatch is the on-disk form of a parsed capture file.
type StructuredBatch struct {
	Timestamp   string         `json:"timestamp"`
	SourceFile  string         `json:"source_file"`
	PacketCount int            `json:"packet_count"`
	Packets     []PacketRecord `json:"packets"`
}

// HistoryEntry summarizes one stored structured batch.
type HistoryEntry struct {
	Type        string `json:"type"`
	Filename    string `json:"filename"`
	Timestamp   string `json:"timestamp"`
	PacketCount int    `json:"packet_count"`
	SourceFile  string `json:"source_file"`
}
