package expert

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Zerofisher/anxun/pkg/model"
)

// Analyzer is the main expert analysis engine
type Analyzer struct {
	mu     sync.RWMutex
	infos  []*ExpertInfo
	tcpCtx *TCPAnalysisContext
	ipCtx  *IPAnalysisContext

	// Statistics
	countBySeverity map[Severity]int
	countByProtocol map[string]int
	countByGroup    map[Group]int
}

// NewAnalyzer creates a new expert analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		infos:           make([]*ExpertInfo, 0),
		tcpCtx:          NewTCPAnalysisContext(),
		ipCtx:           NewIPAnalysisContext(),
		countBySeverity: make(map[Severity]int),
		countByProtocol: make(map[string]int),
		countByGroup:    make(map[Group]int),
	}
}

// Scan runs a fresh analyzer over records and returns findings of at least
// SeverityNote, in packet order.
func Scan(records []model.PacketRecord) []model.Finding {
	a := NewAnalyzer()
	for _, rec := range records {
		a.Analyze(rec)
	}
	return a.Findings(SeverityNote)
}

// Analyze processes a record and returns any expert info found
func (a *Analyzer) Analyze(rec model.PacketRecord) []*ExpertInfo {
	pkt := newPacket(rec)

	var results []*ExpertInfo
	results = append(results, a.ipCtx.Analyze(pkt)...)
	if pkt.isTCP {
		results = append(results, a.tcpCtx.Analyze(pkt)...)
	}

	// Store results and update statistics
	a.mu.Lock()
	for _, info := range results {
		a.infos = append(a.infos, info)
		a.countBySeverity[info.Severity]++
		a.countByProtocol[info.Protocol]++
		a.countByGroup[info.Group]++
	}
	a.mu.Unlock()

	return results
}

// GetInfos returns all expert info entries
func (a *Analyzer) GetInfos() []*ExpertInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result := make([]*ExpertInfo, len(a.infos))
	copy(result, a.infos)
	return result
}

// GetInfosBySeverity returns expert info filtered by minimum severity
func (a *Analyzer) GetInfosBySeverity(minSeverity Severity) []*ExpertInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var result []*ExpertInfo
	for _, info := range a.infos {
		if info.Severity >= minSeverity {
			result = append(result, info)
		}
	}
	return result
}

// Findings returns expert info of at least minSeverity in wire form.
func (a *Analyzer) Findings(minSeverity Severity) []model.Finding {
	infos := a.GetInfosBySeverity(minSeverity)
	findings := make([]model.Finding, 0, len(infos))
	for _, info := range infos {
		findings = append(findings, model.Finding{
			Packet:   info.PacketNum,
			Severity: info.Severity.String(),
			Group:    string(info.Group),
			Protocol: info.Protocol,
			Summary:  info.Summary,
			Details:  info.Details,
		})
	}
	return findings
}

// Statistics holds expert analysis statistics
type Statistics struct {
	TotalCount      int
	CountBySeverity map[Severity]int
	CountByProtocol map[string]int
	CountByGroup    map[Group]int
}

// GetStatistics returns analysis statistics
func (a *Analyzer) GetStatistics() Statistics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return Statistics{
		TotalCount:      len(a.infos),
		CountBySeverity: copyMap(a.countBySeverity),
		CountByProtocol: copyMap(a.countByProtocol),
		CountByGroup:    copyMap(a.countByGroup),
	}
}

// HasIssues returns true if any warnings or errors were detected
func (a *Analyzer) HasIssues() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.countBySeverity[SeverityWarning] > 0 || a.countBySeverity[SeverityError] > 0
}

// PrintSummary writes a summary of expert info to the writer
func (a *Analyzer) PrintSummary(w io.Writer) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "Expert Information Summary")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "Total entries: %d\n\n", len(a.infos))

	fmt.Fprintln(w, "By Severity:")
	for _, sev := range []Severity{SeverityError, SeverityWarning, SeverityNote, SeverityChat} {
		if count := a.countBySeverity[sev]; count > 0 {
			fmt.Fprintf(w, "  [%s] %-10s: %d\n", sev.Symbol(), sev.String(), count)
		}
	}

	fmt.Fprintln(w, "\nBy Protocol:")
	for _, proto := range sortedKeys(a.countByProtocol) {
		fmt.Fprintf(w, "  %-10s: %d\n", proto, a.countByProtocol[proto])
	}

	fmt.Fprintln(w, "\nBy Group:")
	for _, group := range sortedKeys(a.countByGroup) {
		fmt.Fprintf(w, "  %-12s: %d\n", group, a.countByGroup[group])
	}

	fmt.Fprintln(w, "================================================================================")
}

// PrintDetails writes detailed expert info to the writer
func (a *Analyzer) PrintDetails(w io.Writer, minSeverity Severity) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "Expert Information Details")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-6s %-8s %-10s %-10s %-30s %s\n",
		"Packet", "Severity", "Group", "Protocol", "Summary", "Details")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, info := range a.GetInfosBySeverity(minSeverity) {
		details := info.Details
		if len(details) > 40 {
			details = details[:37] + "..."
		}
		fmt.Fprintf(w, "%-6d %-8s %-10s %-10s %-30s %s\n",
			info.PacketNum,
			info.Severity.String(),
			info.Group,
			info.Protocol,
			info.Summary,
			details,
		)
	}

	fmt.Fprintln(w, "================================================================================")
}

// ────────────────────────────────────────────────────────────────────────────────
// Record access
// ────────────────────────────────────────────────────────────────────────────────

// TCP flag bits as carried in tcp.flags.
const (
	flagFIN = 0x001
	flagSYN = 0x002
	flagRST = 0x004
	flagPSH = 0x008
	flagACK = 0x010
)

// packet is the subset of a record the rules look at.
type packet struct {
	number  int
	srcIP   string
	dstIP   string
	srcPort string
	dstPort string
	isTCP   bool
	stream  string
	seq     uint64
	length  int // tcp.len
	flags   uint16
	window  int
	hasWin  bool
	rec     model.PacketRecord
}

func newPacket(rec model.PacketRecord) *packet {
	p := &packet{rec: rec}
	p.number, _ = strconv.Atoi(get(rec, "frame.number"))
	p.srcIP, p.dstIP = get(rec, "ip.src"), get(rec, "ip.dst")

	if sp := get(rec, "tcp.srcport"); sp != "" {
		p.isTCP = true
		p.srcPort, p.dstPort = sp, get(rec, "tcp.dstport")
		p.stream = get(rec, "tcp.stream")
		p.seq, _ = strconv.ParseUint(get(rec, "tcp.seq"), 10, 64)
		p.length, _ = strconv.Atoi(get(rec, "tcp.len"))
		p.flags = tcpFlags(rec)
		if w := get(rec, "tcp.window_size"); w != "" {
			p.window, _ = strconv.Atoi(w)
			p.hasWin = true
		}
	} else if sp := get(rec, "udp.srcport"); sp != "" {
		p.srcPort, p.dstPort = sp, get(rec, "udp.dstport")
	}
	if p.isTCP && p.stream == "" {
		p.stream = pairKey(p.srcIP+":"+p.srcPort, p.dstIP+":"+p.dstPort)
	}
	return p
}

func (p *packet) has(flag uint16) bool { return p.flags&flag != 0 }

func (p *packet) src() string { return p.srcIP + ":" + p.srcPort }
func (p *packet) dst() string { return p.dstIP + ":" + p.dstPort }

// tcpFlags reads tcp.flags (hex) and falls back to the individual flag
// fields.
func tcpFlags(rec model.PacketRecord) uint16 {
	if v := get(rec, "tcp.flags"); v != "" {
		if n, err := strconv.ParseUint(v, 0, 16); err == nil {
			return uint16(n)
		}
	}
	var flags uint16
	for name, bit := range map[string]uint16{
		"tcp.flags.fin":   flagFIN,
		"tcp.flags.syn":   flagSYN,
		"tcp.flags.reset": flagRST,
		"tcp.flags.push":  flagPSH,
		"tcp.flags.ack":   flagACK,
	} {
		if isSet(get(rec, name)) {
			flags |= bit
		}
	}
	return flags
}

func get(rec model.PacketRecord, name string) string {
	v, _ := rec.Get(name)
	return v
}

func isSet(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "set":
		return true
	}
	return false
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "-" + b
}

func copyMap[K comparable](m map[K]int) map[K]int {
	result := make(map[K]int, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

func sortedKeys[K ~string](m map[K]int) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
