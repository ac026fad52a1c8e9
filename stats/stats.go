// Package stats provides traffic statistics over packet records, similar to
// tshark -z endpoints / conv / phs.
package stats

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Zerofisher/anxun/pkg/model"
)

// DefaultTop is the number of endpoints and conversations kept in a summary.
const DefaultTop = 10

// Manager collects traffic statistics record by record.
type Manager struct {
	endpoints     map[string]*model.Endpoint
	conversations map[string]*conversation
	protocols     map[string]int
	first, last   float64
	timed         bool
	totalPackets  int
	totalBytes    int64
}

type conversation struct {
	model.Conversation
	start, last float64
}

// NewManager creates a new statistics manager
func NewManager() *Manager {
	return &Manager{
		endpoints:     make(map[string]*model.Endpoint),
		conversations: make(map[string]*conversation),
		protocols:     make(map[string]int),
	}
}

// Summarize computes statistics for records, keeping the top endpoints and
// conversations by bytes.
func Summarize(records []model.PacketRecord, top int) *model.TrafficStats {
	m := NewManager()
	for _, rec := range records {
		m.ProcessRecord(rec)
	}
	return m.Summary(top)
}

// ProcessRecord updates statistics with one record.
func (m *Manager) ProcessRecord(rec model.PacketRecord) {
	length := int64(intField(rec, "frame.len"))
	m.totalPackets++
	m.totalBytes += length

	if ts, err := strconv.ParseFloat(field(rec, "frame.time_epoch"), 64); err == nil {
		if !m.timed || ts < m.first {
			m.first = ts
		}
		if !m.timed || ts > m.last {
			m.last = ts
		}
		m.timed = true
	}

	m.protocols[HighestLayer(rec)]++
	m.updateEndpoints(rec, length)
	m.updateConversations(rec, length)
}

func (m *Manager) updateEndpoints(rec model.PacketRecord, length int64) {
	srcIP, dstIP := field(rec, "ip.src"), field(rec, "ip.dst")
	if srcIP == "" || dstIP == "" {
		return
	}

	// Source endpoint (transmitting)
	src, ok := m.endpoints[srcIP]
	if !ok {
		src = &model.Endpoint{Address: srcIP}
		m.endpoints[srcIP] = src
	}
	src.TxPackets++
	src.TxBytes += length

	// Destination endpoint (receiving)
	dst, ok := m.endpoints[dstIP]
	if !ok {
		dst = &model.Endpoint{Address: dstIP}
		m.endpoints[dstIP] = dst
	}
	dst.RxPackets++
	dst.RxBytes += length
}

func (m *Manager) updateConversations(rec model.PacketRecord, length int64) {
	srcIP, dstIP := field(rec, "ip.src"), field(rec, "ip.dst")
	if srcIP == "" || dstIP == "" {
		return
	}
	proto, srcPort, dstPort := Transport(rec)

	// Create consistent conversation key (lower address first)
	var addrA, portA, addrB, portB string
	if srcIP < dstIP || (srcIP == dstIP && srcPort < dstPort) {
		addrA, portA = srcIP, srcPort
		addrB, portB = dstIP, dstPort
	} else {
		addrA, portA = dstIP, dstPort
		addrB, portB = srcIP, srcPort
	}

	key := fmt.Sprintf("%s:%s-%s:%s-%s", addrA, portA, addrB, portB, proto)
	ts, _ := strconv.ParseFloat(field(rec, "frame.time_epoch"), 64)

	conv, ok := m.conversations[key]
	if !ok {
		conv = &conversation{
			Conversation: model.Conversation{
				AddrA:    addrA,
				PortA:    portA,
				AddrB:    addrB,
				PortB:    portB,
				Protocol: proto,
			},
			start: ts,
		}
		m.conversations[key] = conv
	}

	// Update direction-specific counters
	if srcIP == addrA && srcPort == portA {
		conv.PacketsAtoB++
		conv.BytesAtoB += length
	} else {
		conv.PacketsBtoA++
		conv.BytesBtoA += length
	}
	conv.last = ts
}

// Summary returns the collected statistics. top <= 0 keeps DefaultTop
// entries.
func (m *Manager) Summary(top int) *model.TrafficStats {
	if top <= 0 {
		top = DefaultTop
	}
	st := &model.TrafficStats{
		Packets:       m.totalPackets,
		Bytes:         m.totalBytes,
		Protocols:     make(map[string]int, len(m.protocols)),
		Endpoints:     m.sortedEndpoints(),
		Conversations: m.sortedConversations(""),
	}
	if m.timed {
		st.Duration = m.last - m.first
	}
	for k, v := range m.protocols {
		st.Protocols[k] = v
	}
	if len(st.Endpoints) > top {
		st.Endpoints = st.Endpoints[:top]
	}
	if len(st.Conversations) > top {
		st.Conversations = st.Conversations[:top]
	}
	return st
}

func (m *Manager) sortedEndpoints() []model.Endpoint {
	endpoints := make([]model.Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		endpoints = append(endpoints, *ep)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		totalI := endpoints[i].TxBytes + endpoints[i].RxBytes
		totalJ := endpoints[j].TxBytes + endpoints[j].RxBytes
		if totalI != totalJ {
			return totalI > totalJ
		}
		return endpoints[i].Address < endpoints[j].Address
	})
	return endpoints
}

// sortedConversations returns conversations of proto ("" or "ip" for all)
// by total bytes.
func (m *Manager) sortedConversations(proto string) []model.Conversation {
	convs := make([]model.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		if proto == "ip" || proto == "" || strings.EqualFold(conv.Protocol, proto) {
			c := conv.Conversation
			c.Duration = conv.last - conv.start
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		totalI := convs[i].BytesAtoB + convs[i].BytesBtoA
		totalJ := convs[j].BytesAtoB + convs[j].BytesBtoA
		if totalI != totalJ {
			return totalI > totalJ
		}
		return convs[i].AddrA+convs[i].PortA < convs[j].AddrA+convs[j].PortA
	})
	return convs
}

// ────────────────────────────────────────────────────────────────────────────────
// Printing
// ────────────────────────────────────────────────────────────────────────────────

// PrintEndpoints writes endpoint statistics to the writer
func (m *Manager) PrintEndpoints(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "IPv4/IPv6 Endpoints")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-40s %10s %12s %10s %12s\n", "Address", "Packets", "Bytes", "Tx Packets", "Tx Bytes")

	for _, ep := range m.sortedEndpoints() {
		fmt.Fprintf(w, "%-40s %10d %12s %10d %12s\n",
			ep.Address,
			ep.TxPackets+ep.RxPackets,
			FormatBytes(ep.TxBytes+ep.RxBytes),
			ep.TxPackets,
			FormatBytes(ep.TxBytes),
		)
	}
	fmt.Fprintln(w, "================================================================================")
}

// PrintConversations writes conversation statistics to the writer
func (m *Manager) PrintConversations(w io.Writer, proto string) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-6s Conversations\n", strings.ToUpper(proto))
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-22s %-22s %8s %10s %8s %10s %10s\n",
		"Address A", "Address B", "Packets", "Bytes", "Packets", "Bytes", "Duration")
	fmt.Fprintf(w, "%-22s %-22s %8s %10s %8s %10s %10s\n",
		"", "", "A->B", "A->B", "B->A", "B->A", "")

	for _, conv := range m.sortedConversations(proto) {
		fmt.Fprintf(w, "%-22s %-22s %8d %10s %8d %10s %10s\n",
			truncate(JoinAddr(conv.AddrA, conv.PortA), 22),
			truncate(JoinAddr(conv.AddrB, conv.PortB), 22),
			conv.PacketsAtoB,
			FormatBytes(conv.BytesAtoB),
			conv.PacketsBtoA,
			FormatBytes(conv.BytesBtoA),
			FormatSeconds(conv.Duration),
		)
	}
	fmt.Fprintln(w, "================================================================================")
}

// PrintProtocols writes the highest-layer protocol distribution.
func (m *Manager) PrintProtocols(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "Protocol Hierarchy (highest layer)")
	fmt.Fprintln(w, "================================================================================")
	names := make([]string, 0, len(m.protocols))
	for name := range m.protocols {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if m.protocols[names[i]] != m.protocols[names[j]] {
			return m.protocols[names[i]] > m.protocols[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		pct := 0.0
		if m.totalPackets > 0 {
			pct = float64(m.protocols[name]) * 100 / float64(m.totalPackets)
		}
		fmt.Fprintf(w, "%-20s %8d %6.1f%%\n", name, m.protocols[name], pct)
	}
	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "%-20s %8d %12s\n", "Total", m.totalPackets, FormatBytes(m.totalBytes))
	fmt.Fprintln(w, "================================================================================")
}

// ────────────────────────────────────────────────────────────────────────────────
// Record helpers
// ────────────────────────────────────────────────────────────────────────────────

func field(rec model.PacketRecord, name string) string {
	v, _ := rec.Get(name)
	return v
}

func intField(rec model.PacketRecord, name string) int {
	n, _ := strconv.Atoi(field(rec, name))
	return n
}

// HighestLayer returns the last entry of frame.protocols, e.g. "tls" for
// "eth:ethertype:ip:tcp:tls", or "unknown".
func HighestLayer(rec model.PacketRecord) string {
	stack := field(rec, "frame.protocols")
	if stack == "" {
		return "unknown"
	}
	return stack[strings.LastIndex(stack, ":")+1:]
}

// Transport returns "TCP", "UDP" or "IP" and the ports of the record.
func Transport(rec model.PacketRecord) (proto, srcPort, dstPort string) {
	if p := field(rec, "tcp.srcport"); p != "" {
		return "TCP", p, field(rec, "tcp.dstport")
	}
	if p := field(rec, "udp.srcport"); p != "" {
		return "UDP", p, field(rec, "udp.dstport")
	}
	return "IP", "", ""
}

// JoinAddr formats addr:port, or addr alone when port is empty.
func JoinAddr(addr, port string) string {
	if port == "" {
		return addr
	}
	if strings.Contains(addr, ":") {
		return "[" + addr + "]:" + port
	}
	return addr + ":" + port
}

// FormatBytes formats a byte count with binary units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatSeconds formats a duration given in seconds.
func FormatSeconds(s float64) string {
	switch {
	case s < 1:
		return fmt.Sprintf("%dms", int(s*1000))
	case s < 60:
		return fmt.Sprintf("%.2fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1fm", s/60)
	default:
		return fmt.Sprintf("%.1fh", s/3600)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
