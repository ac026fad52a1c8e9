package expert

import (
	"fmt"
	"sync"
)

// Default thresholds for the SYN-based security checks.
const (
	DefaultScanThreshold  = 10 // distinct destination ports from one source
	DefaultFloodThreshold = 20 // bare SYNs to one destination
)

// TCPAnalysisContext maintains state for TCP sequence analysis
type TCPAnalysisContext struct {
	mu sync.Mutex

	// Per-stream state
	streams map[string]*TCPStreamState

	// SYN tracking for scan / flood detection
	synPorts      map[string]map[string]bool // src ip -> probed dst ports
	synCount      map[string]int             // dst ip:port -> bare SYNs
	reportedScan  map[string]bool
	reportedFlood map[string]bool

	// Detection thresholds
	ScanThreshold  int
	FloodThreshold int
}

// TCPStreamState holds analysis state for a single TCP stream
type TCPStreamState struct {
	StreamKey string
	Client    string // ip:port that opened the stream

	// Sequence tracking, per sending endpoint
	segments map[string]map[uint64]int // seq -> first packet carrying it
	nextSeq  map[string]uint64

	// Connection state
	SYNSeen    bool
	SYNACKSeen bool
	RSTSeen    bool
}

// NewTCPAnalysisContext creates a new TCP analysis context
func NewTCPAnalysisContext() *TCPAnalysisContext {
	return &TCPAnalysisContext{
		streams:        make(map[string]*TCPStreamState),
		synPorts:       make(map[string]map[string]bool),
		synCount:       make(map[string]int),
		reportedScan:   make(map[string]bool),
		reportedFlood:  make(map[string]bool),
		ScanThreshold:  DefaultScanThreshold,
		FloodThreshold: DefaultFloodThreshold,
	}
}

// Analyze processes a TCP packet and returns any expert info
func (ctx *TCPAnalysisContext) Analyze(pkt *packet) []*ExpertInfo {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	stream, ok := ctx.streams[pkt.stream]
	if !ok {
		stream = newStreamState(pkt)
		ctx.streams[pkt.stream] = stream
	}

	var results []*ExpertInfo
	results = append(results, ctx.checkFlags(pkt, stream)...)
	results = append(results, ctx.checkSequence(pkt, stream)...)
	results = append(results, ctx.checkWindow(pkt)...)
	results = append(results, ctx.checkSYN(pkt)...)
	return results
}

func newStreamState(pkt *packet) *TCPStreamState {
	client := pkt.src()
	// SYN+ACK first means the client's SYN was not captured
	if pkt.has(flagSYN) && pkt.has(flagACK) {
		client = pkt.dst()
	}
	return &TCPStreamState{
		StreamKey: pkt.stream,
		Client:    client,
		segments:  make(map[string]map[uint64]int),
		nextSeq:   make(map[string]uint64),
	}
}

func (ctx *TCPAnalysisContext) info(pkt *packet, t TCPExpertType, details string) *ExpertInfo {
	return &ExpertInfo{
		PacketNum: pkt.number,
		Severity:  t.Severity(),
		Group:     t.Group(),
		Protocol:  "TCP",
		Summary:   t.String(),
		Details:   details,
		StreamKey: pkt.stream,
	}
}

// checkFlags reports resets and tracks the handshake
func (ctx *TCPAnalysisContext) checkFlags(pkt *packet, stream *TCPStreamState) []*ExpertInfo {
	var results []*ExpertInfo

	if pkt.has(flagRST) {
		if stream.SYNSeen && !stream.SYNACKSeen {
			results = append(results, ctx.info(pkt, TCPConnectionRefused,
				fmt.Sprintf("%s refused connection from %s", pkt.src(), pkt.dst())))
		} else {
			results = append(results, ctx.info(pkt, TCPConnectionReset,
				fmt.Sprintf("Connection reset by %s", pkt.src())))
		}
		stream.RSTSeen = true
	}

	if pkt.has(flagSYN) {
		if pkt.has(flagACK) {
			stream.SYNACKSeen = true
		} else {
			stream.SYNSeen = true
		}
	}
	return results
}

// checkSequence checks for retransmissions and out-of-order segments
func (ctx *TCPAnalysisContext) checkSequence(pkt *packet, stream *TCPStreamState) []*ExpertInfo {
	if pkt.length == 0 {
		return nil
	}

	dir := pkt.src()
	seen, ok := stream.segments[dir]
	if !ok {
		seen = make(map[uint64]int)
		stream.segments[dir] = seen
	}

	var results []*ExpertInfo
	if orig, ok := seen[pkt.seq]; ok {
		info := ctx.info(pkt, TCPRetransmission,
			fmt.Sprintf("Seq=%d Len=%d (original in #%d)", pkt.seq, pkt.length, orig))
		info.RelatedPkts = []int{orig}
		results = append(results, info)
	} else {
		seen[pkt.seq] = pkt.number
		if next := stream.nextSeq[dir]; next != 0 && pkt.seq > next {
			results = append(results, ctx.info(pkt, TCPOutOfOrder,
				fmt.Sprintf("Expected Seq=%d, got Seq=%d (gap=%d)", next, pkt.seq, pkt.seq-next)))
		}
	}

	if end := pkt.seq + uint64(pkt.length); end > stream.nextSeq[dir] {
		stream.nextSeq[dir] = end
	}
	return results
}

// checkWindow reports a receiver advertising a zero window
func (ctx *TCPAnalysisContext) checkWindow(pkt *packet) []*ExpertInfo {
	if !pkt.hasWin || pkt.window != 0 || pkt.has(flagRST) || pkt.has(flagSYN) || pkt.has(flagFIN) {
		return nil
	}
	return []*ExpertInfo{ctx.info(pkt, TCPZeroWindow,
		fmt.Sprintf("%s cannot receive more data", pkt.src()))}
}

// checkSYN tracks bare SYNs and reports scans and floods once per source or
// destination.
func (ctx *TCPAnalysisContext) checkSYN(pkt *packet) []*ExpertInfo {
	if !pkt.has(flagSYN) || pkt.has(flagACK) {
		return nil
	}

	var results []*ExpertInfo

	ports, ok := ctx.synPorts[pkt.srcIP]
	if !ok {
		ports = make(map[string]bool)
		ctx.synPorts[pkt.srcIP] = ports
	}
	ports[pkt.dstPort] = true
	if len(ports) >= ctx.ScanThreshold && !ctx.reportedScan[pkt.srcIP] {
		ctx.reportedScan[pkt.srcIP] = true
		results = append(results, ctx.info(pkt, TCPPortScan,
			fmt.Sprintf("%s sent SYN to %d distinct ports", pkt.srcIP, len(ports))))
	}

	target := pkt.dst()
	ctx.synCount[target]++
	if ctx.synCount[target] >= ctx.FloodThreshold && !ctx.reportedFlood[target] {
		ctx.reportedFlood[target] = true
		results = append(results, ctx.info(pkt, TCPSYNFlood,
			fmt.Sprintf("%d SYNs to %s", ctx.synCount[target], target)))
	}
	return results
}
