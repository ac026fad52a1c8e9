package expert

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// cleartextServices are TCP ports whose protocols carry credentials in
// clear text.
var cleartextServices = map[string]string{
	"21":  "FTP",
	"23":  "Telnet",
	"110": "POP3",
	"143": "IMAP",
	"513": "rlogin",
}

// IPAnalysisContext holds checks that apply to every IP packet
type IPAnalysisContext struct {
	mu       sync.Mutex
	reported map[string]bool // cleartext servers already reported
}

// NewIPAnalysisContext creates a new IP analysis context
func NewIPAnalysisContext() *IPAnalysisContext {
	return &IPAnalysisContext{reported: make(map[string]bool)}
}

// Analyze processes a packet and returns any expert info
func (ctx *IPAnalysisContext) Analyze(pkt *packet) []*ExpertInfo {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	var results []*ExpertInfo
	results = append(results, checkChecksums(pkt)...)
	results = append(results, checkFragment(pkt)...)
	if pkt.isTCP {
		results = append(results, ctx.checkCleartext(pkt)...)
	}
	return results
}

// checkChecksums reports checksums tshark validated as bad
func checkChecksums(pkt *packet) []*ExpertInfo {
	var results []*ExpertInfo
	for _, proto := range []string{"ip", "tcp", "udp"} {
		if !isBadStatus(get(pkt.rec, proto+".checksum.status")) {
			continue
		}
		results = append(results, &ExpertInfo{
			PacketNum: pkt.number,
			Severity:  SeverityWarning,
			Group:     GroupMalformed,
			Protocol:  strings.ToUpper(proto),
			Summary:   "Bad Checksum",
			Details:   fmt.Sprintf("checksum %s", get(pkt.rec, proto+".checksum")),
		})
	}
	return results
}

// isBadStatus reports tshark's "Bad" checksum status (0).
func isBadStatus(v string) bool {
	return v == "0" || strings.EqualFold(v, "bad")
}

func checkFragment(pkt *packet) []*ExpertInfo {
	offset, _ := strconv.Atoi(get(pkt.rec, "ip.frag_offset"))
	if !isSet(get(pkt.rec, "ip.flags.mf")) && offset == 0 {
		return nil
	}
	return []*ExpertInfo{{
		PacketNum: pkt.number,
		Severity:  SeverityNote,
		Group:     GroupProtocol,
		Protocol:  "IP",
		Summary:   "IP Fragment",
		Details:   fmt.Sprintf("id=%s offset=%d", get(pkt.rec, "ip.id"), offset),
	}}
}

// checkCleartext reports each server of a cleartext login protocol once
func (ctx *IPAnalysisContext) checkCleartext(pkt *packet) []*ExpertInfo {
	name, ok := cleartextServices[pkt.dstPort]
	if !ok || pkt.length == 0 {
		return nil
	}
	server := pkt.dst()
	if ctx.reported[server] {
		return nil
	}
	ctx.reported[server] = true
	return []*ExpertInfo{{
		PacketNum: pkt.number,
		Severity:  SeverityWarning,
		Group:     GroupSecurity,
		Protocol:  name,
		Summary:   "Cleartext Login Protocol",
		Details:   fmt.Sprintf("%s data sent to %s", name, server),
	}}
}
