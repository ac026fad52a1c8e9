package expert

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/Zerofisher/anxun/pkg/model"
)

func rec(kv ...string) model.PacketRecord {
	r := make(model.PacketRecord, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		r = append(r, model.Field{Name: kv[i], Value: kv[i+1]})
	}
	return r
}

func tcpRec(num int, src, sport, dst, dport, flags, seq, length string) model.PacketRecord {
	return rec(
		"frame.number", strconv.Itoa(num),
		"ip.src", src, "ip.dst", dst,
		"tcp.srcport", sport, "tcp.dstport", dport,
		"tcp.flags", flags, "tcp.seq", seq, "tcp.len", length,
		"tcp.window_size", "64240",
	)
}

func summaries(infos []*ExpertInfo) []string {
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Summary)
	}
	return out
}

func TestTCPRetransmission(t *testing.T) {
	a := NewAnalyzer()

	if got := a.Analyze(tcpRec(1, "192.168.1.1", "12345", "192.168.1.2", "80", "0x0018", "1", "9")); len(got) != 0 {
		t.Errorf("Expected no issues for first packet, got %v", summaries(got))
	}

	got := a.Analyze(tcpRec(2, "192.168.1.1", "12345", "192.168.1.2", "80", "0x0018", "1", "9"))
	if len(got) != 1 || got[0].Summary != TCPRetransmission.String() {
		t.Fatalf("Expected TCP Retransmission, got %v", summaries(got))
	}
	if len(got[0].RelatedPkts) != 1 || got[0].RelatedPkts[0] != 1 {
		t.Errorf("RelatedPkts = %v, want [1]", got[0].RelatedPkts)
	}

	// Same seq from the other side is not a retransmission
	if got := a.Analyze(tcpRec(3, "192.168.1.2", "80", "192.168.1.1", "12345", "0x0018", "1", "5")); len(got) != 0 {
		t.Errorf("reverse direction flagged: %v", summaries(got))
	}
}

func TestTCPOutOfOrder(t *testing.T) {
	a := NewAnalyzer()
	a.Analyze(tcpRec(1, "10.0.0.1", "5000", "10.0.0.2", "80", "0x0018", "1", "100"))
	got := a.Analyze(tcpRec(2, "10.0.0.1", "5000", "10.0.0.2", "80", "0x0018", "301", "100"))
	if len(got) != 1 || got[0].Summary != TCPOutOfOrder.String() || got[0].Severity != SeverityNote {
		t.Fatalf("got %v", summaries(got))
	}
	if !strings.Contains(got[0].Details, "gap=200") {
		t.Errorf("Details = %q", got[0].Details)
	}
}

func TestTCPResetAndRefused(t *testing.T) {
	tests := []struct {
		name    string
		records []model.PacketRecord
		want    string
	}{
		{
			name: "refused",
			records: []model.PacketRecord{
				tcpRec(1, "10.0.0.1", "5000", "10.0.0.2", "8080", "0x0002", "0", "0"),
				tcpRec(2, "10.0.0.2", "8080", "10.0.0.1", "5000", "0x0014", "1", "0"),
			},
			want: TCPConnectionRefused.String(),
		},
		{
			name: "reset after handshake",
			records: []model.PacketRecord{
				tcpRec(1, "10.0.0.1", "5000", "10.0.0.2", "80", "0x0002", "0", "0"),
				tcpRec(2, "10.0.0.2", "80", "10.0.0.1", "5000", "0x0012", "0", "0"),
				tcpRec(3, "10.0.0.2", "80", "10.0.0.1", "5000", "0x0004", "1", "0"),
			},
			want: TCPConnectionReset.String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer()
			var last []*ExpertInfo
			for _, r := range tt.records {
				last = a.Analyze(r)
			}
			if len(last) != 1 || last[0].Summary != tt.want {
				t.Errorf("got %v, want %s", summaries(last), tt.want)
			}
		})
	}
}

func TestTCPFlagsFromIndividualFields(t *testing.T) {
	r := rec("frame.number", "1", "ip.src", "10.0.0.2", "ip.dst", "10.0.0.1",
		"tcp.srcport", "80", "tcp.dstport", "5000",
		"tcp.flags.reset", "1", "tcp.flags.ack", "True")
	got := NewAnalyzer().Analyze(r)
	if len(got) != 1 || got[0].Summary != TCPConnectionReset.String() {
		t.Errorf("got %v", summaries(got))
	}
}

func TestZeroWindow(t *testing.T) {
	r := rec("frame.number", "7", "ip.src", "10.0.0.2", "ip.dst", "10.0.0.1",
		"tcp.srcport", "80", "tcp.dstport", "5000", "tcp.flags", "0x0010", "tcp.window_size", "0")
	got := NewAnalyzer().Analyze(r)
	if len(got) != 1 || got[0].Summary != TCPZeroWindow.String() || got[0].PacketNum != 7 {
		t.Errorf("got %v", summaries(got))
	}
}

func TestPortScan(t *testing.T) {
	a := NewAnalyzer()
	var hits []*ExpertInfo
	for i := 0; i < DefaultScanThreshold+3; i++ {
		hits = append(hits, a.Analyze(tcpRec(i+1, "10.9.9.9", "40000", "10.0.0.2", strconv.Itoa(20+i), "0x0002", "0", "0"))...)
	}
	if len(hits) != 1 {
		t.Fatalf("Expected one scan report, got %v", summaries(hits))
	}
	if hits[0].Summary != TCPPortScan.String() || hits[0].Group != GroupSecurity || hits[0].PacketNum != DefaultScanThreshold {
		t.Errorf("scan info = %+v", hits[0])
	}
}

func TestSYNFlood(t *testing.T) {
	a := NewAnalyzer()
	var hits []*ExpertInfo
	for i := 0; i < DefaultFloodThreshold; i++ {
		src := "172.16.0." + strconv.Itoa(i+1)
		hits = append(hits, a.Analyze(tcpRec(i+1, src, "40000", "10.0.0.2", "80", "0x0002", "0", "0"))...)
	}
	if len(hits) != 1 || hits[0].Summary != TCPSYNFlood.String() {
		t.Fatalf("got %v", summaries(hits))
	}
	if !strings.Contains(hits[0].Details, "10.0.0.2:80") {
		t.Errorf("Details = %q", hits[0].Details)
	}
}

func TestIPChecks(t *testing.T) {
	tests := []struct {
		name string
		rec  model.PacketRecord
		want []string
	}{
		{"bad ip checksum", rec("frame.number", "1", "ip.checksum", "0xdead", "ip.checksum.status", "0"), []string{"Bad Checksum"}},
		{"good checksum", rec("frame.number", "1", "ip.checksum.status", "1"), nil},
		{"fragment", rec("frame.number", "1", "ip.flags.mf", "1", "ip.id", "0x1c46"), []string{"IP Fragment"}},
		{"last fragment", rec("frame.number", "1", "ip.frag_offset", "1480"), []string{"IP Fragment"}},
		{"telnet", tcpRec(1, "10.0.0.1", "5000", "10.0.0.2", "23", "0x0018", "1", "4"), []string{"Cleartext Login Protocol"}},
		{"telnet handshake", tcpRec(1, "10.0.0.1", "5000", "10.0.0.2", "23", "0x0002", "0", "0"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := summaries(NewAnalyzer().Analyze(tt.rec))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCleartextReportedOnce(t *testing.T) {
	a := NewAnalyzer()
	a.Analyze(tcpRec(1, "10.0.0.1", "5000", "10.0.0.2", "21", "0x0018", "1", "10"))
	if got := a.Analyze(tcpRec(2, "10.0.0.1", "5000", "10.0.0.2", "21", "0x0018", "11", "10")); len(got) != 0 {
		t.Errorf("second FTP packet flagged: %v", summaries(got))
	}
}

func TestScanAndFindings(t *testing.T) {
	records := []model.PacketRecord{
		tcpRec(1, "10.0.0.1", "5000", "10.0.0.2", "80", "0x0018", "1", "9"),
		tcpRec(2, "10.0.0.1", "5000", "10.0.0.2", "80", "0x0018", "1", "9"),
		rec("frame.number", "3", "ip.flags.mf", "1"),
	}
	findings := Scan(records)
	if len(findings) != 2 {
		t.Fatalf("findings = %+v", findings)
	}
	if f := findings[0]; f.Packet != 2 || f.Severity != "Warning" || f.Group != "Sequence" || f.Protocol != "TCP" {
		t.Errorf("first finding = %+v", f)
	}
	if findings[1].Summary != "IP Fragment" {
		t.Errorf("second finding = %+v", findings[1])
	}
}

func TestStatisticsAndPrinting(t *testing.T) {
	a := NewAnalyzer()
	a.Analyze(tcpRec(1, "10.0.0.1", "5000", "10.0.0.2", "80", "0x0018", "1", "9"))
	a.Analyze(tcpRec(2, "10.0.0.1", "5000", "10.0.0.2", "80", "0x0018", "1", "9"))

	stats := a.GetStatistics()
	if stats.TotalCount != 1 || stats.CountBySeverity[SeverityWarning] != 1 || stats.CountByProtocol["TCP"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !a.HasIssues() {
		t.Error("HasIssues() = false")
	}

	var buf bytes.Buffer
	a.PrintSummary(&buf)
	a.PrintDetails(&buf, SeverityNote)
	for _, want := range []string{"Total entries: 1", "[!] Warning", "TCP Retransmission"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q\n%s", want, buf.String())
		}
	}
}
