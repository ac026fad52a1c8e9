package reconcile

import (
	"reflect"
	"testing"

	"github.com/Zerofisher/anxun/pkg/model"
)

func TestReconcileTotality(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"plain text reply",
		"[1, 2, 3]",
		`"just a string"`,
		"42",
		"null",
		"{}",
		`{"summary": "s"}`,
		`{"risk_level": "extreme"}`,
		`{"threats": "single"}`,
		`{"threats": [1, true, {"k": "v"}, null]}`,
		`{"threats": {}, "recommendations": {}}`,
		"{broken json",
		"<think>hmm</think>",
	}
	for _, in := range inputs {
		res := Reconcile(in)
		if res.Summary == "" {
			t.Errorf("Reconcile(%q): empty summary", in)
		}
		if !res.RiskLevel.Valid() {
			t.Errorf("Reconcile(%q): invalid risk level %q", in, res.RiskLevel)
		}
		if res.Threats == nil {
			t.Errorf("Reconcile(%q): nil threats", in)
		}
		if len(res.Recommendations) == 0 && in != `{"recommendations": []}` {
			t.Errorf("Reconcile(%q): no recommendations", in)
		}
	}
}

func TestParsedDefaults(t *testing.T) {
	res := Reconcile(`{}`)
	want := model.AnalysisResult{
		Summary:         ParsedSummary,
		RiskLevel:       model.RiskMedium,
		Threats:         []string{},
		Recommendations: []string{ParsedRecommendation},
	}
	if !reflect.DeepEqual(res, want) {
		t.Errorf("Reconcile({}) = %+v, want %+v", res, want)
	}
}

// The JSON path never defaults detailed_analysis; the heuristic path always
// sets it to the raw reply.
func TestDetailedAnalysisAsymmetry(t *testing.T) {
	parsed := Reconcile(`{"summary": "ok", "risk_level": "低"}`)
	if parsed.DetailedAnalysis != "" {
		t.Errorf("parsed path set detailed_analysis to %q", parsed.DetailedAnalysis)
	}

	raw := "流量看起来不错"
	unparsed := Reconcile(raw)
	if unparsed.DetailedAnalysis != raw {
		t.Errorf("unparsed path detailed_analysis = %q, want raw reply", unparsed.DetailedAnalysis)
	}
}

func TestParsedKeepsModelFields(t *testing.T) {
	res := Reconcile(`{
		"summary": "宿舍区 BT 下载占用带宽",
		"risk_level": "高风险",
		"threats": ["P2P 滥用", 3],
		"recommendations": ["限速", "审计"],
		"detailed_analysis": "细节"
	}`)
	if res.Summary != "宿舍区 BT 下载占用带宽" || res.RiskLevel != model.RiskHigh {
		t.Errorf("unexpected header %+v", res)
	}
	if !reflect.DeepEqual(res.Threats, []string{"P2P 滥用", "3"}) {
		t.Errorf("threats = %v", res.Threats)
	}
	if !reflect.DeepEqual(res.Recommendations, []string{"限速", "审计"}) {
		t.Errorf("recommendations = %v", res.Recommendations)
	}
	if res.DetailedAnalysis != "细节" {
		t.Errorf("detailed_analysis = %q", res.DetailedAnalysis)
	}
}

func TestParsedIgnoresNonListValues(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"objects", `{"threats": {}, "recommendations": {}}`},
		{"numbers", `{"threats": 3, "recommendations": 1.5}`},
		{"bools", `{"threats": true, "recommendations": false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reconcile(tt.raw)
			if !reflect.DeepEqual(res.Threats, []string{}) {
				t.Errorf("threats = %#v, want empty", res.Threats)
			}
			if !reflect.DeepEqual(res.Recommendations, []string{ParsedRecommendation}) {
				t.Errorf("recommendations = %#v, want default", res.Recommendations)
			}
		})
	}

	res := Reconcile(`{"threats": "ARP 欺骗", "recommendations": ""}`)
	if !reflect.DeepEqual(res.Threats, []string{"ARP 欺骗"}) || !reflect.DeepEqual(res.Recommendations, []string{}) {
		t.Errorf("string values = %#v / %#v", res.Threats, res.Recommendations)
	}
}

func TestParseRecognizesWrappedJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"fenced", "```json\n{\"summary\": \"x\", \"riskLevel\": \"low\"}\n```"},
		{"think block", "<think>\n先看协议分布\n</think>\n{\"summary\": \"x\", \"risk_level\": \"low\"}"},
		{"think and fence", "<think>a</think>\n```\n{\"summary\": \"x\", \"risk_level\": \"low\"}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Parse(tt.raw).(Parsed)
			if !ok {
				t.Fatalf("Parse(%q) was not Parsed", tt.raw)
			}
			res := FillParsed(p)
			if res.Summary != "x" || res.RiskLevel != model.RiskLow {
				t.Errorf("unexpected result %+v", res)
			}
		})
	}
}

func TestParseRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{"[]", `"x"`, "1", "null", "hello"} {
		if _, ok := Parse(raw).(Unparsed); !ok {
			t.Errorf("Parse(%q) should be Unparsed", raw)
		}
	}
}

func TestKeywordEscalation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		risk    model.RiskLevel
		threats int
	}{
		{"attack", "分析结果：检测到攻击行为，来源 10.0.0.5", model.RiskHigh, 1},
		{"english", "Possible INTRUSION attempt via SSH", model.RiskHigh, 1},
		{"normal", "一切正常，无异常", model.RiskLow, 0},
		{"no anomaly", "No anomaly found, traffic looks normal", model.RiskLow, 0},
		{"neutral", "共 40 个 TCP 包", model.RiskMedium, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reconcile(tt.raw)
			if res.RiskLevel != tt.risk {
				t.Errorf("risk = %s, want %s", res.RiskLevel, tt.risk)
			}
			if len(res.Threats) != tt.threats {
				t.Errorf("threats = %v", res.Threats)
			}
			if !reflect.DeepEqual(res.Recommendations, []string{UnparsedRecommendation}) {
				t.Errorf("recommendations = %v", res.Recommendations)
			}
		})
	}
}

func TestUnparsedSummaryLine(t *testing.T) {
	raw := "第一行\n  流量摘要：以 HTTPS 为主  \n概况：正常\n"
	if got := Reconcile(raw).Summary; got != "流量摘要：以 HTTPS 为主" {
		t.Errorf("summary = %q", got)
	}
	if got := Reconcile("没有标记").Summary; got != UnparsedSummary {
		t.Errorf("summary = %q", got)
	}
}

func TestNormalizeRisk(t *testing.T) {
	tests := map[string]model.RiskLevel{
		"低":      model.RiskLow,
		"Low":    model.RiskLow,
		"低风险":    model.RiskLow,
		"medium": model.RiskMedium,
		"中":      model.RiskMedium,
		"HIGH":   model.RiskHigh,
		"高风险":    model.RiskHigh,
		"high risk": model.RiskHigh,
		"未知":     model.RiskMedium,
		"":       model.RiskMedium,
	}
	for in, want := range tests {
		if got := NormalizeRisk(in); got != want {
			t.Errorf("NormalizeRisk(%q) = %s, want %s", in, got, want)
		}
	}
}
