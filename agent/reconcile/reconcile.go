// Package reconcile coerces a model reply into the fixed five-field
// analysis schema. Reconciliation never fails.
package reconcile

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Zerofisher/anxun/pkg/model"
)

// Defaults applied when the reply parsed as a JSON object.
const (
	ParsedSummary        = "流量分析已完成，请查看详细报告"
	ParsedRecommendation = "建议进一步分析流量模式"
)

// Defaults applied when the reply had to be read heuristically.
const (
	UnparsedSummary        = "基于流量特征的安全分析已完成"
	UnparsedRecommendation = "建议持续监控网络流量"
	UnparsedThreat         = "检测到潜在安全威胁"
)

// Outcome is the result of reading a raw reply: exactly one of Parsed or
// Unparsed.
type Outcome interface {
	outcome()
}

// Parsed holds the fields a JSON object reply actually carried. Nil
// pointers and slices mark absent fields.
type Parsed struct {
	Summary          *string
	RiskLevel        *string
	Threats          []string
	Recommendations  []string
	DetailedAnalysis *string
}

// Unparsed holds a reply that is not a JSON object.
type Unparsed struct {
	Raw string
}

func (Parsed) outcome()   {}
func (Unparsed) outcome() {}

// Reconcile reads raw and returns a fully populated result.
func Reconcile(raw string) model.AnalysisResult {
	switch o := Parse(raw).(type) {
	case Parsed:
		return FillParsed(o)
	case Unparsed:
		return FillUnparsed(o)
	default:
		return FillUnparsed(Unparsed{Raw: raw})
	}
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// Parse tries raw as a JSON object, then the same text with a leading
// <think> block and a Markdown code fence removed.
func Parse(raw string) Outcome {
	if p, ok := parseObject(raw); ok {
		return p
	}
	cleaned := strings.TrimSpace(thinkBlock.ReplaceAllString(raw, ""))
	if m := codeFence.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	if cleaned != raw {
		if p, ok := parseObject(cleaned); ok {
			return p
		}
	}
	return Unparsed{Raw: raw}
}

func parseObject(text string) (Parsed, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil || obj == nil {
		return Parsed{}, false
	}

	var p Parsed
	if raw, ok := lookup(obj, "summary"); ok {
		s := asString(raw)
		p.Summary = &s
	}
	if raw, ok := lookup(obj, "risk_level", "riskLevel", "risk"); ok {
		s := asString(raw)
		p.RiskLevel = &s
	}
	if raw, ok := lookup(obj, "threats"); ok {
		p.Threats, _ = asStrings(raw)
	}
	if raw, ok := lookup(obj, "recommendations"); ok {
		p.Recommendations, _ = asStrings(raw)
	}
	if raw, ok := lookup(obj, "detailed_analysis", "detailedAnalysis"); ok {
		s := asString(raw)
		p.DetailedAnalysis = &s
	}
	return p, true
}

// lookup returns the first present, non-null key.
func lookup(obj map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := obj[k]; ok && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

func asString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return stringify(v)
}

// asStrings accepts a list of any JSON values, or a single string. Any
// other value (object, number, bool) reports false and is treated as
// absent. A true result is non-nil.
func asStrings(raw json.RawMessage) ([]string, bool) {
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if v == nil {
				continue
			}
			out = append(out, stringify(v))
		}
		return out, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	if s == "" {
		return []string{}, true
	}
	return []string{s}, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// FillParsed applies the JSON-path defaults. DetailedAnalysis is left
// empty when the reply did not carry it.
func FillParsed(p Parsed) model.AnalysisResult {
	res := model.AnalysisResult{
		Summary:         ParsedSummary,
		RiskLevel:       model.RiskMedium,
		Threats:         []string{},
		Recommendations: []string{ParsedRecommendation},
	}
	if p.Summary != nil {
		res.Summary = *p.Summary
	}
	if p.RiskLevel != nil {
		res.RiskLevel = NormalizeRisk(*p.RiskLevel)
	}
	if p.Threats != nil {
		res.Threats = p.Threats
	}
	if p.Recommendations != nil {
		res.Recommendations = p.Recommendations
	}
	if p.DetailedAnalysis != nil {
		res.DetailedAnalysis = *p.DetailedAnalysis
	}
	return res
}

var (
	threatKeywords = []string{
		"攻击", "恶意", "威胁", "异常", "入侵",
		"attack", "malicious", "threat", "anomal", "intrusion",
	}
	safeKeywords = []string{
		"正常", "安全", "无异常",
		"normal", "safe", "benign",
	}
	// Negated phrases are removed before threat keywords are scanned so that
	// "无异常" does not count as an anomaly.
	negations = []string{
		"没有发现异常", "未发现异常", "没有异常", "无异常",
		"未发现威胁", "没有威胁", "无威胁",
		"未发现攻击", "没有攻击", "无攻击",
		"未发现入侵", "无入侵", "无恶意",
		"no anomalies", "no anomaly", "no threats", "no threat",
		"no attacks", "no attack", "no intrusion", "not malicious",
	}
)

// FillUnparsed reads a free-text reply with keyword heuristics.
func FillUnparsed(u Unparsed) model.AnalysisResult {
	res := model.AnalysisResult{
		Summary:          UnparsedSummary,
		RiskLevel:        model.RiskMedium,
		Threats:          []string{},
		Recommendations:  []string{UnparsedRecommendation},
		DetailedAnalysis: u.Raw,
	}

	lower := strings.ToLower(u.Raw)
	scrubbed := lower
	for _, n := range negations {
		scrubbed = strings.ReplaceAll(scrubbed, n, " ")
	}

	switch {
	case containsAny(scrubbed, threatKeywords):
		res.RiskLevel = model.RiskHigh
		res.Threats = append(res.Threats, UnparsedThreat)
	case containsAny(lower, safeKeywords):
		res.RiskLevel = model.RiskLow
	}

	for _, line := range strings.Split(u.Raw, "\n") {
		if strings.Contains(line, "摘要") || strings.Contains(line, "概况") {
			res.Summary = strings.TrimSpace(line)
			break
		}
	}
	return res
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// NormalizeRisk maps a model-supplied risk label to 低, 中 or 高.
// Unknown labels become 中.
func NormalizeRisk(s string) model.RiskLevel {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimSuffix(v, "风险")
	v = strings.TrimSuffix(v, " risk")
	v = strings.TrimSpace(v)
	switch v {
	case "低", "low", "l", "1":
		return model.RiskLow
	case "中", "medium", "moderate", "med", "m", "2":
		return model.RiskMedium
	case "高", "high", "critical", "严重", "h", "3":
		return model.RiskHigh
	default:
		return model.RiskMedium
	}
}
