// Package report renders analysis results as Markdown, HTML or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/Zerofisher/anxun/pkg/model"
	"github.com/Zerofisher/anxun/stats"
)

// Output formats accepted by Write.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

// Data holds all data for report generation.
type Data struct {
	// Meta
	GeneratedAt time.Time `json:"generated_at"`
	Title       string    `json:"title"`

	// Source
	SourceFile         string `json:"source_file,omitempty"`
	StructuredDataFile string `json:"structured_data_file,omitempty"`
	PacketCount        int    `json:"packet_count"`
	TotalPackets       int    `json:"total_packets,omitempty"`
	Filter             string `json:"filter,omitempty"`

	// Profile
	Stats    *model.TrafficStats `json:"traffic_stats,omitempty"`
	Findings []model.Finding     `json:"expert_findings,omitempty"`

	// Verdict
	Result  *model.AnalysisResult `json:"ai_analysis,omitempty"`
	AIError string                `json:"ai_error,omitempty"`
}

// FromFileAnalysis builds report data for one analyzed capture file.
func FromFileAnalysis(fa *model.FileAnalysis) *Data {
	generated := fa.ProcessingTime
	if generated.IsZero() {
		generated = time.Now()
	}
	return &Data{
		GeneratedAt:        generated,
		Title:              "安巡网络流量分析报告",
		SourceFile:         fa.SourceFile,
		StructuredDataFile: fa.StructuredDataFile,
		PacketCount:        fa.PacketCount,
		TotalPackets:       fa.TotalPackets,
		Stats:              fa.TrafficStats,
		Findings:           fa.ExpertFindings,
		Result:             fa.AIAnalysis,
		AIError:            fa.AIError,
	}
}

// FromResult builds report data for a bare analysis result.
func FromResult(title string, r *model.AnalysisResult) *Data {
	return &Data{GeneratedAt: time.Now(), Title: title, Result: r}
}

// Write renders d in the named format.
func Write(w io.Writer, format string, d *Data) error {
	switch strings.ToLower(format) {
	case FormatMarkdown, "md", "":
		return WriteMarkdown(w, d)
	case FormatHTML:
		return WriteHTML(w, d)
	case FormatJSON:
		return WriteJSON(w, d)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteMarkdown writes the Markdown report.
func WriteMarkdown(w io.Writer, d *Data) error {
	_, err := io.WriteString(w, Markdown(d))
	return err
}

// Markdown returns the report as Markdown text.
func Markdown(d *Data) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", d.Title)
	fmt.Fprintf(&sb, "生成时间: %s\n\n", d.GeneratedAt.Format("2006-01-02 15:04:05"))

	if d.SourceFile != "" {
		sb.WriteString("## 数据来源\n\n")
		sb.WriteString("| 项目 | 值 |\n|---|---|\n")
		fmt.Fprintf(&sb, "| 文件 | %s |\n", escapeCell(d.SourceFile))
		fmt.Fprintf(&sb, "| 分析包数 | %d |\n", d.PacketCount)
		if d.TotalPackets > 0 {
			fmt.Fprintf(&sb, "| 文件总包数 | %d |\n", d.TotalPackets)
		}
		if d.Filter != "" {
			fmt.Fprintf(&sb, "| 过滤表达式 | `%s` |\n", d.Filter)
		}
		if d.StructuredDataFile != "" {
			fmt.Fprintf(&sb, "| 结构化数据 | %s |\n", escapeCell(d.StructuredDataFile))
		}
		sb.WriteString("\n")
	}

	writeStats(&sb, d.Stats)
	writeFindings(&sb, d.Findings)

	if d.AIError != "" {
		sb.WriteString("## AI分析\n\n")
		fmt.Fprintf(&sb, "> %s\n", d.AIError)
		return sb.String()
	}
	if d.Result == nil {
		return sb.String()
	}

	r := d.Result
	fmt.Fprintf(&sb, "## 风险等级: %s\n\n", r.RiskLevel)
	sb.WriteString("## 摘要\n\n")
	sb.WriteString(r.Summary)
	sb.WriteString("\n\n")

	sb.WriteString("## 发现的威胁\n\n")
	writeList(&sb, r.Threats)

	sb.WriteString("## 安全建议\n\n")
	writeList(&sb, r.Recommendations)

	if r.DetailedAnalysis != "" {
		sb.WriteString("## 详细分析\n\n")
		sb.WriteString(r.DetailedAnalysis)
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeStats(sb *strings.Builder, st *model.TrafficStats) {
	if st == nil || st.Packets == 0 {
		return
	}
	sb.WriteString("## 流量概况\n\n")
	fmt.Fprintf(sb, "共 %d 个包，%s，持续 %s。\n\n", st.Packets, stats.FormatBytes(st.Bytes), stats.FormatSeconds(st.Duration))

	if len(st.Protocols) > 0 {
		names := make([]string, 0, len(st.Protocols))
		for name := range st.Protocols {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if st.Protocols[names[i]] != st.Protocols[names[j]] {
				return st.Protocols[names[i]] > st.Protocols[names[j]]
			}
			return names[i] < names[j]
		})
		sb.WriteString("| 协议 | 包数 |\n|---|---|\n")
		for _, name := range names {
			fmt.Fprintf(sb, "| %s | %d |\n", escapeCell(name), st.Protocols[name])
		}
		sb.WriteString("\n")
	}

	if len(st.Conversations) > 0 {
		sb.WriteString("| 会话 A | 会话 B | 协议 | 包数 | 字节 |\n|---|---|---|---|---|\n")
		for _, c := range st.Conversations {
			fmt.Fprintf(sb, "| %s | %s | %s | %d | %s |\n",
				escapeCell(stats.JoinAddr(c.AddrA, c.PortA)),
				escapeCell(stats.JoinAddr(c.AddrB, c.PortB)),
				c.Protocol,
				c.PacketsAtoB+c.PacketsBtoA,
				stats.FormatBytes(c.BytesAtoB+c.BytesBtoA))
		}
		sb.WriteString("\n")
	}
}

func writeFindings(sb *strings.Builder, findings []model.Finding) {
	if len(findings) == 0 {
		return
	}
	sb.WriteString("## 规则检测\n\n")
	sb.WriteString("| 包 | 级别 | 协议 | 问题 | 详情 |\n|---|---|---|---|---|\n")
	for _, f := range findings {
		fmt.Fprintf(sb, "| %d | %s | %s | %s | %s |\n",
			f.Packet, f.Severity, escapeCell(f.Protocol), escapeCell(f.Summary), escapeCell(f.Details))
	}
	sb.WriteString("\n")
}

func writeList(sb *strings.Builder, items []string) {
	if len(items) == 0 {
		sb.WriteString("无\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
	sb.WriteString("\n")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// HTML renders Markdown text to an HTML fragment.
func HTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	return string(markdown.ToHTML([]byte(md), p, nil))
}

// WriteHTML writes the report as a complete HTML page.
func WriteHTML(w io.Writer, d *Data) error {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	r := html.NewRenderer(html.RendererOptions{
		Title: d.Title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	_, err := w.Write(markdown.ToHTML([]byte(Markdown(d)), p, r))
	return err
}

// WriteJSON writes the report data as indented JSON.
func WriteJSON(w io.Writer, d *Data) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(d)
}
