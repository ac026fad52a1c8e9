package agent

import (
	"fmt"
	"strings"

	"github.com/Zerofisher/anxun/pkg/model"
)

// PromptSampleSize is the number of records embedded in an analysis prompt.
const PromptSampleSize = 10

// NoThinkDirective asks Qwen-style models to skip their reasoning segment.
const NoThinkDirective = "/no_think"

// SystemPrompt is the chat persona. Replies carry a <think> segment followed
// by a concise answer.
const SystemPrompt = `你是安巡智能体，一个专业的校园网络安全助手。你能够分析网络流量、识别安全威胁、提供安全建议。

请在回答时遵循以下格式：
1. 使用<think>在这里展示你的思考过程和分析步骤</think>标签
2. 然后给出简洁明确的回答
3. 用专业但易懂的语言解释技术概念

示例：
<think>用户询问网络安全问题，我需要分析具体的威胁类型，考虑防护措施...</think>

根据你的描述，这可能是...`

const analysisFraming = `你是一个专业的校园网络安全分析师。请分析以下校园网络流量数据，并提供详细的安全评估报告。

流量数据（共%d个数据包）：
%s

请从校园网络环境的角度进行分析，重点关注：
1. 流量概况（协议分布、通信模式，结合校园网络特点如学生宿舍、教学区域、实验室等）
2. 校园网络常见威胁识别（P2P下载、游戏流量、恶意软件传播、网络攻击、违规访问等）
3. 异常行为检测（异常时间访问、大流量传输、可疑连接等）
4. 风险等级评估（低/中/高）
5. 校园网络管理建议（带宽管理、访问控制、安全策略、学生行为规范等）

请以JSON格式返回分析结果，包含以下字段：
- summary: 对流量文件分析的简要总结，包含主要发现和关键指标，不要包含思考过程
- threats: 发现的威胁列表，重点关注校园网络常见问题
- risk_level: 风险等级
- recommendations: 针对校园网络管理的具体安全建议
- detailed_analysis: 对流量文件分析的详细总结报告，包含具体数据和结论，不要包含分析思考过程

重要提示：
1. summary和detailed_analysis字段必须是对分析结果的总结，而不是分析思考过程
2. 避免在这两个字段中包含"我需要分析"、"首先"、"接下来"等思考性语言
3. 直接提供分析结论和发现的问题
4. 使用具体的数据和事实来支撑结论
`

// BuildAnalysisPrompt renders the analysis prompt for records. Only the
// first PromptSampleSize records are embedded; the count covers all of them.
func BuildAnalysisPrompt(records []model.PacketRecord, thinking bool) string {
	sample := records
	if len(sample) > PromptSampleSize {
		sample = sample[:PromptSampleSize]
	}
	lines := make([]string, len(sample))
	for i, r := range sample {
		lines[i] = r.String()
	}

	prefix := ""
	if !thinking {
		prefix = NoThinkDirective
	}
	return prefix + "\n" + fmt.Sprintf(analysisFraming, len(records), strings.Join(lines, "\n"))
}
