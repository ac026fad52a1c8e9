package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/internal/report"
	"github.com/Zerofisher/anxun/pkg/model"
)

var reportCmd = &cobra.Command{
	Use:   "report <analysis json>",
	Short: "Render a saved analysis as a report",
	Long: `Render an ai_analysis_*.json file from the data directory as Markdown,
HTML or JSON.`,
	Example: `  anxun report data/analysis_results/ai_analysis_20250101_120000.json
  anxun report ai_analysis_20250101_120000.json -f html -o report.html`,
	GroupID: "analysis",
	Args:    cobra.ExactArgs(1),
	RunE:    runReport,
}

var (
	reportFormat string
	reportOutput string
	reportTitle  string
)

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", report.FormatMarkdown, "Output format: markdown, html, json")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file (default: stdout)")
	reportCmd.Flags().StringVar(&reportTitle, "title", "", "Report title (default: file name)")
}

func runReport(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read analysis: %w", err)
	}

	var result model.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse analysis %s: %w", path, err)
	}
	if !result.RiskLevel.Valid() {
		return fmt.Errorf("%s is not an analysis result", path)
	}

	title := reportTitle
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return writeReport(report.FromResult(title, &result), reportFormat, reportOutput)
}
