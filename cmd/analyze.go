package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/internal/app"
	"github.com/Zerofisher/anxun/internal/report"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <pcap file>",
	Short: "Analyze a capture file with the language model",
	Long: `Parse a pcap/pcapng/cap file with tshark, normalize up to 100 packets
and ask the language model for a risk assessment.

The structured packets and the analysis are saved under the data directory.`,
	Example: `  anxun analyze campus.pcap
  anxun analyze campus.pcap -Y "dns"
  anxun analyze campus.pcap --format html -o report.html
  anxun analyze campus.pcap --no-think --model qwen3:8b`,
	GroupID: "analysis",
	Args:    cobra.ExactArgs(1),
	RunE:    runAnalyze,
}

// analyze flags
var (
	analyzeFilter  string
	analyzeModel   string
	analyzeNoThink bool
	analyzeFormat  string
	analyzeOutput  string
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFilter, "display-filter", "Y", "", "Display filter applied to the parsed packets (e.g., \"tcp.port == 443\")")
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "Model used for the analysis")
	analyzeCmd.Flags().BoolVar(&analyzeNoThink, "no-think", false, "Disable the model's thinking mode")
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", report.FormatMarkdown, "Output format: markdown, html, json")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "Output file (default: stdout)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	pcapPath := args[0]
	if _, err := os.Stat(pcapPath); os.IsNotExist(err) {
		return fmt.Errorf("file not found: %s", pcapPath)
	}
	// Fail on a bad filter before tshark runs.
	if _, err := app.CompileDisplayFilter(analyzeFilter); err != nil {
		return err
	}

	svc, err := setupService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Fprintf(os.Stderr, "Analyzing %s...\n", pcapPath)
	result, err := svc.ProcessPcapFile(cmd.Context(), pcapPath, app.ProcessOptions{
		Filter:   analyzeFilter,
		Model:    analyzeModel,
		Thinking: !analyzeNoThink,
	})
	if err != nil {
		return err
	}

	data := report.FromFileAnalysis(result)
	data.Filter = analyzeFilter
	return writeReport(data, analyzeFormat, analyzeOutput)
}

// writeReport renders data to path, or stdout when path is empty or "-".
func writeReport(data *report.Data, format, path string) error {
	var out io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := report.Write(out, format, data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if out != os.Stdout {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", path)
	}
	return nil
}
