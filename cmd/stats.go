package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/expert"
	"github.com/Zerofisher/anxun/pkg/model"
	"github.com/Zerofisher/anxun/stats"
)

// stats command flags
var (
	statsInputFile     string
	statsDisplayFilter string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Packet statistics and rule-based checks",
	Long: `Parse a capture file (first 100 packets) and display statistics without
calling the language model.`,
	GroupID: "analysis",
}

var statsEndpointsCmd = &cobra.Command{
	Use:     "endpoints",
	Short:   "Show endpoint statistics",
	Long:    `Display statistics about network endpoints (IP addresses).`,
	Example: `  anxun stats endpoints -r capture.pcap`,
	RunE:    runStatsEndpoints,
}

// conversations subcommand flags
var statsConversationsProto string

var statsConversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Show conversation statistics",
	Long:  `Display statistics about network conversations (connections between endpoints).`,
	Example: `  anxun stats conversations -r capture.pcap
  anxun stats conversations -r capture.pcap --proto udp`,
	RunE: runStatsConversations,
}

var statsProtocolsCmd = &cobra.Command{
	Use:     "protocols",
	Short:   "Show the protocol distribution",
	Example: `  anxun stats protocols -r capture.pcap`,
	RunE:    runStatsProtocols,
}

// expert subcommand flags
var statsExpertSeverity string

var statsExpertCmd = &cobra.Command{
	Use:   "expert",
	Short: "Expert analysis (anomaly detection)",
	Long: `Run rule-based checks over the parsed packets.
Detects: TCP retransmissions, out-of-order segments, zero windows, resets and
refused connections, SYN scans and floods, bad checksums, IP fragments and
cleartext login protocols.`,
	Example: `  anxun stats expert -r capture.pcap
  anxun stats expert -r capture.pcap --severity warning`,
	RunE: runStatsExpert,
}

func init() {
	// Persistent flags for stats command (inherited by all subcommands)
	statsCmd.PersistentFlags().StringVarP(&statsInputFile, "read", "r", "",
		"Input pcap file (required)")
	statsCmd.PersistentFlags().StringVarP(&statsDisplayFilter, "filter", "Y", "",
		"Display filter expression")
	statsCmd.MarkPersistentFlagRequired("read")

	statsConversationsCmd.Flags().StringVar(&statsConversationsProto, "proto", "tcp",
		"Protocol: tcp, udp or ip (all)")

	statsExpertCmd.Flags().StringVar(&statsExpertSeverity, "severity", "note",
		"Minimum severity level: chat, note, warning, error")

	statsCmd.AddCommand(statsEndpointsCmd)
	statsCmd.AddCommand(statsConversationsCmd)
	statsCmd.AddCommand(statsProtocolsCmd)
	statsCmd.AddCommand(statsExpertCmd)
}

// loadStatsRecords parses the input file through tshark.
func loadStatsRecords(cmd *cobra.Command) ([]model.PacketRecord, error) {
	svc, err := setupService(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	records, _, err := svc.ParsePcapFile(cmd.Context(), statsInputFile, statsDisplayFilter)
	return records, err
}

func statsManager(cmd *cobra.Command) (*stats.Manager, error) {
	records, err := loadStatsRecords(cmd)
	if err != nil {
		return nil, err
	}
	mgr := stats.NewManager()
	for _, rec := range records {
		mgr.ProcessRecord(rec)
	}
	return mgr, nil
}

func runStatsEndpoints(cmd *cobra.Command, args []string) error {
	mgr, err := statsManager(cmd)
	if err != nil {
		return err
	}
	mgr.PrintEndpoints(os.Stdout)
	return nil
}

func runStatsConversations(cmd *cobra.Command, args []string) error {
	mgr, err := statsManager(cmd)
	if err != nil {
		return err
	}
	mgr.PrintConversations(os.Stdout, statsConversationsProto)
	return nil
}

func runStatsProtocols(cmd *cobra.Command, args []string) error {
	mgr, err := statsManager(cmd)
	if err != nil {
		return err
	}
	mgr.PrintProtocols(os.Stdout)
	return nil
}

// runStatsExpert performs expert analysis
func runStatsExpert(cmd *cobra.Command, args []string) error {
	// Parse severity level
	var minSeverity expert.Severity
	switch strings.ToLower(statsExpertSeverity) {
	case "chat":
		minSeverity = expert.SeverityChat
	case "note":
		minSeverity = expert.SeverityNote
	case "warning", "warn":
		minSeverity = expert.SeverityWarning
	case "error":
		minSeverity = expert.SeverityError
	default:
		return fmt.Errorf("invalid severity: %s (use chat, note, warning, error)", statsExpertSeverity)
	}

	records, err := loadStatsRecords(cmd)
	if err != nil {
		return err
	}

	analyzer := expert.NewAnalyzer()
	for _, rec := range records {
		analyzer.Analyze(rec)
	}

	analyzer.PrintSummary(os.Stdout)
	fmt.Println()
	analyzer.PrintDetails(os.Stdout, minSeverity)
	return nil
}
