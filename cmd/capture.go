package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/pkg/model"
)

var captureCmd = &cobra.Command{
	Use:   "capture [interface]",
	Short: "Capture live traffic for a bounded time",
	Long: `Capture packets from a network interface with tshark and print a summary
per packet. The capture stops after the duration or packet count, whichever
comes first, and is saved under the data directory.

Defaults come from the configuration (any / 30s / 50 packets). Duration is
capped at 300 seconds and the packet count at 100.`,
	Example: `  anxun capture
  anxun capture eth0 -d 10 -c 20
  anxun capture any --json`,
	GroupID: "analysis",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runCapture,
}

// capture flags
var (
	captureDuration int
	captureCount    int
	captureJSON     bool
)

func init() {
	captureCmd.Flags().IntVarP(&captureDuration, "duration", "d", 0, "Capture duration in seconds")
	captureCmd.Flags().IntVarP(&captureCount, "count", "c", 0, "Maximum number of packets")
	captureCmd.Flags().BoolVar(&captureJSON, "json", false, "Print the summaries as JSON")
}

func runCapture(cmd *cobra.Command, args []string) error {
	req := model.CaptureRequest{Duration: captureDuration, PacketCount: captureCount}
	if len(args) > 0 {
		req.Interface = args[0]
	}

	svc, err := setupService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	packets, err := svc.CaptureTraffic(cmd.Context(), req)
	if err != nil {
		return err
	}

	if captureJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(packets)
	}

	fmt.Printf("Captured %d packets\n", len(packets))
	if len(packets) == 0 {
		return nil
	}
	fmt.Printf("%-4s %-28s %-8s %-6s %-22s %-22s\n", "No.", "Time", "Proto", "Len", "Source", "Destination")
	fmt.Println(strings.Repeat("-", 94))
	for i, p := range packets {
		fmt.Printf("%-4d %-28s %-8s %-6s %-22s %-22s\n",
			i+1, p.Timestamp, p.Protocol, p.Length,
			endpoint(p.SrcIP, p.SrcPort), endpoint(p.DstIP, p.DstPort))
	}
	return nil
}

func endpoint(ip, port string) string {
	if port == "" || port == model.NotAvailable {
		return ip
	}
	return net.JoinHostPort(ip, port)
}
