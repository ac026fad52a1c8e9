package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/capture"
	"github.com/Zerofisher/anxun/internal/app"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <pcap file>",
	Short: "Show format and packet count of a capture file",
	Long: `Read a capture file's header and packets without tshark or the model.
Useful to check an upload before analyzing it.`,
	Example: `  anxun inspect campus.pcapng`,
	GroupID: "info",
	Args:    cobra.ExactArgs(1),
	RunE:    runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	if err := app.CheckExtension(path); err != nil {
		return err
	}
	info, err := capture.Inspect(path)
	if err != nil {
		return err
	}

	fmt.Printf("File:      %s\n", path)
	fmt.Printf("Format:    %s\n", info.Format)
	if info.LinkType != "" {
		fmt.Printf("Link type: %s\n", info.LinkType)
	}
	if info.Format == capture.FormatUnknown {
		return nil
	}
	fmt.Printf("Packets:   %d\n", info.Packets)
	if info.Truncated {
		fmt.Println("Warning:   file ends with a truncated packet")
	}

	keys := make([]string, 0, len(info.Transport))
	for k := range info.Transport {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-6s %d\n", k, info.Transport[k])
	}
	return nil
}
