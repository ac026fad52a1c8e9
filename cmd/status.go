package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/pkg/store"
	"github.com/Zerofisher/anxun/pkg/store/files"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show AI backend and data directory status",
	Example: `  anxun status`,
	GroupID: "info",
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved captures and analyses",
	Long:  `List the structured packet batches saved in the data directory, newest first.`,
	Example: `  anxun history
  anxun history -n 5 --json`,
	GroupID: "info",
	Args:    cobra.NoArgs,
	RunE:    runHistory,
}

var (
	historyLimit int
	historyJSON  bool
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Maximum number of entries (default 20)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print the entries as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := setupService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	st := svc.Status(cmd.Context())
	fmt.Printf("AI service:      %s (%s, %s)\n", st.AIService, st.Provider, st.Model)
	fmt.Printf("Data directory:  %s\n", st.DataDirectory)
	fmt.Printf("Active sessions: %d\n", st.ActiveSessions)
	return nil
}

// runHistory reads the data directory directly; it needs neither tshark nor
// the AI backend.
func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sink, err := files.New(cfg.DataDir, files.WithLogger(newLogger(cfg)))
	if err != nil {
		return err
	}

	limit := historyLimit
	if limit <= 0 {
		limit = store.HistoryLimit
	}
	entries, err := sink.ListHistory(limit)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No history.")
		return nil
	}
	fmt.Printf("%-18s %-40s %-8s %s\n", "Timestamp", "File", "Packets", "Source")
	for _, e := range entries {
		fmt.Printf("%-18s %-40s %-8d %s\n", e.Timestamp, e.Filename, e.PacketCount, e.SourceFile)
	}
	return nil
}
