package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/capture"
	"github.com/Zerofisher/anxun/fields"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List available resources",
	Long:    `List capture interfaces and the packet fields extracted from capture files.`,
	GroupID: "info",
}

var listInterfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Short:   "List available network interfaces",
	Long:    `Display the interfaces tshark can capture on (tshark -D).`,
	Example: `  anxun list interfaces`,
	Aliases: []string{"ifaces", "if"},
	RunE:    runListInterfaces,
}

// fields subcommand flags
var listFieldsFilter string

var listFieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List extracted packet fields",
	Long: `Display the fields extracted from every packet of an analyzed file, in
the order they are sent to the model.`,
	Example: `  anxun list fields
  anxun list fields --filter tcp`,
	RunE: runListFields,
}

func init() {
	// fields flags
	listFieldsCmd.Flags().StringVar(&listFieldsFilter, "filter", "",
		"Filter fields by name pattern")

	listCmd.AddCommand(listInterfacesCmd)
	listCmd.AddCommand(listFieldsCmd)
}

// runListInterfaces lists capture interfaces. Only tshark is needed.
func runListInterfaces(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	inv := capture.New(cfg.Tshark.Path, capture.WithLogger(newLogger(cfg)))
	ifaces := inv.ListInterfaces(cmd.Context())

	fmt.Println("Available network interfaces:")
	fmt.Println(strings.Repeat("-", 60))

	for _, iface := range ifaces {
		fmt.Printf("%s. %s\n", iface.ID, iface.Device)
		if iface.Name != "" && iface.Name != iface.Device {
			fmt.Printf("   Description: %s\n", iface.Name)
		}
	}
	return nil
}

// runListFields lists the canonical packet fields
func runListFields(cmd *cobra.Command, args []string) error {
	registry := fields.NewRegistry()
	fieldList := registry.List()

	if listFieldsFilter != "" {
		filtered := make([]string, 0)
		for _, name := range fieldList {
			if strings.Contains(strings.ToLower(name), strings.ToLower(listFieldsFilter)) {
				filtered = append(filtered, name)
			}
		}
		fieldList = filtered
	}

	fmt.Println("Available fields:")
	fmt.Printf("%-32s%s\n", "Name", "Description")
	fmt.Println(strings.Repeat("-", 70))

	for _, name := range fieldList {
		info := registry.GetFieldInfo(name)
		if info != "" {
			fmt.Println(info)
		}
	}

	if len(fieldList) == 0 && listFieldsFilter != "" {
		fmt.Printf("No fields matching '%s' found.\n", listFieldsFilter)
	}

	return nil
}
