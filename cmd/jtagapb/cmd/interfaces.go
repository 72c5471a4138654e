package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List available JTAG backends",
	Long: `Scan the host for CMSIS-DAP probes, GPIO and UIO register windows, and print
what can be passed to --backend. The simulator is always listed.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	infos, err := jtag.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Detected JTAG interfaces:")
	for _, iface := range infos {
		switch iface.Kind {
		case jtag.InterfaceKindCMSISDAP:
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s [%s] (VID:PID %04X:%04X) %s\n", iface.Label(), iface.Kind, iface.VendorID, iface.ProductID, iface.Path)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s [%s] %s\n", iface.Label(), iface.Kind, iface.Path)
		}
	}
	return nil
}
