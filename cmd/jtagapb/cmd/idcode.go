package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/OpenTraceLab/jtagapb/pkg/chain"
)

var idcodeCmd = &cobra.Command{
	Use:     "idcode",
	Aliases: []string{"discover"},
	Short:   "Scan the chain and list every IDCODE",
	Long: `Reset the TAP, shift the data register chain and decode each 32-bit IDCODE
found, nearest TDO first. The scan stops at the first device in BYPASS.

Examples:
  jtagapb idcode
  jtagapb -b cmsis-dap -t direct idcode`,
	RunE: runIDCode,
}

func init() {
	rootCmd.AddCommand(idcodeCmd)
}

func runIDCode(cmd *cobra.Command, args []string) error {
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	devices, err := s.nav.Discover()
	if err != nil {
		return fmt.Errorf("chain discovery failed: %w", err)
	}
	if f, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		printBoxed(f, devices)
	} else {
		printPlain(cmd.OutOrStdout(), devices)
	}
	return nil
}

func printPlain(w io.Writer, devices []chain.Device) {
	fmt.Fprintf(w, "Found %d device(s)\n", len(devices))
	for _, d := range devices {
		fmt.Fprintf(w, "%d: 0x%08X %s (%s, part 0x%04X, version %d)\n",
			d.Position, d.IDCode.Raw, d.Name(), d.Manufacturer.Name, d.IDCode.PartNumber, d.IDCode.Version)
	}
}

func printBoxed(w io.Writer, devices []chain.Device) {
	fmt.Fprintf(w, "╔══════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║ Found %-3d device(s)                                       ║\n", len(devices))
	fmt.Fprintf(w, "╚══════════════════════════════════════════════════════════╝\n")
	for _, d := range devices {
		fmt.Fprintf(w, "┌─ Position %d\n", d.Position)
		fmt.Fprintf(w, "│ IDCODE:       0x%08X\n", d.IDCode.Raw)
		fmt.Fprintf(w, "│ Name:         %s\n", d.Name())
		fmt.Fprintf(w, "│ Manufacturer: %s\n", d.Manufacturer.Name)
		fmt.Fprintf(w, "│ Part:         0x%04X  version %d\n", d.IDCode.PartNumber, d.IDCode.Version)
		if d.Part != nil {
			fmt.Fprintf(w, "│ IR length:    %d bits\n", d.Part.IRLength)
		}
		fmt.Fprintf(w, "└──────────────────────────────────────────────────────────\n")
	}
}
