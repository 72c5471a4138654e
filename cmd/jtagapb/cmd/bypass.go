package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
	"github.com/OpenTraceLab/jtagapb/pkg/script"
)

var (
	bypassIR      string
	bypassWidth   int
	bypassPattern string
)

var bypassCmd = &cobra.Command{
	Use:   "bypass",
	Short: "Check that a pattern comes back through BYPASS one bit late",
	Long: `Load the BYPASS instruction, shift a pattern through the data register and
verify it returns delayed by exactly one clock.

Examples:
  jtagapb bypass
  jtagapb bypass --ir 0x00 --width 64 --pattern 0xaaaaaaaaaaaaaaaa`,
	RunE: runBypass,
}

func init() {
	rootCmd.AddCommand(bypassCmd)

	bypassCmd.Flags().StringVar(&bypassIR, "ir", "0x1f", "BYPASS instruction opcode")
	bypassCmd.Flags().IntVar(&bypassWidth, "width", 65, "pattern width in bits")
	bypassCmd.Flags().StringVar(&bypassPattern, "pattern", "", "pattern to shift (default alternating 1010...)")
}

func runBypass(cmd *cobra.Command, args []string) error {
	ir, err := (&script.Number{Text: bypassIR}).Bits(cfg.APB.IRLength)
	if err != nil {
		return fmt.Errorf("--ir: %w", err)
	}
	if bypassWidth < 2 {
		return fmt.Errorf("--width must be at least 2")
	}
	in := make(bitvec.Vector, bypassWidth)
	for i := range in {
		in[i] = i%2 == 0
	}
	if bypassPattern != "" {
		if in, err = (&script.Number{Text: bypassPattern}).Bits(bypassWidth); err != nil {
			return fmt.Errorf("--pattern: %w", err)
		}
	}

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.nav.Reset(); err != nil {
		return err
	}
	if _, err := s.nav.WriteIR(ir); err != nil {
		return err
	}
	out, err := s.nav.WriteDR(in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "in:  %s\nout: %s\n", in, out)
	if out[0] || !out[1:].Equal(in[:len(in)-1]) {
		return fmt.Errorf("bypass mismatch")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "bypass OK")
	return nil
}
