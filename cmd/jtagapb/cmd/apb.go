package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var apbPipelined bool

var apbCmd = &cobra.Command{
	Use:   "apb",
	Short: "APB transfers through the JTAG access register",
}

var apbReadCmd = &cobra.Command{
	Use:   "read <addr>",
	Short: "Read a 32-bit word",
	Long: `Read one word. The default slow read issues the request, idles, then polls
for the result. With --pipelined two scans are issued back to back and the
second one returns the first one's data.`,
	Args: cobra.ExactArgs(1),
	RunE: runAPBRead,
}

var apbWriteCmd = &cobra.Command{
	Use:   "write <addr> <data>",
	Short: "Write a 32-bit word",
	Args:  cobra.ExactArgs(2),
	RunE:  runAPBWrite,
}

var apbControlCmd = &cobra.Command{
	Use:   "control <value>",
	Short: "Write the bridge control register",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPBControl,
}

func init() {
	rootCmd.AddCommand(apbCmd)
	apbCmd.AddCommand(apbReadCmd, apbWriteCmd, apbControlCmd)

	apbReadCmd.Flags().BoolVar(&apbPipelined, "pipelined", false, "use a pipelined read")
}

func parseUint(s string, bits int, what string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, s, err)
	}
	return v, nil
}

func runAPBRead(cmd *cobra.Command, args []string) error {
	addr, err := parseUint(args[0], 16, "address")
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.nav.Reset(); err != nil {
		return err
	}

	var data uint32
	if apbPipelined {
		if _, err := s.apb.ReadPipelined(uint16(addr)); err != nil {
			return err
		}
		resp, err := s.apb.Poll()
		if err != nil {
			return err
		}
		data = resp.Data
	} else if data, err = s.apb.ReadSlow(uint16(addr)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "0x%04X: 0x%08X\n", addr, data)
	return nil
}

func runAPBWrite(cmd *cobra.Command, args []string) error {
	addr, err := parseUint(args[0], 16, "address")
	if err != nil {
		return err
	}
	data, err := parseUint(args[1], 32, "data")
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.nav.Reset(); err != nil {
		return err
	}

	if _, err := s.apb.Write(uint16(addr), uint32(data)); err != nil {
		return err
	}
	// Collect the write's own status before reporting success.
	if _, err := s.apb.Poll(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "0x%04X <- 0x%08X\n", addr, data)
	return nil
}

func runAPBControl(cmd *cobra.Command, args []string) error {
	v, err := parseUint(args[0], 32, "value")
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.nav.Reset(); err != nil {
		return err
	}
	if err := s.apb.WriteControl(uint32(v)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "control <- 0x%08X\n", v)
	return nil
}
