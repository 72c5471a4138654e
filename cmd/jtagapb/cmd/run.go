package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagapb/pkg/script"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a scan script",
	Long: `Execute a scan script statement by statement and stop at the first failed
expectation.

Script example:
  reset
  idcode expect 0xabcde6e3
  ir 5 0x1f
  dr 65 0x0 expect 0x0
  apb write 0x20 0xdeadbeef
  apb read 0x20 expect 0xdeadbeef`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runScript(cmd *cobra.Command, args []string) error {
	sc, err := script.ParseFile(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := script.NewRunner(s.nav, s.apb, logger).Run(sc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d statement(s) passed\n", args[0], len(sc.Stmts))
	return nil
}
