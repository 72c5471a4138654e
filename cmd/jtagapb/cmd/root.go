package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagapb/pkg/config"
	"github.com/OpenTraceLab/jtagapb/pkg/logs"
)

var (
	// Global flags
	verbose    bool
	configPath string
	backend    string
	transport  string
	logLevel   string
)

var (
	cfg      config.Config
	levelVar = new(slog.LevelVar)
	logger   = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "jtagapb",
	Short: "JTAG TAP navigator and APB-over-JTAG bridge",
	Long: `Drive a JTAG TAP through pin-level or register-mapped masters, move APB
transfers across it, and expose the pins to OpenOCD as a remote-bitbang server.

Examples:
  jtagapb idcode                                  # Scan the built-in simulator
  jtagapb -t fast apb write 0x20 0xdeadbeef       # APB write through the fast master
  jtagapb -b cmsis-dap serve --listen :9824       # Bridge a CMSIS-DAP probe to OpenOCD
  jtagapb run bringup.jtag                        # Run a scan script`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "CUE configuration file")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "pin or register backend (sim, cmsis-dap, gpio, mmio)")
	rootCmd.PersistentFlags().StringVarP(&transport, "transport", "t", "", "JTAG transport (direct, slow, fast)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// setup loads the configuration, applies flag overrides and installs the
// logger.
func setup(cmd *cobra.Command) error {
	var err error
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("transport") {
		cfg.Transport = transport
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	level, err := logs.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	levelVar.Set(level)
	logger = logs.New(logs.Options{Writer: cmd.ErrOrStderr(), Level: levelVar, Journal: cfg.Log.Journal})
	slog.SetDefault(logger)
	return nil
}
