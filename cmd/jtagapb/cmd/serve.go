package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/go-serial/serial"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagapb/pkg/bitbang"
)

var (
	serveListen string
	serveSerial string
	serveBaud   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the JTAG pins as an OpenOCD remote-bitbang server",
	Long: `Serve the remote-bitbang protocol on a TCP port, or on a serial line with
--serial. One client is served at a time; stop with Ctrl-C.

OpenOCD side:
  adapter driver remote_bitbang
  remote_bitbang host 127.0.0.1
  remote_bitbang port 9824

Examples:
  jtagapb serve --listen 127.0.0.1:9824
  jtagapb -b gpio serve
  jtagapb -b cmsis-dap serve --serial /dev/ttyUSB0 --baud 921600`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "TCP address to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveSerial, "serial", "", "serial device to serve instead of TCP")
	serveCmd.Flags().IntVar(&serveBaud, "baud", 0, "serial baud rate (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("listen") {
		cfg.Serve.Listen = serveListen
	}
	if cmd.Flags().Changed("serial") {
		cfg.Serve.Serial = serveSerial
	}
	if cmd.Flags().Changed("baud") {
		cfg.Serve.Baud = serveBaud
	}

	h, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer h.Close()
	if h.pins == nil {
		return fmt.Errorf("backend %s has no pins to serve", cfg.Backend)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv := bitbang.NewServer(h.pins, bitbang.WithLogger(logger))

	if cfg.Serve.Serial != "" {
		port, err := serial.Open(serial.OpenOptions{
			PortName:        cfg.Serve.Serial,
			BaudRate:        uint(cfg.Serve.Baud),
			DataBits:        8,
			StopBits:        1,
			MinimumReadSize: 1,
		})
		if err != nil {
			return fmt.Errorf("open %s: %w", cfg.Serve.Serial, err)
		}
		logger.Info("remote bitbang on serial line", "port", cfg.Serve.Serial, "baud", cfg.Serve.Baud)
		return srv.ServeConn(ctx, port)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Serve.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Serve.Listen, err)
	}
	return srv.Serve(ctx, ln)
}
