// Package bitbang serves the remote-bitbang protocol used by OpenOCD's
// remote_bitbang driver. Each command is one byte; only 'R' produces a
// reply.
package bitbang

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
)

const (
	readChunk  = 4096
	queueDepth = 16
)

// Server bridges remote-bitbang clients to a pin backend.
type Server struct {
	pins   jtag.Pins
	logger *slog.Logger
	// mu serialises sessions on the pins.
	mu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer returns a server driving pins.
func NewServer(pins jtag.Pins, opts ...Option) *Server {
	s := &Server{pins: pins, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts clients one at a time until ctx is cancelled or the
// listener fails. It returns nil after cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ln = netutil.LimitListener(ln, 1)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("remote bitbang listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bitbang: accept: %w", err)
		}
		remote := conn.RemoteAddr().String()
		s.logger.Info("client connected", "remote", remote)
		if err := s.ServeConn(ctx, conn); err != nil {
			s.logger.Warn("session ended", "remote", remote, "err", err)
		} else {
			s.logger.Info("client disconnected", "remote", remote)
		}
	}
}

// ServeConn runs one session on conn and closes it when done. It returns
// nil when the client quits or hangs up.
func (s *Server) ServeConn(ctx context.Context, conn io.ReadWriteCloser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		closing   atomic.Bool
		closeOnce sync.Once
	)
	closeConn := func() {
		closeOnce.Do(func() {
			closing.Store(true)
			conn.Close()
		})
	}
	defer closeConn()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, closeConn)
	defer stop()

	inbound := make(chan []byte, queueDepth)
	outbound := make(chan []byte, queueDepth)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(inbound)
		for {
			buf := make([]byte, readChunk)
			n, err := conn.Read(buf)
			if n > 0 {
				select {
				case inbound <- buf[:n]:
				case <-done:
					return nil
				case <-gctx.Done():
					return nil
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || closing.Load() {
					return nil
				}
				return fmt.Errorf("bitbang: read: %w", err)
			}
		}
	})

	g.Go(func() error {
		defer close(outbound)
		defer close(done)
		p := &processor{pins: s.pins, logger: s.logger}
		if err := p.start(); err != nil {
			return err
		}
		for chunk := range inbound {
			reply, quit, err := p.run(chunk)
			if len(reply) > 0 {
				select {
				case outbound <- reply:
				case <-gctx.Done():
					return nil
				}
			}
			if err != nil || quit {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		// The connection is closed once every reply has been flushed, which
		// also unblocks the reader after a quit.
		defer closeConn()
		var pending []byte
		for chunk := range outbound {
			pending = append(pending, chunk...)
		drain:
			for {
				select {
				case more, ok := <-outbound:
					if !ok {
						break drain
					}
					pending = append(pending, more...)
				default:
					break drain
				}
			}
			for len(pending) > 0 {
				n, err := conn.Write(pending)
				if err != nil {
					if closing.Load() {
						return nil
					}
					return fmt.Errorf("bitbang: write: %w", err)
				}
				pending = pending[n:]
			}
		}
		return nil
	})

	return g.Wait()
}

// processor applies commands to the pins. TCK is not a pin of its own: a
// low to high transition is delivered as one clock.
type processor struct {
	pins   jtag.Pins
	logger *slog.Logger
	tck    bool
}

func (p *processor) start() error {
	return p.pins.Drive(jtag.SignalTCKEnable, true)
}

func (p *processor) run(chunk []byte) (reply []byte, quit bool, err error) {
	for _, c := range chunk {
		switch {
		case c >= '0' && c <= '7':
			v := c - '0'
			if err := p.drive(v&4 != 0, v&2 != 0, v&1 != 0); err != nil {
				return reply, false, err
			}
		case c == 'R':
			tdo, err := p.pins.Sample(jtag.SignalTDO)
			if err != nil {
				return reply, false, fmt.Errorf("bitbang: sample TDO: %w", err)
			}
			if tdo {
				reply = append(reply, '1')
			} else {
				reply = append(reply, '0')
			}
		case c >= 'r' && c <= 'u':
			v := c - 'r'
			if err := p.reset(jtag.SignalTRST, v&2 != 0); err != nil {
				return reply, false, err
			}
			if err := p.reset(jtag.SignalSRST, v&1 != 0); err != nil {
				return reply, false, err
			}
		case c == 'B' || c == 'b':
			if err := p.pins.Drive(jtag.SignalLED, c == 'B'); err != nil && !errors.Is(err, jtag.ErrNotImplemented) {
				return reply, false, err
			}
		case c == 'Q':
			return reply, true, nil
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
		default:
			p.logger.Warn("unknown remote bitbang command", "byte", fmt.Sprintf("%q", c))
		}
	}
	return reply, false, nil
}

// reset drives a reset line. Backends without the line ignore the request
// since clients send reset levels unconditionally.
func (p *processor) reset(sig jtag.Signal, high bool) error {
	err := p.pins.Drive(sig, high)
	if errors.Is(err, jtag.ErrNotImplemented) {
		p.logger.Debug("reset line not wired", "signal", sig.String(), "high", high)
		return nil
	}
	return err
}

func (p *processor) drive(tck, tms, tdi bool) error {
	if err := p.pins.Drive(jtag.SignalTMS, tms); err != nil {
		return err
	}
	if err := p.pins.Drive(jtag.SignalTDI, tdi); err != nil {
		return err
	}
	if tck && !p.tck {
		if err := p.pins.Wait(1); err != nil {
			return err
		}
	}
	p.tck = tck
	return nil
}
