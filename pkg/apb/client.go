package apb

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
)

// Scanner is the subset of chain.Navigator the client needs.
type Scanner interface {
	WriteIR(bits bitvec.Vector) (bitvec.Vector, error)
	WriteDR(bits bitvec.Vector) (bitvec.Vector, error)
	Idle(cycles int) error
}

// Config describes the bridge's instruction set and timing.
type Config struct {
	IRLength  int
	AccessIR  uint64
	ControlIR uint64
	// SlowWait is the number of idle clocks between a slow read request
	// and the scan that collects its result.
	SlowWait int
	// SyncCycles idle clocks are inserted before every data register scan.
	SyncCycles int
	Logger     *slog.Logger
}

// DefaultConfig matches the reference bridge.
func DefaultConfig() Config {
	return Config{
		IRLength:  5,
		AccessIR:  0x11,
		ControlIR: 0x10,
		SlowWait:  100,
	}
}

// Client issues APB transfers through a scanner. It remembers the request
// in flight so results can be attributed to it.
type Client struct {
	s        Scanner
	cfg      Config
	logger   *slog.Logger
	selected bool
	prev     *Request
}

// NewClient returns a client. Zero fields in cfg take their defaults.
func NewClient(s Scanner, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.IRLength == 0 {
		cfg.IRLength = def.IRLength
	}
	if cfg.AccessIR == 0 {
		cfg.AccessIR = def.AccessIR
	}
	if cfg.ControlIR == 0 {
		cfg.ControlIR = def.ControlIR
	}
	if cfg.SlowWait == 0 {
		cfg.SlowWait = def.SlowWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{s: s, cfg: cfg, logger: logger}
}

// SelectAccess loads the access instruction.
func (c *Client) SelectAccess() error {
	if _, err := c.s.WriteIR(bitvec.FromValue(c.cfg.AccessIR, c.cfg.IRLength)); err != nil {
		return fmt.Errorf("apb: select access register: %w", err)
	}
	c.selected = true
	return nil
}

// WriteControl loads the control instruction and writes v to the 32-bit
// control register. The next transfer reselects the access register.
func (c *Client) WriteControl(v uint32) error {
	c.selected = false
	if _, err := c.s.WriteIR(bitvec.FromValue(c.cfg.ControlIR, c.cfg.IRLength)); err != nil {
		return fmt.Errorf("apb: select control register: %w", err)
	}
	if err := c.sync(); err != nil {
		return err
	}
	if _, err := c.s.WriteDR(bitvec.FromValue(uint64(v), 32)); err != nil {
		return fmt.Errorf("apb: write control: %w", err)
	}
	c.logger.Debug("apb control", "value", fmt.Sprintf("%#08x", v))
	return nil
}

func (c *Client) sync() error {
	if c.cfg.SyncCycles <= 0 {
		return nil
	}
	return c.s.Idle(c.cfg.SyncCycles)
}

// scan issues req and returns what the access register captured, which
// describes the previous request.
func (c *Client) scan(req Request) (Response, error) {
	if !c.selected {
		if err := c.SelectAccess(); err != nil {
			return Response{}, err
		}
	}
	if err := c.sync(); err != nil {
		return Response{}, err
	}
	out, err := c.s.WriteDR(Encode(req))
	if err != nil {
		return Response{}, fmt.Errorf("apb: %s scan: %w", req.Op, err)
	}
	resp, err := Decode(out)
	if err != nil {
		return Response{}, err
	}
	prev := c.prev
	if req.Op != OpNone {
		c.prev = &req
	}
	if resp.Status != StatusOK && prev != nil {
		return resp, &TransactionError{Op: prev.Op, Address: prev.Address, Status: resp.Status}
	}
	return resp, nil
}

// Write requests a write of data to addr. The returned response is the
// result of the request before it.
func (c *Client) Write(addr uint16, data uint32) (Response, error) {
	c.logger.Debug("apb write", "addr", fmt.Sprintf("%#04x", addr), "data", fmt.Sprintf("%#08x", data))
	return c.scan(Request{Op: OpWrite, Address: addr, Data: data})
}

// ReadPipelined requests a read of addr and returns the result of the
// previous request, which for a run of reads is the previous address.
func (c *Client) ReadPipelined(addr uint16) (Response, error) {
	return c.scan(Request{Op: OpRead, Address: addr})
}

// Poll scans without issuing a request and returns the result of the last
// one.
func (c *Client) Poll() (Response, error) {
	return c.scan(Request{Op: OpNone})
}

// ReadSlow requests a read, waits SlowWait clocks, then collects the
// result with a poll.
func (c *Client) ReadSlow(addr uint16) (uint32, error) {
	if _, err := c.scan(Request{Op: OpRead, Address: addr}); err != nil {
		return 0, err
	}
	if err := c.s.Idle(c.cfg.SlowWait); err != nil {
		return 0, fmt.Errorf("apb: wait for read: %w", err)
	}
	resp, err := c.Poll()
	if err != nil {
		return 0, err
	}
	c.logger.Debug("apb read", "addr", fmt.Sprintf("%#04x", addr), "data", fmt.Sprintf("%#08x", resp.Data))
	return resp.Data, nil
}
