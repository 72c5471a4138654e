// Package chain walks a JTAG scan chain through a jtag.Transport while
// tracking the TAP controller state on the host side. It refuses
// operations that would desynchronise the tracked state from the target.
package chain

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
	"github.com/OpenTraceLab/jtagapb/pkg/tap"
)

var (
	// ErrProtocol is returned when an operation is attempted from a TAP
	// state that does not allow it. Nothing is sent to the transport.
	ErrProtocol = errors.New("chain: TAP protocol violation")
	// ErrEmptyShift is returned for zero-length shifts.
	ErrEmptyShift = errors.New("chain: empty shift")
	// ErrChainNotTerminated is returned when an IDCODE scan keeps finding
	// devices past the configured maximum, usually a TDO stuck high.
	ErrChainNotTerminated = errors.New("chain: IDCODE scan did not terminate")
)

// DefaultMaxDevices bounds IDCODE scans.
const DefaultMaxDevices = 32

// Scan entry paths start from Test-Logic-Reset; entered from
// Run-Test/Idle the leading zero is one extra idle clock.
var (
	tmsIdleToShiftIR = mustPath(tap.StateTestLogicReset, tap.StateShiftIR)
	tmsIdleToShiftDR = mustPath(tap.StateTestLogicReset, tap.StateShiftDR)
	tmsExit1ToIdle   = mustPath(tap.StateExit1DR, tap.StateRunTestIdle)
	tmsShiftToIdle   = mustPath(tap.StateShiftDR, tap.StateRunTestIdle)
)

func mustPath(from, to tap.State) []bool {
	seq, err := tap.Path(from, to)
	if err != nil {
		panic(err)
	}
	return seq.TMS
}

// Navigator owns a transport and the host's model of the TAP state. It is
// not safe for concurrent use.
type Navigator struct {
	xport      jtag.Transport
	tap        *tap.StateMachine
	maxDevices int
	logger     *slog.Logger
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithMaxDevices sets the IDCODE scan limit.
func WithMaxDevices(n int) Option {
	return func(n2 *Navigator) {
		if n > 0 {
			n2.maxDevices = n
		}
	}
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(l *slog.Logger) Option {
	return func(n *Navigator) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNavigator wraps a transport. The TAP state is unknown until Reset.
func NewNavigator(x jtag.Transport, opts ...Option) *Navigator {
	n := &Navigator{
		xport:      x,
		tap:        tap.NewUnknownStateMachine(),
		maxDevices: DefaultMaxDevices,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Transport returns the underlying transport.
func (n *Navigator) Transport() jtag.Transport { return n.xport }

// State returns the tracked TAP state. It is only meaningful when Known
// reports true.
func (n *Navigator) State() tap.State { return n.tap.State() }

// Known reports whether the TAP state has been established.
func (n *Navigator) Known() bool { return n.tap.Known() }

// Clocks returns the number of TCK cycles issued through the navigator.
func (n *Navigator) Clocks() uint64 { return n.tap.Clocks() }

// lost forgets the TAP state after a transport failure; only Reset
// recovers from it.
func (n *Navigator) lost(err error) error {
	n.tap = tap.NewUnknownStateMachine()
	return err
}

func (n *Navigator) require(op string, allowed ...tap.State) error {
	if err := n.tap.Require(allowed...); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProtocol, op, err)
	}
	return nil
}

// Reset drives the TAP into Test-Logic-Reset. It is valid from any state,
// including unknown.
func (n *Navigator) Reset() error {
	if err := n.xport.Reset(); err != nil {
		return n.lost(fmt.Errorf("chain: reset: %w", err))
	}
	n.tap.Reset()
	n.logger.Debug("tap reset", "transport", n.xport.Kind())
	return nil
}

// DriveTMS clocks a raw TMS sequence. The tracked state follows the
// sequence; in an unknown state it becomes known after five ones.
func (n *Navigator) DriveTMS(tms []bool) error {
	if len(tms) == 0 {
		return nil
	}
	if err := n.xport.DriveTMS(tms); err != nil {
		return n.lost(fmt.Errorf("chain: drive TMS: %w", err))
	}
	n.tap.ClockAll(tms)
	return nil
}

// Shift shifts bits through the selected register from Shift-IR or
// Shift-DR and returns one TDO bit per input bit. With lastTMS the TAP
// leaves to Exit1 on the final bit.
func (n *Navigator) Shift(bits bitvec.Vector, lastTMS bool) (bitvec.Vector, error) {
	if len(bits) == 0 {
		return nil, ErrEmptyShift
	}
	if err := n.require("shift", tap.StateShiftIR, tap.StateShiftDR); err != nil {
		return nil, err
	}
	out, err := n.xport.Shift(bits, lastTMS)
	if err != nil {
		return nil, n.lost(fmt.Errorf("chain: shift %d bits: %w", len(bits), err))
	}
	if len(out) != len(bits) {
		return nil, n.lost(fmt.Errorf("chain: transport returned %d bits for %d", len(out), len(bits)))
	}
	for i := 0; i < len(bits)-1; i++ {
		n.tap.Clock(false)
	}
	n.tap.Clock(lastTMS)
	return out, nil
}

func (n *Navigator) scan(op string, toShift []bool, bits bitvec.Vector) (bitvec.Vector, error) {
	if len(bits) == 0 {
		return nil, ErrEmptyShift
	}
	if err := n.require(op, tap.StateTestLogicReset, tap.StateRunTestIdle); err != nil {
		return nil, err
	}
	if err := n.DriveTMS(toShift); err != nil {
		return nil, err
	}
	out, err := n.Shift(bits, true)
	if err != nil {
		return nil, err
	}
	if err := n.DriveTMS(tmsExit1ToIdle); err != nil {
		return nil, err
	}
	n.logger.Debug(op, "in", bits.String(), "out", out.String())
	return out, nil
}

// WriteIR loads an instruction from Test-Logic-Reset or Run-Test/Idle and
// returns to Run-Test/Idle. The returned bits are the IR capture values.
func (n *Navigator) WriteIR(bits bitvec.Vector) (bitvec.Vector, error) {
	return n.scan("write IR", tmsIdleToShiftIR, bits)
}

// WriteDR shifts the selected data register from Test-Logic-Reset or
// Run-Test/Idle and returns to Run-Test/Idle with the captured bits.
func (n *Navigator) WriteDR(bits bitvec.Vector) (bitvec.Vector, error) {
	return n.scan("write DR", tmsIdleToShiftDR, bits)
}

// GoTo moves the TAP to target along the shortest TMS path. It needs a
// known state; entering Shift-IR or Shift-DR this way leaves the shift to
// the caller.
func (n *Navigator) GoTo(target tap.State) error {
	if !n.tap.Known() {
		return fmt.Errorf("%w: goto %s: %v", ErrProtocol, target, tap.ErrUnknownState)
	}
	seq, err := n.tap.GoTo(target)
	if err != nil {
		return fmt.Errorf("chain: goto %s: %w", target, err)
	}
	if len(seq.TMS) == 0 {
		return nil
	}
	if err := n.xport.DriveTMS(seq.TMS); err != nil {
		return n.lost(fmt.Errorf("chain: goto %s: %w", target, err))
	}
	return nil
}

// Idle clocks the TAP with TMS=0, ending in Run-Test/Idle.
func (n *Navigator) Idle(cycles int) error {
	if cycles <= 0 {
		return nil
	}
	if err := n.require("idle", tap.StateTestLogicReset, tap.StateRunTestIdle); err != nil {
		return err
	}
	// TMS is parked low once the TAP sits in Run-Test/Idle, so a
	// free-running wait is equivalent to clocking zeros.
	if w, ok := n.xport.(jtag.Waiter); ok && n.tap.State() == tap.StateRunTestIdle {
		if err := w.Wait(cycles); err != nil {
			return n.lost(fmt.Errorf("chain: idle: %w", err))
		}
		n.tap.ClockAll(make([]bool, cycles))
		return nil
	}
	return n.DriveTMS(make([]bool, cycles))
}

// ReadIDCodes resets the chain and reads every IDCODE in shift order. A
// device is detected by the first bit it presents: IDCODE registers
// capture a 1 in bit 0, bypass registers and an open chain read 0. The TAP
// ends in Run-Test/Idle.
func (n *Navigator) ReadIDCodes() ([]uint32, error) {
	if err := n.Reset(); err != nil {
		return nil, err
	}
	if err := n.DriveTMS(tmsIdleToShiftDR); err != nil {
		return nil, err
	}

	var codes []uint32
	for {
		first, err := n.Shift(bitvec.Vector{false}, false)
		if err != nil {
			return nil, err
		}
		if !first[0] {
			break
		}
		if len(codes) == n.maxDevices {
			err := fmt.Errorf("%w after %d devices", ErrChainNotTerminated, n.maxDevices)
			return codes, errors.Join(err, n.DriveTMS(tmsShiftToIdle))
		}
		rest, err := n.Shift(make(bitvec.Vector, 31), false)
		if err != nil {
			return nil, err
		}
		codes = append(codes, uint32(bitvec.Concat(first, rest).MustValue()))
	}
	if err := n.DriveTMS(tmsShiftToIdle); err != nil {
		return nil, err
	}
	n.logger.Debug("idcode scan", "devices", len(codes))
	return codes, nil
}
