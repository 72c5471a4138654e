// Package jtagsim simulates JTAG targets at the pin level: TAP devices with
// IDCODE, BYPASS and APB access registers, a scan chain and probe that
// implement jtag.Pins, and the register-mapped JTAG master that implements
// jtag.RegisterBus on top of any pin backend.
package jtagsim

import (
	"github.com/OpenTraceLab/jtagapb/pkg/tap"
)

// Instruction opcodes of the simulated TAP.
const (
	IRLength     = 5
	IRBypass     = 0x1F
	IRIDCode     = 0x01
	IRAPBControl = 0x10
	IRAPBAccess  = 0x11

	// DefaultIDCode is reported by New devices.
	DefaultIDCode = 0xABCDE6E3

	apbAccessWidth = 50
)

// APB access status codes captured into the low two bits.
const (
	apbOK      = 0
	apbPending = 1
	apbError   = 3
)

type apbRequest struct {
	op      uint8
	addr    uint16
	data    uint32
	readyAt uint64
}

// Device is one TAP controller. TDO changes on the falling edge of TCK, so
// after Clock returns TDO presents the bit that the next rising edge shifts
// out.
type Device struct {
	idcode uint32
	bus    *Bus

	state   tap.State
	ir      uint8
	irShift uint8
	dr      uint64
	drWidth int
	tdo     bool

	control  uint32
	pending  *apbRequest
	lastAddr uint16
	lastData uint32
	status   uint8
	latency  uint64
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithIDCode sets the value captured by the IDCODE instruction. Zero gives
// a device without an IDCODE register, which selects BYPASS after reset.
func WithIDCode(code uint32) DeviceOption {
	return func(d *Device) { d.idcode = code }
}

// WithBus attaches an APB target behind the access register.
func WithBus(b *Bus) DeviceOption {
	return func(d *Device) { d.bus = b }
}

// WithLatency sets how many TCK cycles an APB transfer takes to complete.
func WithLatency(cycles int) DeviceOption {
	return func(d *Device) { d.latency = uint64(cycles) }
}

// NewDevice returns a device in Test-Logic-Reset.
func NewDevice(opts ...DeviceOption) *Device {
	d := &Device{idcode: DefaultIDCode, latency: 2}
	for _, opt := range opts {
		opt(d)
	}
	if d.bus == nil {
		d.bus = NewBus()
	}
	d.reset()
	return d
}

// State returns the controller state.
func (d *Device) State() tap.State { return d.state }

// Instruction returns the active instruction.
func (d *Device) Instruction() uint8 { return d.ir }

// Control returns the last value written to the APB control register.
func (d *Device) Control() uint32 { return d.control }

// Bus returns the APB target.
func (d *Device) Bus() *Bus { return d.bus }

// TDO returns the current output level.
func (d *Device) TDO() bool { return d.tdo }

func (d *Device) reset() {
	d.state = tap.StateTestLogicReset
	d.ir = d.resetInstruction()
	d.tdo = false
}

func (d *Device) resetInstruction() uint8 {
	if d.idcode == 0 {
		return IRBypass
	}
	return IRIDCode
}

// AsyncReset models TRST.
func (d *Device) AsyncReset() { d.reset() }

// Clock applies one full TCK cycle: rising edge actions for the current
// state, the state transition, then the falling edge update of TDO.
func (d *Device) Clock(tms, tdi bool) {
	switch d.state {
	case tap.StateCaptureIR:
		d.irShift = 0x01
	case tap.StateShiftIR:
		d.irShift >>= 1
		if tdi {
			d.irShift |= 1 << (IRLength - 1)
		}
	case tap.StateCaptureDR:
		d.captureDR()
	case tap.StateShiftDR:
		d.dr >>= 1
		if tdi {
			d.dr |= 1 << uint(d.drWidth-1)
		}
	}

	next := tap.NextState(d.state, tms)
	switch next {
	case tap.StateTestLogicReset:
		d.ir = d.resetInstruction()
	case tap.StateUpdateIR:
		d.ir = d.irShift & (1<<IRLength - 1)
	case tap.StateUpdateDR:
		d.updateDR()
	}
	d.state = next

	switch next {
	case tap.StateShiftIR:
		d.tdo = d.irShift&1 != 0
	case tap.StateShiftDR:
		d.tdo = d.dr&1 != 0
	default:
		d.tdo = false
	}
	d.Tick()
}

// Tick advances the APB side by one cycle without touching the TAP.
func (d *Device) Tick() {
	d.bus.tick()
	if d.pending != nil && d.bus.Cycles() >= d.pending.readyAt {
		d.complete()
	}
}

func (d *Device) selected() uint8 {
	switch d.ir {
	case IRIDCode:
		if d.idcode != 0 {
			return IRIDCode
		}
	case IRAPBControl, IRAPBAccess:
		return d.ir
	}
	return IRBypass
}

func (d *Device) captureDR() {
	switch d.selected() {
	case IRIDCode:
		d.dr, d.drWidth = uint64(d.idcode), 32
	case IRAPBControl:
		d.dr, d.drWidth = uint64(d.control), 32
	case IRAPBAccess:
		status := d.status
		if d.pending != nil {
			status = apbPending
		}
		d.dr = uint64(d.lastAddr)<<34 | uint64(d.lastData)<<2 | uint64(status)
		d.drWidth = apbAccessWidth
	default:
		d.dr, d.drWidth = 0, 1
	}
}

func (d *Device) updateDR() {
	switch d.selected() {
	case IRAPBControl:
		d.control = uint32(d.dr)
	case IRAPBAccess:
		op := uint8(d.dr & 3)
		if op != 1 && op != 2 {
			return
		}
		if d.pending != nil {
			// A request issued while busy is dropped and flagged.
			d.status = apbError
			return
		}
		d.pending = &apbRequest{
			op:      op,
			addr:    uint16(d.dr >> 34),
			data:    uint32(d.dr >> 2),
			readyAt: d.bus.Cycles() + d.latency,
		}
	}
}

func (d *Device) complete() {
	req := d.pending
	d.pending = nil
	d.lastAddr = req.addr
	d.status = apbOK
	if req.op == 2 {
		d.lastData = req.data
		if !d.bus.Write(req.addr, req.data) {
			d.status = apbError
		}
		return
	}
	v, ok := d.bus.Read(req.addr)
	if !ok {
		d.status = apbError
	}
	d.lastData = v
}
