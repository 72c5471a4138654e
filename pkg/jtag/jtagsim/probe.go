package jtagsim

import (
	"fmt"
	"sync"

	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
)

// Probe is a pin-level view of a scan chain and implements jtag.Pins.
// Devices are listed from TDO back towards TDI, so an IDCODE scan returns
// them in list order. An empty chain reads TDO low.
type Probe struct {
	mu sync.Mutex

	devices []*Device

	tms, tdi     bool
	clockEnabled bool
	trst, srst   bool
	led          bool
	stuck        *bool

	clocks uint64
}

// NewProbe connects devices into a chain.
func NewProbe(devices ...*Device) *Probe {
	return &Probe{devices: devices}
}

// NewSingle returns a probe with one default device.
func NewSingle(opts ...DeviceOption) (*Probe, *Device) {
	d := NewDevice(opts...)
	return NewProbe(d), d
}

// StickTDO forces TDO to a fixed level, modelling a shorted or floating
// line.
func (p *Probe) StickTDO(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stuck = &level
}

// Devices returns the chain.
func (p *Probe) Devices() []*Device { return p.devices }

// Clocks returns the number of TCK cycles delivered to the chain.
func (p *Probe) Clocks() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clocks
}

// ResetLevels reports the TRST and SRST lines.
func (p *Probe) ResetLevels() (trst, srst bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trst, p.srst
}

// LED reports the activity LED.
func (p *Probe) LED() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.led
}

func (p *Probe) Drive(sig jtag.Signal, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch sig {
	case jtag.SignalTCKEnable:
		p.clockEnabled = high
	case jtag.SignalTMS:
		p.tms = high
	case jtag.SignalTDI:
		p.tdi = high
	case jtag.SignalTRST:
		p.trst = high
		if high {
			for _, d := range p.devices {
				d.AsyncReset()
			}
		}
	case jtag.SignalSRST:
		p.srst = high
	case jtag.SignalLED:
		p.led = high
	default:
		return fmt.Errorf("%w: drive %s", jtag.ErrNotImplemented, sig)
	}
	return nil
}

func (p *Probe) Sample(sig jtag.Signal) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch sig {
	case jtag.SignalTDO:
		return p.tdo(), nil
	case jtag.SignalTMS:
		return p.tms, nil
	case jtag.SignalTDI:
		return p.tdi, nil
	case jtag.SignalTCKEnable:
		return p.clockEnabled, nil
	case jtag.SignalTRST:
		return p.trst, nil
	case jtag.SignalSRST:
		return p.srst, nil
	case jtag.SignalLED:
		return p.led, nil
	}
	return false, fmt.Errorf("%w: sample %s", jtag.ErrNotImplemented, sig)
}

func (p *Probe) tdo() bool {
	if p.stuck != nil {
		return *p.stuck
	}
	if len(p.devices) == 0 {
		return false
	}
	return p.devices[0].TDO()
}

func (p *Probe) Wait(cycles int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < cycles; i++ {
		if !p.clockEnabled || p.trst {
			for _, d := range p.devices {
				d.Tick()
			}
			continue
		}
		p.clock()
	}
	return nil
}

func (p *Probe) clock() {
	n := len(p.devices)
	// Every device samples its neighbour's TDO as it was before this edge.
	prev := make([]bool, n)
	for i, d := range p.devices {
		prev[i] = d.TDO()
	}
	for i, d := range p.devices {
		in := p.tdi
		if i+1 < n {
			in = prev[i+1]
		}
		d.Clock(p.tms, in)
	}
	p.clocks++
}
