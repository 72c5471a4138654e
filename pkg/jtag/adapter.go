package jtag

import (
	"errors"
	"fmt"
)

// AdapterInfo describes a hardware backend as reported by the probe itself.
type AdapterInfo struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	MinFrequency int // Hertz
	MaxFrequency int // Hertz
	SupportsSRST bool
	SupportsTRST bool
	Notes        string
}

// ErrNotImplemented lets backends signal that a requested capability is not
// available, such as a reset line the probe does not wire out.
var ErrNotImplemented = errors.New("jtag: not implemented")

// Signal identifies one line a Pins backend can drive or sample.
type Signal uint8

const (
	SignalTCKEnable Signal = iota
	SignalTMS
	SignalTDI
	SignalTDO
	// SignalTRST and SignalSRST are driven high to assert the reset.
	SignalTRST
	SignalSRST
	SignalLED
)

var signalNames = [...]string{
	SignalTCKEnable: "TCK_EN",
	SignalTMS:       "TMS",
	SignalTDI:       "TDI",
	SignalTDO:       "TDO",
	SignalTRST:      "TRST",
	SignalSRST:      "SRST",
	SignalLED:       "LED",
}

func (s Signal) String() string {
	if int(s) < len(signalNames) {
		return signalNames[s]
	}
	return fmt.Sprintf("Signal(%d)", s)
}

// Pins is the lowest level backend: individual lines plus a free-running
// TCK that can be gated. Wait lets the given number of TCK cycles elapse;
// with the gate closed it only lets time pass.
//
// Backends return ErrNotImplemented (possibly wrapped) for signals they do
// not have.
type Pins interface {
	Drive(sig Signal, high bool) error
	Sample(sig Signal) (bool, error)
	Wait(cycles int) error
}
