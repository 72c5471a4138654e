// Package jtag moves TMS/TDI/TDO bit sequences between the host and a JTAG
// TAP. Three transports implement the same contract: DirectPin toggles
// individual pins, SlowRegister streams single-clock command bytes through a
// memory-mapped register block, and FastRegister hands whole words to the
// same block and lets the hardware clock them out.
package jtag

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a transport implementation.
type Kind uint8

const (
	KindDirect Kind = iota + 1
	KindSlowRegister
	KindFastRegister
)

var kindNames = map[Kind]string{
	KindDirect:       "direct",
	KindSlowRegister: "slow",
	KindFastRegister: "fast",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ErrUnknownKind is returned by ParseKind and New for unsupported names.
var ErrUnknownKind = errors.New("jtag: unknown transport kind")

// ParseKind maps a configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "direct", "pin", "pins":
		return KindDirect, nil
	case "slow", "slow-register":
		return KindSlowRegister, nil
	case "fast", "fast-register":
		return KindFastRegister, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Transport drives a TAP one bit per TCK cycle.
//
// Shift returns one TDO bit per TDI bit; TDO is sampled before the rising
// edge that clocks the corresponding TDI bit in, so out[i] is the bit the
// selected register presented while in[i] was being shifted. TMS is 0 for
// every shifted bit except the last, which uses lastTMS.
type Transport interface {
	Kind() Kind
	// Reset drives at least five TCK cycles with TMS=1.
	Reset() error
	// DriveTMS clocks one cycle per element with TDI held low.
	DriveTMS(tms []bool) error
	Shift(tdi []bool, lastTMS bool) ([]bool, error)
}

// Waiter is implemented by transports that can idle the TAP for a number of
// cycles without sending one TMS bit per cycle.
type Waiter interface {
	Wait(cycles int) error
}

// Options carries the backend a transport is built on. Direct transports
// need Pins, register transports need Bus.
type Options struct {
	Pins      Pins
	Bus       RegisterBus
	Registers RegisterMap
}

// New builds the transport named by kind.
func New(kind Kind, opts Options) (Transport, error) {
	switch kind {
	case KindDirect:
		if opts.Pins == nil {
			return nil, fmt.Errorf("jtag: %s transport needs a pin backend", kind)
		}
		return NewDirectPin(opts.Pins), nil
	case KindSlowRegister:
		if opts.Bus == nil {
			return nil, fmt.Errorf("jtag: %s transport needs a register bus", kind)
		}
		return NewSlowRegister(opts.Bus, opts.Registers), nil
	case KindFastRegister:
		if opts.Bus == nil {
			return nil, fmt.Errorf("jtag: %s transport needs a register bus", kind)
		}
		return NewFastRegister(opts.Bus, opts.Registers), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
}
