package jtag

import "fmt"

// DirectPin drives the TAP by setting TMS/TDI and letting single clock
// cycles elapse on a Pins backend.
type DirectPin struct {
	pins Pins
}

// NewDirectPin wraps a pin backend.
func NewDirectPin(p Pins) *DirectPin {
	return &DirectPin{pins: p}
}

func (d *DirectPin) Kind() Kind { return KindDirect }

func (d *DirectPin) Reset() error {
	if err := d.pins.Drive(SignalTMS, true); err != nil {
		return fmt.Errorf("jtag: direct reset: %w", err)
	}
	if err := d.pins.Drive(SignalTDI, false); err != nil {
		return fmt.Errorf("jtag: direct reset: %w", err)
	}
	if err := d.pins.Drive(SignalTCKEnable, true); err != nil {
		return fmt.Errorf("jtag: direct reset: enable clock: %w", err)
	}
	return d.pins.Wait(5)
}

func (d *DirectPin) DriveTMS(tms []bool) error {
	if len(tms) == 0 {
		return nil
	}
	if err := d.pins.Drive(SignalTDI, false); err != nil {
		return err
	}
	for _, bit := range tms {
		if err := d.pins.Drive(SignalTMS, bit); err != nil {
			return err
		}
		if err := d.pins.Wait(1); err != nil {
			return err
		}
	}
	return nil
}

func (d *DirectPin) Shift(tdi []bool, lastTMS bool) ([]bool, error) {
	out := make([]bool, len(tdi))
	for i, bit := range tdi {
		if err := d.pins.Drive(SignalTMS, lastTMS && i == len(tdi)-1); err != nil {
			return nil, err
		}
		if err := d.pins.Drive(SignalTDI, bit); err != nil {
			return nil, err
		}
		tdo, err := d.pins.Sample(SignalTDO)
		if err != nil {
			return nil, fmt.Errorf("jtag: sample TDO at bit %d: %w", i, err)
		}
		out[i] = tdo
		if err := d.pins.Wait(1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Wait lets cycles TCK periods pass with the current TMS level. The caller
// is expected to have parked TMS low in Run-Test/Idle.
func (d *DirectPin) Wait(cycles int) error {
	if cycles <= 0 {
		return nil
	}
	return d.pins.Wait(cycles)
}
