package jtag

import (
	"fmt"
	"sync"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// NoPin marks an optional GPIO line as not connected.
const NoPin = -1

var ignorePin = rpio.Pin(0xFF)

// GPIOConfig maps JTAG lines to BCM GPIO numbers. TRST, SRST and LED may be
// NoPin.
type GPIOConfig struct {
	TCK, TMS, TDI, TDO int
	TRST, SRST, LED    int
	// HalfPeriod is held after each TCK edge.
	HalfPeriod time.Duration
	PullUpTDO  bool
}

// GPIOPins bit-bangs JTAG on the Raspberry Pi header through /dev/gpiomem.
type GPIOPins struct {
	cfg GPIOConfig

	tck, tms, tdi, tdo rpio.Pin
	trst, srst, led    rpio.Pin
	clockEnabled       bool

	mu sync.Mutex
}

var gpioOpen sync.Mutex

// OpenGPIOPins maps the GPIO block and configures the pin directions. TCK
// idles low. Close releases the mapping.
func OpenGPIOPins(cfg GPIOConfig) (*GPIOPins, error) {
	for name, n := range map[string]int{"tck": cfg.TCK, "tms": cfg.TMS, "tdi": cfg.TDI, "tdo": cfg.TDO} {
		if n < 0 || n > 53 {
			return nil, fmt.Errorf("gpio: %s pin %d out of range", name, n)
		}
	}

	gpioOpen.Lock()
	defer gpioOpen.Unlock()
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: %w", err)
	}

	g := &GPIOPins{
		cfg: cfg,
		tck: rpio.Pin(cfg.TCK),
		tms: rpio.Pin(cfg.TMS),
		tdi: rpio.Pin(cfg.TDI),
		tdo: rpio.Pin(cfg.TDO),
	}
	g.tck.Output()
	g.tck.Low()
	g.tms.Output()
	g.tms.High()
	g.tdi.Output()
	g.tdi.Low()
	g.tdo.Input()
	if cfg.PullUpTDO {
		g.tdo.PullUp()
	} else {
		g.tdo.PullOff()
	}

	optional := func(n int, idle rpio.State) rpio.Pin {
		if n == NoPin {
			return ignorePin
		}
		p := rpio.Pin(n)
		p.Output()
		p.Write(idle)
		return p
	}
	// Reset lines are active low on the connector.
	g.trst = optional(cfg.TRST, rpio.High)
	g.srst = optional(cfg.SRST, rpio.High)
	g.led = optional(cfg.LED, rpio.Low)
	return g, nil
}

func (g *GPIOPins) write(p rpio.Pin, high bool) {
	if high {
		p.High()
	} else {
		p.Low()
	}
}

func (g *GPIOPins) writeOptional(sig Signal, p rpio.Pin, high bool) error {
	if p == ignorePin {
		return fmt.Errorf("%w: %s not wired", ErrNotImplemented, sig)
	}
	g.write(p, high)
	return nil
}

func (g *GPIOPins) Drive(sig Signal, high bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch sig {
	case SignalTCKEnable:
		g.clockEnabled = high
	case SignalTMS:
		g.write(g.tms, high)
	case SignalTDI:
		g.write(g.tdi, high)
	case SignalTRST:
		return g.writeOptional(sig, g.trst, !high)
	case SignalSRST:
		return g.writeOptional(sig, g.srst, !high)
	case SignalLED:
		return g.writeOptional(sig, g.led, high)
	default:
		return fmt.Errorf("%w: drive %s", ErrNotImplemented, sig)
	}
	return nil
}

func (g *GPIOPins) Sample(sig Signal) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch sig {
	case SignalTDO:
		return g.tdo.Read() == rpio.High, nil
	case SignalTMS:
		return g.tms.Read() == rpio.High, nil
	case SignalTDI:
		return g.tdi.Read() == rpio.High, nil
	case SignalTCKEnable:
		return g.clockEnabled, nil
	}
	return false, fmt.Errorf("%w: sample %s", ErrNotImplemented, sig)
}

// Wait pulses TCK high then low once per cycle. The rising edge clocks the
// TAP; the falling edge lets TDO change for the next sample.
func (g *GPIOPins) Wait(cycles int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := 0; i < cycles; i++ {
		if g.clockEnabled {
			g.tck.High()
		}
		time.Sleep(g.cfg.HalfPeriod)
		if g.clockEnabled {
			g.tck.Low()
		}
		time.Sleep(g.cfg.HalfPeriod)
	}
	return nil
}

// Close returns the lines to inputs and unmaps the GPIO block.
func (g *GPIOPins) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range []rpio.Pin{g.tck, g.tms, g.tdi} {
		p.Input()
	}
	gpioOpen.Lock()
	defer gpioOpen.Unlock()
	return rpio.Close()
}
