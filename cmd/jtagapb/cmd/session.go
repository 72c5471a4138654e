package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/OpenTraceLab/jtagapb/pkg/apb"
	"github.com/OpenTraceLab/jtagapb/pkg/chain"
	"github.com/OpenTraceLab/jtagapb/pkg/config"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag/jtagsim"
)

// backendHandles is what a backend contributes: pins, a register bus, or
// both, plus whatever must be released afterwards.
type backendHandles struct {
	pins    jtag.Pins
	bus     jtag.RegisterBus
	closers []func() error
}

func (h *backendHandles) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	return errors.Join(errs...)
}

func registerMap(c config.Registers) jtag.RegisterMap {
	return jtag.RegisterMap{
		Base:     c.Base,
		Status:   c.Status,
		Tdo:      c.TDO,
		TdoClear: c.TDOClear,
		Data1:    c.Data1,
		Data2:    c.Data2,
		Data3:    c.Data3,
		Data4:    c.Data4,
	}
}

// openBackend opens the configured hardware. Pin backends also get a
// host-side register master so the register transports can run on them.
func openBackend(c config.Config) (*backendHandles, error) {
	h := &backendHandles{}
	switch c.Backend {
	case "sim":
		devices := make([]*jtagsim.Device, c.Sim.Devices)
		for i := range devices {
			devices[i] = jtagsim.NewDevice(jtagsim.WithIDCode(c.Sim.IDCode), jtagsim.WithLatency(c.Sim.Latency))
		}
		h.pins = jtagsim.NewProbe(devices...)
	case "cmsis-dap":
		p, err := jtag.OpenProbePins(c.CMSISDAP.VID, c.CMSISDAP.PID, c.CMSISDAP.SpeedHz)
		if err != nil {
			return nil, err
		}
		info := p.Info()
		logger.Info("probe connected", "vendor", info.Vendor, "model", info.Model, "firmware", info.Firmware)
		h.pins = p
		h.closers = append(h.closers, p.Close)
	case "gpio":
		p, err := jtag.OpenGPIOPins(jtag.GPIOConfig{
			TCK:        c.GPIO.TCK,
			TMS:        c.GPIO.TMS,
			TDI:        c.GPIO.TDI,
			TDO:        c.GPIO.TDO,
			TRST:       c.GPIO.TRST,
			SRST:       c.GPIO.SRST,
			LED:        c.GPIO.LED,
			HalfPeriod: time.Duration(c.GPIO.HalfPeriodNs) * time.Nanosecond,
			PullUpTDO:  c.GPIO.PullUpTDO,
		})
		if err != nil {
			return nil, err
		}
		h.pins = p
		h.closers = append(h.closers, p.Close)
	case "mmio":
		bus, err := jtag.OpenMMIO(c.MMIO.Device, c.MMIO.Offset, c.MMIO.Size)
		if err != nil {
			return nil, err
		}
		h.bus = bus
		h.closers = append(h.closers, bus.Close)
		return h, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
	return h, nil
}

// session is an open navigator with its APB client.
type session struct {
	*backendHandles
	nav *chain.Navigator
	apb *apb.Client
}

func openSession(c config.Config) (*session, error) {
	kind, err := jtag.ParseKind(c.Transport)
	if err != nil {
		return nil, err
	}
	h, err := openBackend(c)
	if err != nil {
		return nil, err
	}
	regs := registerMap(c.Registers)
	if kind != jtag.KindDirect && h.bus == nil {
		master, err := jtagsim.NewMaster(h.pins, regs)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.bus = master
	}
	if kind == jtag.KindDirect && h.pins == nil {
		h.Close()
		return nil, fmt.Errorf("backend %s has no pins; use the slow or fast transport", c.Backend)
	}
	x, err := jtag.New(kind, jtag.Options{Pins: h.pins, Bus: h.bus, Registers: regs})
	if err != nil {
		h.Close()
		return nil, err
	}
	logger.Debug("session open", "backend", c.Backend, "transport", kind)

	nav := chain.NewNavigator(x, chain.WithMaxDevices(c.MaxDevices), chain.WithLogger(logger))
	client := apb.NewClient(nav, apb.Config{
		IRLength:   c.APB.IRLength,
		AccessIR:   c.APB.AccessIR,
		ControlIR:  c.APB.ControlIR,
		SlowWait:   c.APB.SlowWait,
		SyncCycles: c.APB.SyncCycles,
		Logger:     logger,
	})
	return &session{backendHandles: h, nav: nav, apb: client}, nil
}
