package chain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
	"github.com/OpenTraceLab/jtagapb/pkg/chain"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag/jtagsim"
	"github.com/OpenTraceLab/jtagapb/pkg/tap"
)

func newNavigator(t *testing.T, probe *jtagsim.Probe, kind jtag.Kind, opts ...chain.Option) *chain.Navigator {
	t.Helper()
	o := jtag.Options{Pins: probe, Registers: jtag.DefaultRegisterMap()}
	if kind != jtag.KindDirect {
		master, err := jtagsim.NewMaster(probe, o.Registers)
		if err != nil {
			t.Fatalf("NewMaster: %v", err)
		}
		o.Bus = master
	}
	x, err := jtag.New(kind, o)
	if err != nil {
		t.Fatalf("New(%s): %v", kind, err)
	}
	return chain.NewNavigator(x, opts...)
}

var kinds = []jtag.Kind{jtag.KindDirect, jtag.KindSlowRegister, jtag.KindFastRegister}

func TestReadIDCodes(t *testing.T) {
	tests := []struct {
		name  string
		probe func() *jtagsim.Probe
		want  []uint32
	}{
		{"single", func() *jtagsim.Probe { p, _ := jtagsim.NewSingle(); return p }, []uint32{jtagsim.DefaultIDCode}},
		{"empty", func() *jtagsim.Probe { return jtagsim.NewProbe() }, nil},
		{"two", func() *jtagsim.Probe {
			return jtagsim.NewProbe(
				jtagsim.NewDevice(jtagsim.WithIDCode(0x4BA00477)),
				jtagsim.NewDevice(),
			)
		}, []uint32{0x4BA00477, jtagsim.DefaultIDCode}},
		{"bypass first", func() *jtagsim.Probe {
			return jtagsim.NewProbe(jtagsim.NewDevice(jtagsim.WithIDCode(0)), jtagsim.NewDevice())
		}, nil},
	}
	for _, kind := range kinds {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s/%s", kind, tt.name), func(t *testing.T) {
				nav := newNavigator(t, tt.probe(), kind)
				got, err := nav.ReadIDCodes()
				if err != nil {
					t.Fatalf("ReadIDCodes: %v", err)
				}
				if fmt.Sprint(got) != fmt.Sprint(tt.want) {
					t.Fatalf("codes = %x, want %x", got, tt.want)
				}
				if nav.State() != tap.StateRunTestIdle {
					t.Fatalf("state after scan = %s", nav.State())
				}
			})
		}
	}
}

func TestReadIDCodesStuckTDO(t *testing.T) {
	probe, _ := jtagsim.NewSingle()
	probe.StickTDO(true)
	nav := newNavigator(t, probe, jtag.KindDirect, chain.WithMaxDevices(4))
	codes, err := nav.ReadIDCodes()
	if !errors.Is(err, chain.ErrChainNotTerminated) {
		t.Fatalf("err = %v, want ErrChainNotTerminated", err)
	}
	if len(codes) != 4 {
		t.Fatalf("got %d codes before giving up", len(codes))
	}
}

// exitFailTransport fails every DriveTMS after the first one.
type exitFailTransport struct {
	jtag.Transport
	calls *int
}

var errExit = errors.New("TMS write timed out")

func (x exitFailTransport) DriveTMS(tms []bool) error {
	*x.calls++
	if *x.calls > 1 {
		return errExit
	}
	return x.Transport.DriveTMS(tms)
}

func TestReadIDCodesStuckTDOExitError(t *testing.T) {
	probe, _ := jtagsim.NewSingle()
	probe.StickTDO(true)
	var calls int
	nav := chain.NewNavigator(exitFailTransport{jtag.NewDirectPin(probe), &calls}, chain.WithMaxDevices(2))
	codes, err := nav.ReadIDCodes()
	if !errors.Is(err, chain.ErrChainNotTerminated) || !errors.Is(err, errExit) {
		t.Fatalf("err = %v, want both the scan limit and the exit failure", err)
	}
	if len(codes) != 2 {
		t.Fatalf("got %d codes before giving up", len(codes))
	}
	if nav.Known() {
		t.Fatalf("state should be unknown after the failed exit")
	}
}

func TestGoTo(t *testing.T) {
	probe, dev := jtagsim.NewSingle()
	nav := newNavigator(t, probe, jtag.KindDirect)
	if err := nav.GoTo(tap.StatePauseDR); !errors.Is(err, chain.ErrProtocol) {
		t.Fatalf("GoTo before reset = %v, want ErrProtocol", err)
	}
	if err := nav.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	for _, target := range []tap.State{tap.StatePauseDR, tap.StateShiftIR, tap.StateUpdateIR, tap.StateRunTestIdle} {
		if err := nav.GoTo(target); err != nil {
			t.Fatalf("GoTo(%s): %v", target, err)
		}
		if nav.State() != target || dev.State() != target {
			t.Fatalf("GoTo(%s): navigator %s, device %s", target, nav.State(), dev.State())
		}
	}

	// Shift-DR reached by GoTo shifts like the scan path does.
	if err := nav.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := nav.GoTo(tap.StateShiftDR); err != nil {
		t.Fatalf("GoTo(ShiftDR): %v", err)
	}
	out, err := nav.Shift(make(bitvec.Vector, 32), true)
	if err != nil {
		t.Fatalf("Shift: %v", err)
	}
	if got := out.MustValue(); got != jtagsim.DefaultIDCode {
		t.Fatalf("IDCODE = %#x", got)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	probe, dev := jtagsim.NewSingle()
	nav := newNavigator(t, probe, jtag.KindDirect)
	for i := 0; i < 2; i++ {
		if err := nav.Reset(); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		if !nav.Known() || nav.State() != tap.StateTestLogicReset {
			t.Fatalf("tracked state after reset %d = %s", i, nav.State())
		}
		if dev.State() != tap.StateTestLogicReset {
			t.Fatalf("device state after reset %d = %s", i, dev.State())
		}
	}
}

func TestProtocolViolations(t *testing.T) {
	probe, _ := jtagsim.NewSingle()
	nav := newNavigator(t, probe, jtag.KindDirect)

	if _, err := nav.WriteDR(bitvec.FromValue(0, 32)); !errors.Is(err, chain.ErrProtocol) {
		t.Fatalf("WriteDR before reset: %v", err)
	}
	if probe.Clocks() != 0 {
		t.Fatalf("a rejected operation clocked the TAP")
	}
	if err := nav.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := nav.Shift(bitvec.Vector{true}, false); !errors.Is(err, chain.ErrProtocol) {
		t.Fatalf("Shift from reset: %v", err)
	}
	if err := nav.DriveTMS([]bool{false, true, false, false}); err != nil {
		t.Fatalf("DriveTMS: %v", err)
	}
	if nav.State() != tap.StateShiftDR {
		t.Fatalf("state = %s", nav.State())
	}
	if _, err := nav.WriteIR(bitvec.FromValue(jtagsim.IRBypass, 5)); !errors.Is(err, chain.ErrProtocol) {
		t.Fatalf("WriteIR from Shift-DR: %v", err)
	}
	if err := nav.Idle(3); !errors.Is(err, chain.ErrProtocol) {
		t.Fatalf("Idle from Shift-DR: %v", err)
	}
	if _, err := nav.Shift(nil, false); !errors.Is(err, chain.ErrEmptyShift) {
		t.Fatalf("empty shift: %v", err)
	}
}

func TestBypassThroughNavigator(t *testing.T) {
	in := bitvec.FromValue(0xAAAAAAAAAAAAAAAA, 65)
	for _, kind := range kinds {
		for _, ir := range []uint64{0x1f, 0x00} {
			probe, _ := jtagsim.NewSingle()
			nav := newNavigator(t, probe, kind)
			if err := nav.Reset(); err != nil {
				t.Fatalf("Reset: %v", err)
			}
			capture, err := nav.WriteIR(bitvec.FromValue(ir, jtagsim.IRLength))
			if err != nil {
				t.Fatalf("WriteIR: %v", err)
			}
			if capture.MustValue()&3 != 1 {
				t.Fatalf("IR capture = %s", capture)
			}
			out, err := nav.WriteDR(in)
			if err != nil {
				t.Fatalf("WriteDR: %v", err)
			}
			if out[0] || !out[1:].Equal(in[:len(in)-1]) {
				t.Fatalf("%s ir=%#x: out %s\n in %s", kind, ir, out, in)
			}
		}
	}
}

func TestIdleUsesTransportWait(t *testing.T) {
	probe, dev := jtagsim.NewSingle()
	nav := newNavigator(t, probe, jtag.KindDirect)
	if err := nav.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := nav.Idle(1); err != nil {
		t.Fatalf("Idle: %v", err)
	}
	before := probe.Clocks()
	if err := nav.Idle(100); err != nil {
		t.Fatalf("Idle: %v", err)
	}
	if got := probe.Clocks() - before; got != 100 {
		t.Fatalf("Idle(100) clocked %d cycles", got)
	}
	if nav.State() != tap.StateRunTestIdle || dev.State() != tap.StateRunTestIdle {
		t.Fatalf("states after idle: tracked %s, device %s", nav.State(), dev.State())
	}
}

type brokenTransport struct{ jtag.Transport }

func (brokenTransport) Shift([]bool, bool) ([]bool, error) { return nil, errors.New("cable unplugged") }

func TestTransportErrorForgetsState(t *testing.T) {
	probe, _ := jtagsim.NewSingle()
	nav := chain.NewNavigator(brokenTransport{jtag.NewDirectPin(probe)})
	if err := nav.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := nav.WriteDR(bitvec.FromValue(0, 8)); err == nil {
		t.Fatalf("expected shift error")
	}
	if nav.Known() {
		t.Fatalf("state should be unknown after a failed shift")
	}
	if err := nav.Reset(); err != nil || !nav.Known() {
		t.Fatalf("Reset should recover: %v", err)
	}
}

func TestDiscover(t *testing.T) {
	probe := jtagsim.NewProbe(jtagsim.NewDevice(), jtagsim.NewDevice(jtagsim.WithIDCode(0x12345001)))
	nav := newNavigator(t, probe, jtag.KindFastRegister)
	devices, err := nav.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("found %d devices", len(devices))
	}
	if devices[0].Part == nil || devices[0].Name() != "APB-JTAG bridge" || !devices[0].Known {
		t.Fatalf("first device = %+v", devices[0])
	}
	if devices[1].Part != nil || devices[1].Position != 1 || devices[1].IDCode.Raw != 0x12345001 {
		t.Fatalf("second device = %+v", devices[1])
	}
}
