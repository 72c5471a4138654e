package jtag_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag/jtagsim"
)

type simTarget struct {
	x      jtag.Transport
	probe  *jtagsim.Probe
	dev    *jtagsim.Device
	master *jtagsim.Master
}

func newSimTarget(t *testing.T, kind jtag.Kind) simTarget {
	t.Helper()
	probe, dev := jtagsim.NewSingle()
	regs := jtag.DefaultRegisterMap()
	regs.Base = 0x4000
	opts := jtag.Options{Pins: probe, Registers: regs}
	var master *jtagsim.Master
	if kind != jtag.KindDirect {
		var err error
		master, err = jtagsim.NewMaster(probe, regs)
		if err != nil {
			t.Fatalf("NewMaster: %v", err)
		}
		opts.Bus = master
	}
	x, err := jtag.New(kind, opts)
	if err != nil {
		t.Fatalf("New(%s): %v", kind, err)
	}
	return simTarget{x: x, probe: probe, dev: dev, master: master}
}

var allKinds = []jtag.Kind{jtag.KindDirect, jtag.KindSlowRegister, jtag.KindFastRegister}

// pattern returns a deterministic pseudo-random vector.
func pattern(seed uint32, n int) bitvec.Vector {
	v := make(bitvec.Vector, n)
	x := seed | 1
	for i := range v {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		v[i] = x&1 != 0
	}
	return v
}

// runScript drives a fixed sequence of scans and returns every TDO bit.
func runScript(t *testing.T, x jtag.Transport) bitvec.Vector {
	t.Helper()
	var all bitvec.Vector
	if err := x.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := x.DriveTMS([]bool{false}); err != nil {
		t.Fatalf("DriveTMS: %v", err)
	}
	for i, width := range []int{1, 31, 32, 33, 64, 65, 100} {
		for _, last := range []bool{false, true} {
			if err := x.DriveTMS([]bool{true, false, false}); err != nil {
				t.Fatalf("DriveTMS: %v", err)
			}
			out, err := x.Shift(pattern(uint32(i*7+width), width), last)
			if err != nil {
				t.Fatalf("Shift(%d, %v): %v", width, last, err)
			}
			if len(out) != width {
				t.Fatalf("Shift(%d) returned %d bits", width, len(out))
			}
			all = append(all, out...)
			exit := []bool{true, true, false}
			if last {
				exit = []bool{true, false}
			}
			if err := x.DriveTMS(exit); err != nil {
				t.Fatalf("DriveTMS: %v", err)
			}
		}
	}
	return all
}

func TestTransportsAreEquivalent(t *testing.T) {
	var ref bitvec.Vector
	var refClocks uint64
	for _, kind := range allKinds {
		target := newSimTarget(t, kind)
		got := runScript(t, target.x)
		if ref == nil {
			ref, refClocks = got, target.probe.Clocks()
			continue
		}
		if !got.Equal(ref) {
			t.Fatalf("%s TDO differs from %s", kind, allKinds[0])
		}
		if c := target.probe.Clocks(); c != refClocks {
			t.Fatalf("%s clocked %d cycles, direct clocked %d", kind, c, refClocks)
		}
	}
	// The first 32 bits out of the first scan with more than 32 bits are
	// the IDCODE.
	if idc := ref[1+1+31+31+32+32 : 1+1+31+31+32+32+32].MustValue(); idc != jtagsim.DefaultIDCode {
		t.Fatalf("IDCODE in stream = %#x", idc)
	}
}

func TestTransportBypassRoundTrip(t *testing.T) {
	patterns := map[string]bitvec.Vector{
		"zeros":       bitvec.Repeat(false, 65),
		"ones":        bitvec.Repeat(true, 65),
		"alternating": bitvec.FromValue(0xAAAAAAAAAAAAAAAA, 65),
		"width 64":    pattern(99, 64),
	}
	for _, kind := range allKinds {
		for _, ir := range []uint64{0x1f, 0x00} {
			for name, in := range patterns {
				t.Run(fmt.Sprintf("%s/ir%02x/%s", kind, ir, name), func(t *testing.T) {
					target := newSimTarget(t, kind)
					x := target.x
					if err := x.Reset(); err != nil {
						t.Fatalf("Reset: %v", err)
					}
					x.DriveTMS([]bool{false, true, true, false, false})
					if _, err := x.Shift(bitvec.FromValue(ir, 5), true); err != nil {
						t.Fatalf("Shift IR: %v", err)
					}
					x.DriveTMS([]bool{true, false, false, true, false, false})
					out, err := x.Shift(in, true)
					if err != nil {
						t.Fatalf("Shift DR: %v", err)
					}
					x.DriveTMS([]bool{true, false})
					if out[0] {
						t.Fatalf("bypass should present 0 first")
					}
					if !bitvec.Vector(out[1:]).Equal(in[:len(in)-1]) {
						t.Fatalf("bypass out %s\n in %s", bitvec.Vector(out), in)
					}
				})
			}
		}
	}
}

func TestRegisterTransportsUseFewerTransactions(t *testing.T) {
	counts := map[jtag.Kind]int{}
	for _, kind := range []jtag.Kind{jtag.KindSlowRegister, jtag.KindFastRegister} {
		target := newSimTarget(t, kind)
		runScript(t, target.x)
		r, w := target.master.Transactions()
		counts[kind] = r + w
	}
	if counts[jtag.KindFastRegister]*4 > counts[jtag.KindSlowRegister] {
		t.Fatalf("fast used %d transactions, slow %d", counts[jtag.KindFastRegister], counts[jtag.KindSlowRegister])
	}
}

// recordingBus logs writes and replays queued reads.
type recordingBus struct {
	writes []string
	reads  []uint32
	status uint32
}

func (b *recordingBus) WriteRegister(addr, value uint32) error {
	b.writes = append(b.writes, fmt.Sprintf("%02x=%x", addr, value))
	return nil
}

func (b *recordingBus) ReadRegister(addr uint32) (uint32, error) {
	if addr == 0x00 {
		return b.status, nil
	}
	b.writes = append(b.writes, fmt.Sprintf("%02x?", addr))
	if len(b.reads) == 0 {
		return 0, nil
	}
	v := b.reads[0]
	b.reads = b.reads[1:]
	return v, nil
}

func TestSlowRegisterEncoding(t *testing.T) {
	bus := &recordingBus{status: 2, reads: []uint32{0x80000000}}
	x := jtag.NewSlowRegister(bus, jtag.DefaultRegisterMap())

	if err := x.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := x.DriveTMS([]bool{true, false}); err != nil {
		t.Fatalf("DriveTMS: %v", err)
	}
	out, err := x.Shift([]bool{true, false}, true)
	if err != nil {
		t.Fatalf("Shift: %v", err)
	}
	want := []string{"1c=36363636", "10=36", "10=36", "10=34", "10=52", "10=35", "10=52", "10=36", "0c?"}
	if fmt.Sprint(bus.writes) != fmt.Sprint(want) {
		t.Fatalf("writes = %v\nwant     %v", bus.writes, want)
	}
	if bitvec.Vector(out).String() != "01" {
		t.Fatalf("TDO = %s, want 01", bitvec.Vector(out))
	}

	bus.status = 1
	if _, err := x.Shift([]bool{true, true}, false); !errors.Is(err, jtag.ErrBitsValid) {
		t.Fatalf("short capture error = %v, want ErrBitsValid", err)
	}
}

func TestFastRegisterEncoding(t *testing.T) {
	bus := &recordingBus{reads: []uint32{0xA0000000, 0x80000000}}
	x := jtag.NewFastRegister(bus, jtag.DefaultRegisterMap())

	if err := x.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := x.DriveTMS([]bool{false, true, false, false}); err != nil {
		t.Fatalf("DriveTMS: %v", err)
	}
	in := append(bitvec.Repeat(true, 32), false)
	out, err := x.Shift(in, true)
	if err != nil {
		t.Fatalf("Shift: %v", err)
	}
	want := []string{"10=81", "18=2", "10=8c", "18=ffffffff", "10=fe", "0c?", "18=0", "10=83", "0c?"}
	if fmt.Sprint(bus.writes) != fmt.Sprint(want) {
		t.Fatalf("writes = %v\nwant     %v", bus.writes, want)
	}
	// 0xA0000000 with 32 valid bits: bits 29 and 31 set.
	if !out[29] || out[30] || !out[31] || !out[32] {
		t.Fatalf("TDO = %s", bitvec.Vector(out))
	}
}

func TestParseKindAndNew(t *testing.T) {
	tests := []struct {
		in      string
		want    jtag.Kind
		wantErr bool
	}{
		{"direct", jtag.KindDirect, false},
		{" Fast ", jtag.KindFastRegister, false},
		{"slow-register", jtag.KindSlowRegister, false},
		{"usb", 0, true},
	}
	for _, tt := range tests {
		got, err := jtag.ParseKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseKind(%q) = %v, %v", tt.in, got, err)
		}
		if tt.wantErr && !errors.Is(err, jtag.ErrUnknownKind) {
			t.Errorf("ParseKind(%q) error should wrap ErrUnknownKind", tt.in)
		}
	}
	if _, err := jtag.New(jtag.KindFastRegister, jtag.Options{}); err == nil {
		t.Errorf("register transport without a bus should fail")
	}
	if _, err := jtag.New(jtag.KindDirect, jtag.Options{}); err == nil {
		t.Errorf("direct transport without pins should fail")
	}
	if jtag.KindSlowRegister.String() != "slow" {
		t.Errorf("Kind.String() = %s", jtag.KindSlowRegister)
	}
}
