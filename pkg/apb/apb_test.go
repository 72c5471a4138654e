package apb_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/OpenTraceLab/jtagapb/pkg/apb"
	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
	"github.com/OpenTraceLab/jtagapb/pkg/chain"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag/jtagsim"
)

func TestEncodeLayout(t *testing.T) {
	v := apb.Encode(apb.Request{Op: apb.OpWrite, Address: 0x1204, Data: 0xdeadbeef})
	if len(v) != apb.PayloadWidth {
		t.Fatalf("payload is %d bits", len(v))
	}
	want := uint64(0x1204)<<34 | uint64(0xdeadbeef)<<2 | 2
	if got := v.MustValue(); got != want {
		t.Fatalf("payload = %#x, want %#x", got, want)
	}
	if v[0] || !v[1] {
		t.Fatalf("op bits = %v%v, want write", v[0], v[1])
	}

	r, err := apb.Decode(bitvec.FromValue(uint64(0x1200)<<34|uint64(42)<<2|3, apb.PayloadWidth))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.Address != 0x1200 || r.Data != 42 || r.Status != apb.StatusError {
		t.Fatalf("Decode = %+v", r)
	}
	if _, err := apb.Decode(make(bitvec.Vector, 32)); !errors.Is(err, apb.ErrPayloadWidth) {
		t.Fatalf("short decode error = %v", err)
	}
}

func newClient(t *testing.T, kind jtag.Kind, cfg apb.Config) (*apb.Client, *jtagsim.Device) {
	t.Helper()
	probe, dev := jtagsim.NewSingle()
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
		t.Fatalf("New: %v", err)
	}
	nav := chain.NewNavigator(x)
	if err := nav.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	return apb.NewClient(nav, cfg), dev
}

var kinds = []jtag.Kind{jtag.KindDirect, jtag.KindSlowRegister, jtag.KindFastRegister}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			c, dev := newClient(t, kind, apb.Config{SyncCycles: 2})
			if _, err := c.Write(0x40, 0xcafef00d); err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := c.ReadSlow(0x40)
			if err != nil {
				t.Fatalf("ReadSlow: %v", err)
			}
			if got != 0xcafef00d {
				t.Fatalf("ReadSlow = %#x", got)
			}
			if v, _ := dev.Bus().Read(0x40); v != 0xcafef00d {
				t.Fatalf("bus holds %#x", v)
			}

			// Pipelined: each scan returns the previous request's result.
			c.Write(0x44, 0x11111111)
			if _, err := c.ReadPipelined(0x40); err != nil {
				t.Fatalf("ReadPipelined: %v", err)
			}
			r, err := c.ReadPipelined(0x44)
			if err != nil {
				t.Fatalf("ReadPipelined: %v", err)
			}
			if r.Address != 0x40 || r.Data != 0xcafef00d {
				t.Fatalf("pipelined result = %+v", r)
			}
			r, err = c.Poll()
			if err != nil || r.Address != 0x44 || r.Data != 0x11111111 || r.Status != apb.StatusOK {
				t.Fatalf("Poll = %+v, %v", r, err)
			}
		})
	}
}

func TestPipelinedCounterReads(t *testing.T) {
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			c, _ := newClient(t, kind, apb.Config{})
			var values []uint32
			for i := 0; i < 8; i++ {
				r, err := c.ReadPipelined(jtagsim.TimerAddr)
				if err != nil {
					t.Fatalf("ReadPipelined: %v", err)
				}
				if i > 0 {
					values = append(values, r.Data)
				}
			}
			var diffs []int64
			for i := 1; i < len(values); i++ {
				diffs = append(diffs, int64(values[i])-int64(values[i-1]))
			}
			var sum int64
			for _, d := range diffs {
				sum += d
			}
			avg := sum / int64(len(diffs))
			if avg <= 0 {
				t.Fatalf("counter did not advance: %v", values)
			}
			for _, d := range diffs {
				if d-avg > 1 || avg-d > 1 {
					t.Fatalf("differences %v stray from average %d", diffs, avg)
				}
			}
		})
	}
}

func TestTransactionError(t *testing.T) {
	c, _ := newClient(t, jtag.KindDirect, apb.Config{})
	if _, err := c.Write(jtagsim.TimerAddr, 1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, err := c.Poll()
	var te *apb.TransactionError
	if !errors.As(err, &te) {
		t.Fatalf("Poll error = %v, want TransactionError", err)
	}
	if te.Op != apb.OpWrite || te.Address != jtagsim.TimerAddr || te.Status != apb.StatusError {
		t.Fatalf("TransactionError = %+v", te)
	}

	c, _ = newClient(t, jtag.KindDirect, apb.Config{})
	if _, err := c.ReadSlow(0x2000); !errors.As(err, &te) || te.Op != apb.OpRead || te.Address != 0x2000 {
		t.Fatalf("unmapped read error = %v", err)
	}
}

func TestWriteControlReselectsAccess(t *testing.T) {
	c, dev := newClient(t, jtag.KindFastRegister, apb.Config{})
	if err := c.WriteControl(0x00010203); err != nil {
		t.Fatalf("WriteControl: %v", err)
	}
	if dev.Control() != 0x00010203 || dev.Instruction() != jtagsim.IRAPBControl {
		t.Fatalf("control = %#x, IR = %#x", dev.Control(), dev.Instruction())
	}
	if _, err := c.Write(0x10, 7); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if dev.Instruction() != jtagsim.IRAPBAccess {
		t.Fatalf("IR after write = %#x", dev.Instruction())
	}
	if got, err := c.ReadSlow(0x10); err != nil || got != 7 {
		t.Fatalf("ReadSlow = %d, %v", got, err)
	}
}

func ExampleEncode() {
	v := apb.Encode(apb.Request{Op: apb.OpRead, Address: 0x1200})
	fmt.Printf("%#x\n", v.MustValue())
	// Output: 0x480000000001
}
