package bitbang

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
	"github.com/OpenTraceLab/jtagapb/pkg/jtag/jtagsim"
	"github.com/OpenTraceLab/jtagapb/pkg/tap"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// encode renders TMS/TDI pairs the way OpenOCD's remote_bitbang driver
// does: TCK low with the new levels, an optional sample, then TCK high.
func encode(tms, tdi []bool, sample bool) []byte {
	var out []byte
	for i := range tms {
		v := byte('0')
		if tms[i] {
			v += 2
		}
		if tdi != nil && tdi[i] {
			v++
		}
		out = append(out, v)
		if sample {
			out = append(out, 'R')
		}
		out = append(out, v+4)
	}
	return out
}

func idcodeScript() []byte {
	var b []byte
	b = append(b, encode([]bool{true, true, true, true, true, false, true, false, false}, nil, false)...)
	shift := make([]bool, 32)
	shift[31] = true
	b = append(b, encode(shift, nil, true)...)
	b = append(b, encode([]bool{true, false}, nil, false)...)
	return b
}

func startSession(t *testing.T, pins jtag.Pins) (net.Conn, chan error) {
	t.Helper()
	client, server := net.Pipe()
	s := NewServer(pins, WithLogger(quiet))
	done := make(chan error, 1)
	go func() { done <- s.ServeConn(context.Background(), server) }()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func waitSession(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeConn: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not end")
	}
}

func TestBridgeReadsIDCode(t *testing.T) {
	probe, dev := jtagsim.NewSingle()
	client, done := startSession(t, probe)

	script := append(idcodeScript(), 'Q')
	go client.Write(script)

	reply := make([]byte, 32)
	if _, err := io.ReadFull(client, reply); err != nil {
		t.Fatalf("read replies: %v", err)
	}
	bits, err := bitvec.Parse(string(reply))
	if err != nil {
		t.Fatalf("replies %q: %v", reply, err)
	}
	if got := bits.MustValue(); got != jtagsim.DefaultIDCode {
		t.Fatalf("IDCODE via bridge = %#x", got)
	}
	waitSession(t, done)
	if dev.State() != tap.StateRunTestIdle {
		t.Fatalf("device left in %s", dev.State())
	}
}

func TestBridgeSplitWritesAndSideband(t *testing.T) {
	probe, _ := jtagsim.NewSingle()
	client, done := startSession(t, probe)

	sync := func() {
		t.Helper()
		if _, err := client.Write([]byte{'R'}); err != nil {
			t.Fatalf("write: %v", err)
		}
		one := make([]byte, 1)
		if _, err := io.ReadFull(client, one); err != nil {
			t.Fatalf("read: %v", err)
		}
	}

	// One byte at a time, with noise the bridge must skip.
	for _, c := range []byte("x\n t") {
		if _, err := client.Write([]byte{c}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	sync()
	if trst, srst := probe.ResetLevels(); !trst || srst {
		t.Fatalf("after 't': trst=%v srst=%v", trst, srst)
	}
	client.Write([]byte("sB"))
	sync()
	if trst, srst := probe.ResetLevels(); trst || !srst || !probe.LED() {
		t.Fatalf("after 'sB': trst=%v srst=%v led=%v", trst, srst, probe.LED())
	}
	client.Write([]byte("rb"))
	sync()
	if trst, srst := probe.ResetLevels(); trst || srst || probe.LED() {
		t.Fatalf("after 'rb': trst=%v srst=%v led=%v", trst, srst, probe.LED())
	}

	// Replies for a burst arrive in order even when read piecemeal.
	client.Write(idcodeScript())
	var got bytes.Buffer
	buf := make([]byte, 5)
	for got.Len() < 32 {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got.Write(buf[:n])
	}
	bits, _ := bitvec.Parse(got.String())
	if bits.MustValue() != jtagsim.DefaultIDCode {
		t.Fatalf("IDCODE = %s", got.String())
	}

	client.Close()
	waitSession(t, done)
}

// noResetPins is a probe without TRST and SRST, like GPIOPins with the
// reset pins left unassigned.
type noResetPins struct{ *jtagsim.Probe }

func (p noResetPins) Drive(sig jtag.Signal, high bool) error {
	if sig == jtag.SignalTRST || sig == jtag.SignalSRST {
		return fmt.Errorf("%w: %s not wired", jtag.ErrNotImplemented, sig)
	}
	return p.Probe.Drive(sig, high)
}

func TestBridgeIgnoresMissingResetLines(t *testing.T) {
	probe, _ := jtagsim.NewSingle()
	client, done := startSession(t, noResetPins{probe})

	script := append([]byte("rsu"), idcodeScript()...)
	script = append(script, 'Q')
	go client.Write(script)

	reply := make([]byte, 32)
	if _, err := io.ReadFull(client, reply); err != nil {
		t.Fatalf("read replies: %v", err)
	}
	bits, err := bitvec.Parse(string(reply))
	if err != nil {
		t.Fatalf("replies %q: %v", reply, err)
	}
	if got := bits.MustValue(); got != jtagsim.DefaultIDCode {
		t.Fatalf("IDCODE via bridge = %#x", got)
	}
	waitSession(t, done)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback listener: %v", err)
	}
	probe, _ := jtagsim.NewSingle()
	s := NewServer(pins, WithLogger(quiet))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(idcodeScript()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reply := make([]byte, 32)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatalf("read: %v", err)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}
