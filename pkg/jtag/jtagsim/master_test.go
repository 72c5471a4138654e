package jtagsim

import (
	"testing"

	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
	"github.com/OpenTraceLab/jtagapb/pkg/tap"
)

func newMaster(t *testing.T) (*Master, *Probe, *Device, jtag.RegisterMap) {
	t.Helper()
	probe, dev := NewSingle()
	regs := jtag.DefaultRegisterMap()
	regs.Base = 0x800
	m, err := NewMaster(probe, regs)
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	return m, probe, dev, regs
}

func TestMasterLaneOrder(t *testing.T) {
	m, probe, dev, regs := newMaster(t)

	// Lane 0 runs first: four TMS=1 clocks, then zero lanes are skipped.
	tick := uint32(jtag.PinCommand(true, true, false))
	if err := m.WriteRegister(regs.Addr(regs.Data4), tick*0x01010101); err != nil {
		t.Fatalf("Data4: %v", err)
	}
	if err := m.WriteRegister(regs.Addr(regs.Data2), tick); err != nil {
		t.Fatalf("Data2: %v", err)
	}
	if probe.Clocks() != 5 {
		t.Fatalf("clocks = %d, want 5", probe.Clocks())
	}
	if dev.State() != tap.StateTestLogicReset {
		t.Fatalf("state = %s", dev.State())
	}

	// Pin command without the TCK bit only changes levels: TMS low, then clock.
	idle := uint32(jtag.PinCommand(false, false, false)) | uint32(jtag.PinCommand(true, false, false))<<8
	if err := m.WriteRegister(regs.Addr(regs.Data2), idle); err != nil {
		t.Fatalf("Data2: %v", err)
	}
	if dev.State() != tap.StateRunTestIdle || probe.Clocks() != 6 {
		t.Fatalf("state %s after %d clocks", dev.State(), probe.Clocks())
	}
}

func TestMasterStatusAndTDOClear(t *testing.T) {
	m, _, _, regs := newMaster(t)

	if err := m.WriteRegister(regs.Addr(regs.Data1), jtag.CmdFastReset); err != nil {
		t.Fatalf("reset: %v", err)
	}
	// Run-Test/Idle then Shift-DR, IDCODE is captured on the way.
	if err := m.WriteRegister(regs.Addr(regs.Data3), 0b0010); err != nil {
		t.Fatalf("Data3: %v", err)
	}
	if err := m.WriteRegister(regs.Addr(regs.Data1), uint32(jtag.FastCommand(false, 4, false))); err != nil {
		t.Fatalf("tms run: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.WriteRegister(regs.Addr(regs.Data1), jtag.CmdReadTDO); err != nil {
			t.Fatalf("R: %v", err)
		}
		if err := m.WriteRegister(regs.Addr(regs.Data1), uint32(jtag.PinCommand(true, false, false))); err != nil {
			t.Fatalf("clock: %v", err)
		}
	}

	st, err := m.ReadRegister(regs.Addr(regs.Status))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s := jtag.Status(st); s.BitsValid() != 3 || s.FastMode() || s.TMS() {
		t.Fatalf("status = %s", s)
	}

	word, err := m.ReadRegister(regs.Addr(regs.TdoClear))
	if err != nil {
		t.Fatalf("tdo clear: %v", err)
	}
	// 0xABCDE6E3 starts 1,1,0 on the wire; newest bit is at the top.
	if got := word >> 29; got != 0b011 {
		t.Fatalf("TDO bits = %03b, want 011", got)
	}
	st, _ = m.ReadRegister(regs.Addr(regs.Status))
	if jtag.Status(st).BitsValid() != 0 {
		t.Fatalf("TdoClear did not clear the bit count")
	}
}

func TestMasterRejectsBadAccess(t *testing.T) {
	m, _, _, regs := newMaster(t)
	if err := m.WriteRegister(regs.Addr(regs.Data1), 0x41); err == nil {
		t.Fatalf("unknown command byte should fail")
	}
	if err := m.WriteRegister(regs.Addr(regs.Status), 0); err == nil {
		t.Fatalf("status should not be writable")
	}
	if _, err := m.ReadRegister(regs.Addr(regs.Data1)); err == nil {
		t.Fatalf("data registers should not be readable")
	}
	if _, err := m.ReadRegister(regs.Status); err == nil {
		t.Fatalf("offset without base should miss the block")
	}
	if r, w := m.Transactions(); r != 2 || w != 2 {
		t.Fatalf("transactions = %d/%d", r, w)
	}
}
