package jtag

import (
	"errors"
	"fmt"
)

// RegisterBus reads and writes 32-bit registers at absolute addresses.
type RegisterBus interface {
	ReadRegister(addr uint32) (uint32, error)
	WriteRegister(addr uint32, value uint32) error
}

// RegisterMap locates the JTAG master's register block. Offsets are
// relative to Base.
//
// Writing Data1, Data2 or Data4 queues one, two or four command bytes;
// byte lane 0 executes first and zero bytes are skipped. Data3 holds the
// 32-bit operand of fast commands. Reading TdoClear returns the TDO shift
// register and clears it.
type RegisterMap struct {
	Base     uint32
	Status   uint32
	Tdo      uint32
	TdoClear uint32
	Data1    uint32
	Data2    uint32
	Data3    uint32
	Data4    uint32
}

// DefaultRegisterMap is the layout of the reference APB JTAG master.
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{
		Status:   0x00,
		Tdo:      0x08,
		TdoClear: 0x0C,
		Data1:    0x10,
		Data2:    0x14,
		Data3:    0x18,
		Data4:    0x1C,
	}
}

// Addr returns the absolute address of a register offset.
func (m RegisterMap) Addr(offset uint32) uint32 { return m.Base + offset }

// Command bytes understood by the register master.
const (
	// CmdPin is '0'..'7': bit 2 clocks TCK, bit 1 is TMS, bit 0 is TDI.
	CmdPin     = 0x30
	CmdPinTCK  = 0x04
	CmdPinTMS  = 0x02
	CmdPinTDI  = 0x01
	CmdReadTDO = 0x52 // 'R': shift the current TDO into the TDO register

	// Fast commands have bit 7 set and bits 6:2 holding count-1.
	CmdFast         = 0x80
	CmdFastReset    = 0x81
	CmdFastShift    = 0x82
	CmdFastLastTMS  = 0x01
	CmdFastCountPos = 2

	// MaxBatch is the width of the TDO shift register.
	MaxBatch = 32
)

// PinCommand encodes a slow-mode pin command byte.
func PinCommand(tck, tms, tdi bool) byte {
	b := byte(CmdPin)
	if tck {
		b |= CmdPinTCK
	}
	if tms {
		b |= CmdPinTMS
	}
	if tdi {
		b |= CmdPinTDI
	}
	return b
}

// FastCommand encodes a fast TMS run (shift=false) or a TDI shift of count
// bits (1..32).
func FastCommand(shift bool, count int, lastTMS bool) byte {
	b := byte(CmdFast) | byte(count-1)<<CmdFastCountPos
	if shift {
		b |= CmdFastShift &^ CmdFast
		if lastTMS {
			b |= CmdFastLastTMS
		}
	}
	return b
}

// Status decodes the master's status register.
type Status uint32

// BitsValid is the number of TDO bits captured since the last clear.
func (s Status) BitsValid() int { return int(s & 0x3f) }

// FastMode reports whether the last command executed was a fast command.
func (s Status) FastMode() bool { return s&(1<<8) != 0 }

func (s Status) TMS() bool { return s&(1<<24) != 0 }
func (s Status) TDI() bool { return s&(1<<25) != 0 }
func (s Status) TDO() bool { return s&(1<<26) != 0 }

func (s Status) String() string {
	return fmt.Sprintf("bits=%d fast=%v tms=%v tdi=%v tdo=%v",
		s.BitsValid(), s.FastMode(), s.TMS(), s.TDI(), s.TDO())
}

// ErrBitsValid is returned when the master captured a different number of
// TDO bits than the transport clocked.
var ErrBitsValid = errors.New("jtag: TDO bit count mismatch")

// extractTDO returns the n most recent bits of a TDO shift register word.
// New bits enter at the top, so bit i of the batch sits at 32-n+i.
func extractTDO(word uint32, n int, out []bool) {
	for i := 0; i < n; i++ {
		out[i] = word&(1<<uint(MaxBatch-n+i)) != 0
	}
}

type registerPort struct {
	bus  RegisterBus
	regs RegisterMap
}

func (p registerPort) write(offset uint32, value uint32) error {
	if err := p.bus.WriteRegister(p.regs.Addr(offset), value); err != nil {
		return fmt.Errorf("jtag: write register %#x: %w", p.regs.Addr(offset), err)
	}
	return nil
}

func (p registerPort) read(offset uint32) (uint32, error) {
	v, err := p.bus.ReadRegister(p.regs.Addr(offset))
	if err != nil {
		return 0, fmt.Errorf("jtag: read register %#x: %w", p.regs.Addr(offset), err)
	}
	return v, nil
}
