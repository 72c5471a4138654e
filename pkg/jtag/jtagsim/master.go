package jtagsim

import (
	"fmt"
	"sync"

	"github.com/OpenTraceLab/jtagapb/pkg/jtag"
)

// Master models the register-mapped JTAG master. Command bytes written to
// its data registers are executed against a pin backend, so a register
// transport over a Master drives exactly the same pins a DirectPin
// transport would.
type Master struct {
	mu sync.Mutex

	pins jtag.Pins
	regs jtag.RegisterMap

	operand uint32
	tdoReg  uint32
	valid   int
	fast    bool

	reads, writes int
}

// NewMaster enables the pin backend's clock and returns a master at regs.
func NewMaster(pins jtag.Pins, regs jtag.RegisterMap) (*Master, error) {
	if err := pins.Drive(jtag.SignalTCKEnable, true); err != nil {
		return nil, fmt.Errorf("jtagsim: enable clock: %w", err)
	}
	return &Master{pins: pins, regs: regs}, nil
}

// Transactions returns the number of register reads and writes served.
func (m *Master) Transactions() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}

func (m *Master) ReadRegister(addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	switch addr {
	case m.regs.Addr(m.regs.Status):
		return m.status()
	case m.regs.Addr(m.regs.Tdo):
		return m.tdoReg, nil
	case m.regs.Addr(m.regs.TdoClear):
		v := m.tdoReg
		m.tdoReg, m.valid = 0, 0
		return v, nil
	}
	return 0, fmt.Errorf("jtagsim: register %#x not readable", addr)
}

func (m *Master) status() (uint32, error) {
	v := uint32(m.valid)
	if m.fast {
		v |= 1 << 8
	}
	for bit, sig := range map[uint]jtag.Signal{24: jtag.SignalTMS, 25: jtag.SignalTDI, 26: jtag.SignalTDO} {
		level, err := m.pins.Sample(sig)
		if err != nil {
			return 0, err
		}
		if level {
			v |= 1 << bit
		}
	}
	return v, nil
}

func (m *Master) WriteRegister(addr uint32, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++

	lanes := 0
	switch addr {
	case m.regs.Addr(m.regs.Data1):
		lanes = 1
	case m.regs.Addr(m.regs.Data2):
		lanes = 2
	case m.regs.Addr(m.regs.Data4):
		lanes = 4
	case m.regs.Addr(m.regs.Data3):
		m.operand = value
		return nil
	default:
		return fmt.Errorf("jtagsim: register %#x not writable", addr)
	}
	for i := 0; i < lanes; i++ {
		if err := m.exec(byte(value >> (8 * i))); err != nil {
			return err
		}
	}
	return nil
}

func (m *Master) exec(cmd byte) error {
	switch {
	case cmd == 0:
		return nil
	case cmd >= jtag.CmdPin && cmd <= jtag.CmdPin|0x07:
		m.fast = false
		return m.pin(cmd&jtag.CmdPinTCK != 0, cmd&jtag.CmdPinTMS != 0, cmd&jtag.CmdPinTDI != 0)
	case cmd == jtag.CmdReadTDO:
		m.fast = false
		return m.capture()
	case cmd&jtag.CmdFast != 0:
		m.fast = true
		return m.execFast(cmd)
	}
	return fmt.Errorf("jtagsim: unknown command byte %#02x", cmd)
}

func (m *Master) pin(tck, tms, tdi bool) error {
	if err := m.pins.Drive(jtag.SignalTMS, tms); err != nil {
		return err
	}
	if err := m.pins.Drive(jtag.SignalTDI, tdi); err != nil {
		return err
	}
	if tck {
		return m.pins.Wait(1)
	}
	return nil
}

func (m *Master) capture() error {
	tdo, err := m.pins.Sample(jtag.SignalTDO)
	if err != nil {
		return err
	}
	m.tdoReg >>= 1
	if tdo {
		m.tdoReg |= 1 << 31
	}
	if m.valid < 63 {
		m.valid++
	}
	return nil
}

func (m *Master) execFast(cmd byte) error {
	count := int(cmd>>jtag.CmdFastCountPos&0x1f) + 1
	switch {
	case cmd&0x02 != 0:
		last := cmd&jtag.CmdFastLastTMS != 0
		for i := 0; i < count; i++ {
			if err := m.capture(); err != nil {
				return err
			}
			if err := m.pin(true, last && i == count-1, m.operand&(1<<uint(i)) != 0); err != nil {
				return err
			}
		}
	case cmd&jtag.CmdFastLastTMS != 0:
		for i := 0; i < 5; i++ {
			if err := m.pin(true, true, false); err != nil {
				return err
			}
		}
	default:
		for i := 0; i < count; i++ {
			if err := m.pin(true, m.operand&(1<<uint(i)) != 0, false); err != nil {
				return err
			}
		}
	}
	return nil
}
