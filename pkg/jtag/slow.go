package jtag

import "fmt"

// SlowRegister issues one register write per TCK edge pair. It needs two
// writes per shifted bit plus a status check and a TDO read per 32 bits.
type SlowRegister struct {
	registerPort
}

// NewSlowRegister drives the master at regs through bus.
func NewSlowRegister(bus RegisterBus, regs RegisterMap) *SlowRegister {
	return &SlowRegister{registerPort{bus: bus, regs: regs}}
}

func (s *SlowRegister) Kind() Kind { return KindSlowRegister }

// Reset queues four TMS=1 clocks through Data4 and a fifth through Data1.
func (s *SlowRegister) Reset() error {
	tick := uint32(PinCommand(true, true, false))
	if err := s.write(s.regs.Data4, tick*0x01010101); err != nil {
		return err
	}
	return s.write(s.regs.Data1, tick)
}

func (s *SlowRegister) DriveTMS(tms []bool) error {
	for _, bit := range tms {
		if err := s.write(s.regs.Data1, uint32(PinCommand(true, bit, false))); err != nil {
			return err
		}
	}
	return nil
}

func (s *SlowRegister) Shift(tdi []bool, lastTMS bool) ([]bool, error) {
	out := make([]bool, len(tdi))
	for start := 0; start < len(tdi); start += MaxBatch {
		end := min(start+MaxBatch, len(tdi))
		for i := start; i < end; i++ {
			tms := lastTMS && i == len(tdi)-1
			if err := s.write(s.regs.Data1, CmdReadTDO); err != nil {
				return nil, err
			}
			if err := s.write(s.regs.Data1, uint32(PinCommand(true, tms, tdi[i]))); err != nil {
				return nil, err
			}
		}
		n := end - start
		st, err := s.read(s.regs.Status)
		if err != nil {
			return nil, err
		}
		if got := Status(st).BitsValid(); got != n {
			return nil, fmt.Errorf("%w: clocked %d, master holds %d", ErrBitsValid, n, got)
		}
		word, err := s.read(s.regs.TdoClear)
		if err != nil {
			return nil, err
		}
		extractTDO(word, n, out[start:end])
	}
	return out, nil
}
