package jtag

import "github.com/OpenTraceLab/jtagapb/pkg/bitvec"

// FastRegister hands up to 32 bits per command to the master, which clocks
// them out itself. TMS runs cost two writes; shifts cost two writes and a
// read per 32 bits.
type FastRegister struct {
	registerPort
}

// NewFastRegister drives the master at regs through bus.
func NewFastRegister(bus RegisterBus, regs RegisterMap) *FastRegister {
	return &FastRegister{registerPort{bus: bus, regs: regs}}
}

func (f *FastRegister) Kind() Kind { return KindFastRegister }

func (f *FastRegister) Reset() error {
	return f.write(f.regs.Data1, CmdFastReset)
}

func (f *FastRegister) DriveTMS(tms []bool) error {
	for start := 0; start < len(tms); start += MaxBatch {
		end := min(start+MaxBatch, len(tms))
		if err := f.write(f.regs.Data3, bitvec.Word(tms[start:end])); err != nil {
			return err
		}
		if err := f.write(f.regs.Data1, uint32(FastCommand(false, end-start, false))); err != nil {
			return err
		}
	}
	return nil
}

func (f *FastRegister) Shift(tdi []bool, lastTMS bool) ([]bool, error) {
	out := make([]bool, len(tdi))
	for start := 0; start < len(tdi); start += MaxBatch {
		end := min(start+MaxBatch, len(tdi))
		n := end - start
		if err := f.write(f.regs.Data3, bitvec.Word(tdi[start:end])); err != nil {
			return nil, err
		}
		cmd := FastCommand(true, n, lastTMS && end == len(tdi))
		if err := f.write(f.regs.Data1, uint32(cmd)); err != nil {
			return nil, err
		}
		word, err := f.read(f.regs.TdoClear)
		if err != nil {
			return nil, err
		}
		extractTDO(word, n, out[start:end])
	}
	return out, nil
}
