package script

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/OpenTraceLab/jtagapb/pkg/apb"
	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
	"github.com/OpenTraceLab/jtagapb/pkg/chain"
	"github.com/OpenTraceLab/jtagapb/pkg/tap"
)

// MismatchError reports a captured value that differs from its
// expectation.
type MismatchError struct {
	Pos  string
	Op   string
	Got  string
	Want string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("script: %s: %s: got %s, want %s", e.Pos, e.Op, e.Got, e.Want)
}

// Runner executes scripts on a navigator. APB statements need a client.
type Runner struct {
	nav    *chain.Navigator
	bus    *apb.Client
	logger *slog.Logger
}

// NewRunner returns a runner. bus may be nil when scripts use no APB
// statements.
func NewRunner(nav *chain.Navigator, bus *apb.Client, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{nav: nav, bus: bus, logger: logger}
}

// Run executes every statement in order and stops at the first failure.
func (r *Runner) Run(s *Script) error {
	for _, st := range s.Stmts {
		if err := r.exec(st); err != nil {
			return err
		}
	}
	r.logger.Info("script passed", "statements", len(s.Stmts))
	return nil
}

func (r *Runner) exec(st *Stmt) error {
	pos := st.Pos.String()
	wrap := func(err error) error {
		if err == nil {
			return nil
		}
		if _, ok := err.(*MismatchError); ok {
			return err
		}
		return fmt.Errorf("script: %s: %w", pos, err)
	}
	switch {
	case st.Reset:
		r.logger.Debug("reset", "pos", pos)
		return wrap(r.nav.Reset())
	case st.TMS != nil:
		tms := make([]bool, len(st.TMS))
		for i, b := range st.TMS {
			tms[i] = b == 1
		}
		return wrap(r.nav.DriveTMS(tms))
	case st.IR != nil:
		return wrap(r.scan(pos, "ir", st.IR, r.nav.WriteIR))
	case st.DR != nil:
		return wrap(r.scan(pos, "dr", st.DR, r.nav.WriteDR))
	case st.Idle != nil:
		return wrap(r.nav.Idle(*st.Idle))
	case st.Goto != nil:
		target, err := tap.ParseState(*st.Goto)
		if err != nil {
			return wrap(err)
		}
		r.logger.Debug("goto", "pos", pos, "state", target)
		return wrap(r.nav.GoTo(target))
	case st.IDCode != nil:
		return wrap(r.idcode(pos, st.IDCode))
	case st.APB != nil:
		if r.bus == nil {
			return fmt.Errorf("script: %s: no APB client configured", pos)
		}
		return wrap(r.busOp(pos, st.APB))
	}
	return fmt.Errorf("script: %s: empty statement", pos)
}

func (r *Runner) scan(pos, op string, sc *Scan, do func(bitvec.Vector) (bitvec.Vector, error)) error {
	in, err := sc.Value.Bits(sc.Width)
	if err != nil {
		return err
	}
	out, err := do(in)
	if err != nil {
		return err
	}
	r.logger.Info(op, "pos", pos, "in", in.String(), "out", out.String())
	if sc.Expect == nil {
		return nil
	}
	want, err := sc.Expect.Bits(sc.Width)
	if err != nil {
		return err
	}
	mask := bitvec.Repeat(true, sc.Width)
	if sc.Mask != nil {
		if mask, err = sc.Mask.Bits(sc.Width); err != nil {
			return err
		}
	}
	for i := range out {
		if mask[i] && out[i] != want[i] {
			return &MismatchError{Pos: pos, Op: op, Got: out.String(), Want: want.String()}
		}
	}
	return nil
}

func (r *Runner) idcode(pos string, st *IDCodeStmt) error {
	codes, err := r.nav.ReadIDCodes()
	if err != nil {
		return err
	}
	got := make([]string, len(codes))
	for i, c := range codes {
		got[i] = fmt.Sprintf("0x%08x", c)
	}
	r.logger.Info("idcode", "pos", pos, "codes", strings.Join(got, " "))
	if st.Expect == nil {
		return nil
	}
	want := make([]string, len(st.Expect))
	for i, n := range st.Expect {
		v, err := n.Uint(32)
		if err != nil {
			return err
		}
		want[i] = fmt.Sprintf("0x%08x", v)
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		return &MismatchError{Pos: pos, Op: "idcode", Got: "[" + strings.Join(got, " ") + "]", Want: "[" + strings.Join(want, " ") + "]"}
	}
	return nil
}

func (r *Runner) busOp(pos string, st *APBStmt) error {
	switch {
	case st.Control != nil:
		v, err := st.Control.Uint(32)
		if err != nil {
			return err
		}
		return r.bus.WriteControl(uint32(v))
	case st.Select:
		return r.bus.SelectAccess()
	case st.Write != nil:
		addr, err := st.Write.Addr.Uint(16)
		if err != nil {
			return err
		}
		data, err := st.Write.Data.Uint(32)
		if err != nil {
			return err
		}
		_, err = r.bus.Write(uint16(addr), uint32(data))
		return err
	case st.Read != nil:
		addr, err := st.Read.Addr.Uint(16)
		if err != nil {
			return err
		}
		var data uint32
		if st.Read.Mode == "pipelined" {
			resp, err := r.bus.ReadPipelined(uint16(addr))
			if err != nil {
				return err
			}
			data = resp.Data
		} else if data, err = r.bus.ReadSlow(uint16(addr)); err != nil {
			return err
		}
		r.logger.Info("apb read", "pos", pos, "addr", fmt.Sprintf("%#04x", addr), "data", fmt.Sprintf("%#08x", data))
		if st.Read.Expect == nil {
			return nil
		}
		want, err := st.Read.Expect.Uint(32)
		if err != nil {
			return err
		}
		if uint32(want) != data {
			return &MismatchError{Pos: pos, Op: "apb read", Got: fmt.Sprintf("%#08x", data), Want: fmt.Sprintf("%#08x", want)}
		}
	}
	return nil
}
