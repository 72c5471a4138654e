package script

import (
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
	"github.com/OpenTraceLab/jtagapb/pkg/tap"
)

var scriptLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Hex", Pattern: `0[xX][0-9a-fA-F_]+`},
	{Name: "Bin", Pattern: `0[bB][01_]+`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z][a-zA-Z0-9_-]*`},
})

var parser = participle.MustBuild[Script](
	participle.Lexer(scriptLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.UseLookahead(2),
)

// Parse reads a script. name is used in error positions.
func Parse(name string, r io.Reader) (*Script, error) {
	s, err := parser.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return s, s.validate()
}

// ParseString parses a script held in memory.
func ParseString(name, src string) (*Script, error) {
	s, err := parser.ParseString(name, src)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return s, s.validate()
}

// ParseFile parses the script at path.
func ParseFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	defer f.Close()
	return Parse(path, f)
}

// validate catches what the grammar cannot: widths, literal sizes and
// state names.
func (s *Script) validate() error {
	for _, st := range s.Stmts {
		for _, scan := range []*Scan{st.IR, st.DR} {
			if scan == nil {
				continue
			}
			if scan.Width <= 0 {
				return fmt.Errorf("script: %s: register width must be positive", st.Pos)
			}
			for _, n := range []*Number{scan.Value, scan.Expect, scan.Mask} {
				if n == nil {
					continue
				}
				if _, err := n.Bits(scan.Width); err != nil {
					return fmt.Errorf("script: %s: %w", st.Pos, err)
				}
			}
		}
		if st.Goto != nil {
			if _, err := tap.ParseState(*st.Goto); err != nil {
				return fmt.Errorf("script: %s: %w", st.Pos, err)
			}
		}
		for _, b := range st.TMS {
			if b != 0 && b != 1 {
				return fmt.Errorf("script: %s: tms values must be 0 or 1", st.Pos)
			}
		}
		if st.APB != nil {
			for _, n := range []*Number{st.APB.Control, writeAddr(st.APB.Write), readAddr(st.APB.Read)} {
				if n == nil {
					continue
				}
				if _, err := n.Uint(32); err != nil {
					return fmt.Errorf("script: %s: %w", st.Pos, err)
				}
			}
		}
	}
	return nil
}

func writeAddr(w *APBWrite) *Number {
	if w == nil {
		return nil
	}
	return w.Addr
}

func readAddr(r *APBRead) *Number {
	if r == nil {
		return nil
	}
	return r.Addr
}

func (n *Number) big() (*big.Int, error) {
	v, ok := new(big.Int).SetString(n.Text, 0)
	if !ok {
		return nil, fmt.Errorf("bad number %q", n.Text)
	}
	return v, nil
}

// Bits returns the literal as a width-bit vector, LSB first. It fails when
// the value does not fit.
func (n *Number) Bits(width int) (bitvec.Vector, error) {
	v, err := n.big()
	if err != nil {
		return nil, err
	}
	if v.BitLen() > width {
		return nil, fmt.Errorf("%s does not fit in %d bits", n.Text, width)
	}
	out := make(bitvec.Vector, width)
	for i := range out {
		out[i] = v.Bit(i) == 1
	}
	return out, nil
}

// Uint returns the literal as an integer of at most width bits.
func (n *Number) Uint(width int) (uint64, error) {
	bits, err := n.Bits(width)
	if err != nil {
		return 0, err
	}
	return bits.Value()
}
