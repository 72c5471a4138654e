// Package script parses and runs scan scripts: short line-oriented
// programs of TAP and APB operations with optional expectations, used for
// bring-up checks and regression runs against real or simulated targets.
package script

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// Script is a parsed program.
type Script struct {
	Stmts []*Stmt `@@*`
}

// Stmt is one operation. Exactly one field is set.
type Stmt struct {
	Pos lexer.Position

	Reset  bool        `  @"reset"`
	TMS    []int       `| "tms" @Int+`
	IR     *Scan       `| "ir" @@`
	DR     *Scan       `| "dr" @@`
	Idle   *int        `| "idle" @Int`
	Goto   *string     `| "goto" @Ident`
	IDCode *IDCodeStmt `| @@`
	APB    *APBStmt    `| "apb" @@`
}

// Scan shifts Value into a register Width bits long. Expect and Mask apply
// to the captured bits.
type Scan struct {
	Width  int     `@Int`
	Value  *Number `@@`
	Expect *Number `( "expect" @@ )?`
	Mask   *Number `( "mask" @@ )?`
}

// IDCodeStmt scans the chain and optionally checks the codes found.
type IDCodeStmt struct {
	Keyword string    `@"idcode"`
	Expect  []*Number `( "expect" @@+ )?`
}

// APBStmt is a bus operation through the access register.
type APBStmt struct {
	Control *Number   `  "control" @@`
	Select  bool      `| @"select"`
	Write   *APBWrite `| "write" @@`
	Read    *APBRead  `| "read" @@`
}

// APBWrite writes Data to Addr.
type APBWrite struct {
	Addr *Number `@@`
	Data *Number `@@`
}

// APBRead reads Addr, by default with a slow read.
type APBRead struct {
	Addr   *Number `@@`
	Mode   string  `@( "slow" | "pipelined" )?`
	Expect *Number `( "expect" @@ )?`
}

// Number is an integer literal in decimal, 0x hex or 0b binary.
type Number struct {
	Text string `@( Hex | Bin | Int )`
}
