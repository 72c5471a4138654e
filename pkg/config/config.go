// Package config loads jtagapb settings from CUE files checked against an
// embedded schema that also supplies every default.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/format"
)

//go:embed schema.cue
var schemaSrc string

// Config is the decoded configuration.
type Config struct {
	Backend    string `json:"backend"`
	Transport  string `json:"transport"`
	MaxDevices int    `json:"maxDevices"`

	Log       Log       `json:"log"`
	Registers Registers `json:"registers"`
	APB       APB       `json:"apb"`
	CMSISDAP  CMSISDAP  `json:"cmsisDap"`
	GPIO      GPIO      `json:"gpio"`
	MMIO      MMIO      `json:"mmio"`
	Serve     Serve     `json:"serve"`
	Sim       Sim       `json:"sim"`
}

type Log struct {
	Level   string `json:"level"`
	Journal bool   `json:"journal"`
}

// Registers locates the JTAG master's register block.
type Registers struct {
	Base     uint32 `json:"base"`
	Status   uint32 `json:"status"`
	TDO      uint32 `json:"tdo"`
	TDOClear uint32 `json:"tdoClear"`
	Data1    uint32 `json:"data1"`
	Data2    uint32 `json:"data2"`
	Data3    uint32 `json:"data3"`
	Data4    uint32 `json:"data4"`
}

type APB struct {
	IRLength   int    `json:"irLength"`
	AccessIR   uint64 `json:"accessIR"`
	ControlIR  uint64 `json:"controlIR"`
	SlowWait   int    `json:"slowWait"`
	SyncCycles int    `json:"syncCycles"`
}

type CMSISDAP struct {
	VID     uint16 `json:"vid"`
	PID     uint16 `json:"pid"`
	SpeedHz int    `json:"speedHz"`
}

// GPIO holds BCM pin numbers; -1 leaves a line unconnected.
type GPIO struct {
	TCK          int  `json:"tck"`
	TMS          int  `json:"tms"`
	TDI          int  `json:"tdi"`
	TDO          int  `json:"tdo"`
	TRST         int  `json:"trst"`
	SRST         int  `json:"srst"`
	LED          int  `json:"led"`
	HalfPeriodNs int  `json:"halfPeriodNs"`
	PullUpTDO    bool `json:"pullUpTDO"`
}

type MMIO struct {
	Device string `json:"device"`
	Offset int64  `json:"offset"`
	Size   int    `json:"size"`
}

type Serve struct {
	Listen string `json:"listen"`
	Serial string `json:"serial"`
	Baud   int    `json:"baud"`
}

// Sim shapes the built-in simulator chain.
type Sim struct {
	Devices int    `json:"devices"`
	IDCode  uint32 `json:"idcode"`
	Latency int    `json:"latency"`
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := decode(nil, "")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load reads path and fills unset fields from the defaults. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return decode(src, path)
}

// Parse decodes CUE source. name is used in error messages.
func Parse(name string, src []byte) (Config, error) {
	return decode(src, name)
}

func decode(src []byte, name string) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("config: schema: %w", err)
	}
	v := schema
	if src != nil {
		file := ctx.CompileBytes(src, cue.Filename(name))
		if err := file.Err(); err != nil {
			return Config{}, fmt.Errorf("config: %s", errors.Details(err, nil))
		}
		v = schema.Unify(file)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("config: %s", errors.Details(err, nil))
	}
	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Format renders cfg as CUE source that Parse accepts.
func Format(cfg Config) ([]byte, error) {
	v := cuecontext.New().Encode(cfg)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	src, err := format.Node(v.Syntax(cue.Final()))
	if err != nil {
		return nil, fmt.Errorf("config: format: %w", err)
	}
	return src, nil
}
