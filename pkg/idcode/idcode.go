// Package idcode decodes IEEE 1149.1 IDCODE registers and names the parts
// they identify.
package idcode

import "fmt"

// IDCode is a decoded 32-bit IDCODE.
type IDCode struct {
	Raw          uint32
	Version      uint8  // [31:28]
	PartNumber   uint16 // [27:12]
	Manufacturer uint16 // [11:1], JEP106 bank and id
}

// Parse splits a raw IDCODE into its fields.
func Parse(raw uint32) IDCode {
	return IDCode{
		Raw:          raw,
		Version:      uint8(raw >> 28),
		PartNumber:   uint16(raw >> 12),
		Manufacturer: uint16(raw>>1) & 0x7FF,
	}
}

// Valid reports whether the code carries the mandatory 1 in bit 0 and a
// manufacturer other than the reserved 0x7F pattern.
func (c IDCode) Valid() bool {
	return c.Raw&1 == 1 && c.Manufacturer&0x7F != 0x7F
}

// Bank returns the JEP106 continuation bank, zero based.
func (c IDCode) Bank() int { return int(c.Manufacturer >> 7) }

func (c IDCode) String() string {
	return fmt.Sprintf("0x%08X (ver %d, part 0x%04X, mfr 0x%03X)",
		c.Raw, c.Version, c.PartNumber, c.Manufacturer)
}

// Part describes a known device.
type Part struct {
	Name        string
	Description string
	IRLength    int
}

type partKey struct {
	manufacturer uint16
	part         uint16
}

var parts = map[partKey]Part{
	{0x371, 0xBCDE}: {Name: "APB-JTAG bridge", Description: "simulated APB master with timer and comparator", IRLength: 5},
	{0x23B, 0xBA00}: {Name: "ARM JTAG-DP", Description: "CoreSight debug port", IRLength: 4},
	{0x23B, 0xBA01}: {Name: "ARM JTAG-DP", Description: "CoreSight debug port", IRLength: 4},
	{0x020, 0x6413}: {Name: "STM32F40x/41x", Description: "boundary scan TAP", IRLength: 5},
	{0x020, 0x6450}: {Name: "STM32H74x/75x", Description: "boundary scan TAP", IRLength: 5},
	{0x049, 0x3631}: {Name: "XC7A35T", Description: "Artix-7 FPGA", IRLength: 6},
	{0x06E, 0x1020}: {Name: "ECP5 LFE5U-25", Description: "Lattice FPGA", IRLength: 8},
}

// LookupPart returns the known part for an IDCODE, ignoring the version
// field.
func LookupPart(c IDCode) (Part, bool) {
	p, ok := parts[partKey{c.Manufacturer, c.PartNumber}]
	return p, ok
}
