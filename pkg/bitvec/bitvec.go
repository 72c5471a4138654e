// Package bitvec converts between integers, packed byte buffers and ordered
// bit sequences. Index 0 of a Vector is always the first bit shifted in or
// out of a JTAG register, which is the least significant bit of the value.
package bitvec

import (
	"errors"
	"fmt"
	"strings"
)

// Vector is an ordered sequence of bits; index 0 is shifted first.
type Vector []bool

// ErrTooWide is returned when a vector does not fit the requested integer.
var ErrTooWide = errors.New("bitvec: vector wider than 64 bits")

// FromValue returns exactly width bits of value, LSB first. Bits beyond 64
// are zero.
func FromValue(value uint64, width int) Vector {
	if width <= 0 {
		return Vector{}
	}
	out := make(Vector, width)
	for i := 0; i < width && i < 64; i++ {
		out[i] = value&(1<<uint(i)) != 0
	}
	return out
}

// Value folds the vector back into an integer. Each bit is shifted in at the
// top of a register as wide as the vector, so the last bit ends up as the
// MSB. An empty vector is 0.
func (v Vector) Value() (uint64, error) {
	n := len(v)
	if n == 0 {
		return 0, nil
	}
	if n > 64 {
		return 0, fmt.Errorf("%w: got %d", ErrTooWide, n)
	}
	top := uint64(1) << uint(n-1)
	var val uint64
	for _, bit := range v {
		val >>= 1
		if bit {
			val |= top
		}
	}
	return val, nil
}

// MustValue is Value for vectors known to fit, such as register-sized
// results.
func (v Vector) MustValue() uint64 {
	val, err := v.Value()
	if err != nil {
		panic(err)
	}
	return val
}

// Equal reports whether two vectors hold the same bits.
func (v Vector) Equal(o Vector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// String renders the vector as '0'/'1' characters in shift order.
func (v Vector) String() string {
	var b strings.Builder
	b.Grow(len(v))
	for _, bit := range v {
		if bit {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Parse reads a string produced by String. Underscores are ignored so long
// patterns can be grouped.
func Parse(s string) (Vector, error) {
	out := make(Vector, 0, len(s))
	for i, r := range s {
		switch r {
		case '0':
			out = append(out, false)
		case '1':
			out = append(out, true)
		case '_':
		default:
			return nil, fmt.Errorf("bitvec: invalid digit %q at %d", r, i)
		}
	}
	return out, nil
}

// Concat joins vectors in order.
func Concat(parts ...Vector) Vector {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make(Vector, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Pack stores the bits LSB-first into bytes.
func Pack(v Vector) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, (len(v)+7)/8)
	for i, bit := range v {
		if bit {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// Unpack extracts n bits from an LSB-first byte buffer. Missing bytes read as
// zero.
func Unpack(buf []byte, n int) Vector {
	if n <= 0 {
		return Vector{}
	}
	out := make(Vector, n)
	for i := 0; i < n; i++ {
		if i/8 < len(buf) {
			out[i] = buf[i/8]&(1<<(uint(i)%8)) != 0
		}
	}
	return out
}

// Word packs up to 32 bits LSB-first into a register word.
func Word(v Vector) uint32 {
	var w uint32
	for i, bit := range v {
		if i >= 32 {
			break
		}
		if bit {
			w |= 1 << uint(i)
		}
	}
	return w
}

// FromWord is the inverse of Word for n <= 32 bits.
func FromWord(w uint32, n int) Vector {
	if n > 32 {
		n = 32
	}
	return FromValue(uint64(w), n)
}

// Repeat returns n copies of bit.
func Repeat(bit bool, n int) Vector {
	out := make(Vector, n)
	if bit {
		for i := range out {
			out[i] = true
		}
	}
	return out
}
