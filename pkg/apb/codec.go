// Package apb carries APB bus transfers over a JTAG data register. A
// request is a 50-bit scan of addr<<34 | data<<2 | op; the bits captured
// by the same scan report the outcome of the previous request in the same
// layout with a status in place of the op.
package apb

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/jtagapb/pkg/bitvec"
)

// PayloadWidth is the access register length in bits.
const PayloadWidth = 50

// ErrPayloadWidth is returned when decoding a vector that is not
// PayloadWidth bits long.
var ErrPayloadWidth = errors.New("apb: payload must be 50 bits")

// Op selects what a scan asks the bridge to do.
type Op uint8

const (
	OpNone  Op = 0
	OpRead  Op = 1
	OpWrite Op = 2
)

func (o Op) String() string {
	switch o {
	case OpNone:
		return "poll"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Status is the completion code captured in the low two bits.
type Status uint8

const (
	StatusOK      Status = 0
	StatusPending Status = 1
	StatusError   Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPending:
		return "pending"
	case StatusError:
		return "slave error"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Request is one APB transfer.
type Request struct {
	Op      Op
	Address uint16
	Data    uint32
}

// Response is what the access register captured.
type Response struct {
	Address uint16
	Data    uint32
	Status  Status
}

// Encode packs a request into a scan vector.
func Encode(r Request) bitvec.Vector {
	return bitvec.FromValue(uint64(r.Address)<<34|uint64(r.Data)<<2|uint64(r.Op&3), PayloadWidth)
}

// Decode unpacks captured access register bits.
func Decode(v bitvec.Vector) (Response, error) {
	if len(v) != PayloadWidth {
		return Response{}, fmt.Errorf("%w, got %d", ErrPayloadWidth, len(v))
	}
	raw := v.MustValue()
	return Response{
		Address: uint16(raw >> 34),
		Data:    uint32(raw >> 2),
		Status:  Status(raw & 3),
	}, nil
}

// TransactionError reports a transfer that did not complete successfully.
type TransactionError struct {
	Op      Op
	Address uint16
	Status  Status
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("apb: %s at %#04x: %s", e.Op, e.Address, e.Status)
}
