package jtag

import (
	"encoding/binary"
	"fmt"
)

// CMSIS-DAP Command IDs
const (
	CmdInfo        = 0x00
	CmdHostStatus  = 0x01
	CmdConnect     = 0x02
	CmdDisconnect  = 0x03
	CmdResetTarget = 0x0A
	CmdSWJPins     = 0x10
	CmdSWJClock    = 0x11
	CmdSWJSequence = 0x12
)

// DAP_Info Info IDs
const (
	InfoVendorID     = 0x01
	InfoProductID    = 0x02
	InfoSerialNum    = 0x03
	InfoFirmwareVer  = 0x04
	InfoCapabilities = 0xF0
	InfoPacketCount  = 0xFE
	InfoPacketSize   = 0xFF
)

// Connection ports
const (
	PortDefault = 0
	PortSWD     = 1
	PortJTAG    = 2
)

// Status codes
const (
	StatusOK    = 0x00
	StatusError = 0xFF
)

// DAP_SWJ_Pins bit positions
const (
	PinTCK    = 1 << 0
	PinTMS    = 1 << 1
	PinTDI    = 1 << 2
	PinTDO    = 1 << 3
	PinNTRST  = 1 << 5
	PinNReset = 1 << 7
)

// DAP_HostStatus LED types
const (
	LEDConnect = 0
	LEDRunning = 1
)

// MaxSWJSequence is the longest clock run one DAP_SWJ_Sequence accepts.
const MaxSWJSequence = 256

// CMSISDAPProtocol handles encoding/decoding of CMSIS-DAP commands
type CMSISDAPProtocol struct {
	PacketSize int
}

// NewCMSISDAPProtocol creates a new protocol handler
func NewCMSISDAPProtocol(packetSize int) *CMSISDAPProtocol {
	return &CMSISDAPProtocol{
		PacketSize: packetSize,
	}
}

func checkResponse(resp []byte, cmd byte, minLen int) error {
	if len(resp) < minLen {
		return fmt.Errorf("cmsis-dap: response to %#02x too short (%d bytes)", cmd, len(resp))
	}
	if resp[0] != cmd {
		return fmt.Errorf("cmsis-dap: response id %#02x, want %#02x", resp[0], cmd)
	}
	return nil
}

func checkStatus(resp []byte, cmd byte, what string) error {
	if err := checkResponse(resp, cmd, 2); err != nil {
		return err
	}
	if resp[1] != StatusOK {
		return fmt.Errorf("cmsis-dap: %s failed (status %#02x)", what, resp[1])
	}
	return nil
}

// EncodeInfo builds a DAP_Info command
func (p *CMSISDAPProtocol) EncodeInfo(infoID byte) []byte {
	return []byte{CmdInfo, infoID}
}

// DecodeInfo parses a DAP_Info response
func (p *CMSISDAPProtocol) DecodeInfo(resp []byte) (string, error) {
	if err := checkResponse(resp, CmdInfo, 2); err != nil {
		return "", err
	}
	length := int(resp[1])
	if len(resp) < 2+length {
		return "", fmt.Errorf("cmsis-dap: incomplete info string")
	}
	return string(resp[2 : 2+length]), nil
}

// EncodeConnect builds a DAP_Connect command
func (p *CMSISDAPProtocol) EncodeConnect(port byte) []byte {
	return []byte{CmdConnect, port}
}

// DecodeConnect parses a DAP_Connect response
func (p *CMSISDAPProtocol) DecodeConnect(resp []byte) (byte, error) {
	if err := checkResponse(resp, CmdConnect, 2); err != nil {
		return 0, err
	}
	if resp[1] == 0 {
		return 0, fmt.Errorf("cmsis-dap: connection failed")
	}
	return resp[1], nil
}

// EncodeDisconnect builds a DAP_Disconnect command
func (p *CMSISDAPProtocol) EncodeDisconnect() []byte {
	return []byte{CmdDisconnect}
}

func (p *CMSISDAPProtocol) DecodeDisconnect(resp []byte) error {
	return checkStatus(resp, CmdDisconnect, "disconnect")
}

// EncodeSWJPins builds a DAP_SWJ_Pins command. Only pins set in sel are
// driven to the matching bit of out; wait is the settle time in microseconds.
func (p *CMSISDAPProtocol) EncodeSWJPins(out, sel byte, wait uint32) []byte {
	cmd := make([]byte, 7)
	cmd[0] = CmdSWJPins
	cmd[1] = out
	cmd[2] = sel
	binary.LittleEndian.PutUint32(cmd[3:], wait)
	return cmd
}

// DecodeSWJPins returns the pin input byte read back by the probe.
func (p *CMSISDAPProtocol) DecodeSWJPins(resp []byte) (byte, error) {
	if err := checkResponse(resp, CmdSWJPins, 2); err != nil {
		return 0, err
	}
	return resp[1], nil
}

// EncodeSWJSequence clocks count cycles (1..256) with TMS/SWDIO taken
// LSB-first from data.
func (p *CMSISDAPProtocol) EncodeSWJSequence(count int, data []byte) ([]byte, error) {
	if count < 1 || count > MaxSWJSequence {
		return nil, fmt.Errorf("cmsis-dap: sequence length %d out of range", count)
	}
	need := (count + 7) / 8
	if len(data) < need {
		return nil, fmt.Errorf("cmsis-dap: sequence needs %d data bytes, got %d", need, len(data))
	}
	cmd := make([]byte, 2+need)
	cmd[0] = CmdSWJSequence
	cmd[1] = byte(count) // 256 encodes as 0
	copy(cmd[2:], data[:need])
	return cmd, nil
}

func (p *CMSISDAPProtocol) DecodeSWJSequence(resp []byte) error {
	return checkStatus(resp, CmdSWJSequence, "swj sequence")
}

// EncodeSetClock builds a DAP_SWJ_Clock command
func (p *CMSISDAPProtocol) EncodeSetClock(hz uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], hz)
	return cmd
}

func (p *CMSISDAPProtocol) DecodeSetClock(resp []byte) error {
	return checkStatus(resp, CmdSWJClock, "set clock")
}

// EncodeHostStatus sets one of the probe's status LEDs.
func (p *CMSISDAPProtocol) EncodeHostStatus(led byte, on bool) []byte {
	cmd := []byte{CmdHostStatus, led, 0}
	if on {
		cmd[2] = 1
	}
	return cmd
}

func (p *CMSISDAPProtocol) DecodeHostStatus(resp []byte) error {
	return checkStatus(resp, CmdHostStatus, "host status")
}

// EncodeResetTarget builds a DAP_ResetTarget command
func (p *CMSISDAPProtocol) EncodeResetTarget() []byte {
	return []byte{CmdResetTarget}
}

func (p *CMSISDAPProtocol) DecodeResetTarget(resp []byte) error {
	return checkStatus(resp, CmdResetTarget, "reset target")
}
