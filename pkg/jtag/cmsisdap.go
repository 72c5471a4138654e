package jtag

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// packetIO is the command/response channel to a CMSIS-DAP probe.
type packetIO interface {
	WriteRead(cmd []byte) ([]byte, error)
	GetPacketSize() int
	Close() error
}

// ProbePins implements Pins on a CMSIS-DAP probe. Lines are driven with
// DAP_SWJ_Pins and clock cycles are generated with DAP_SWJ_Sequence, which
// repeats the current TMS level on every cycle.
type ProbePins struct {
	transport packetIO
	protocol  *CMSISDAPProtocol

	info         AdapterInfo
	speedHz      int
	clockEnabled bool
	tms          bool

	mu sync.Mutex
}

// OpenProbePins opens the first probe matching vid/pid and connects its
// JTAG port.
func OpenProbePins(vid, pid uint16, speedHz int) (*ProbePins, error) {
	transport, err := NewUSBTransport(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	p, err := newProbePins(transport, speedHz)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return p, nil
}

func newProbePins(transport packetIO, speedHz int) (*ProbePins, error) {
	if speedHz <= 0 {
		speedHz = 1_000_000
	}
	p := &ProbePins{
		transport: transport,
		protocol:  NewCMSISDAPProtocol(transport.GetPacketSize()),
		speedHz:   speedHz,
	}
	if err := p.queryInfo(); err != nil {
		return nil, fmt.Errorf("failed to query device info: %w", err)
	}
	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to JTAG: %w", err)
	}
	if err := p.SetSpeed(speedHz); err != nil {
		return nil, fmt.Errorf("failed to set speed: %w", err)
	}
	return p, nil
}

func (p *ProbePins) queryInfo() error {
	read := func(id byte) (string, error) {
		resp, err := p.transport.WriteRead(p.protocol.EncodeInfo(id))
		if err != nil {
			return "", err
		}
		return p.protocol.DecodeInfo(resp)
	}
	vendor, err := read(InfoVendorID)
	if err != nil {
		return err
	}
	// Probes may omit the remaining strings.
	product, _ := read(InfoProductID)
	serial, _ := read(InfoSerialNum)
	firmware, _ := read(InfoFirmwareVer)

	p.info = AdapterInfo{
		Name:         "CMSIS-DAP Probe",
		Vendor:       vendor,
		Model:        product,
		SerialNumber: serial,
		Firmware:     firmware,
		MinFrequency: 1000,
		MaxFrequency: 10_000_000,
		SupportsSRST: true,
		SupportsTRST: true,
		Notes:        "pin-level access via DAP_SWJ_Pins",
	}
	return nil
}

func (p *ProbePins) connect() error {
	resp, err := p.transport.WriteRead(p.protocol.EncodeConnect(PortJTAG))
	if err != nil {
		return err
	}
	port, err := p.protocol.DecodeConnect(resp)
	if err != nil {
		return err
	}
	if port != PortJTAG {
		return fmt.Errorf("failed to connect to JTAG (got port %d)", port)
	}
	return nil
}

// Info returns what the probe reported about itself.
func (p *ProbePins) Info() AdapterInfo {
	return p.info
}

// SetSpeed sets the TCK frequency used by DAP_SWJ_Sequence.
func (p *ProbePins) SetSpeed(hz int) error {
	if hz < p.info.MinFrequency || (p.info.MaxFrequency > 0 && hz > p.info.MaxFrequency) {
		return fmt.Errorf("speed %d Hz out of range [%d, %d]", hz, p.info.MinFrequency, p.info.MaxFrequency)
	}
	resp, err := p.transport.WriteRead(p.protocol.EncodeSetClock(uint32(hz)))
	if err != nil {
		return err
	}
	if err := p.protocol.DecodeSetClock(resp); err != nil {
		return err
	}
	p.speedHz = hz
	return nil
}

func (p *ProbePins) setPins(out, sel byte) (byte, error) {
	resp, err := p.transport.WriteRead(p.protocol.EncodeSWJPins(out, sel, 0))
	if err != nil {
		return 0, err
	}
	return p.protocol.DecodeSWJPins(resp)
}

func (p *ProbePins) Drive(sig Signal, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	level := func(mask byte, on bool) byte {
		if on {
			return mask
		}
		return 0
	}

	var err error
	switch sig {
	case SignalTCKEnable:
		p.clockEnabled = high
	case SignalTMS:
		p.tms = high
		_, err = p.setPins(level(PinTMS, high), PinTMS)
	case SignalTDI:
		_, err = p.setPins(level(PinTDI, high), PinTDI)
	case SignalTRST:
		_, err = p.setPins(level(PinNTRST, !high), PinNTRST)
	case SignalSRST:
		_, err = p.setPins(level(PinNReset, !high), PinNReset)
	case SignalLED:
		var resp []byte
		resp, err = p.transport.WriteRead(p.protocol.EncodeHostStatus(LEDRunning, high))
		if err == nil {
			err = p.protocol.DecodeHostStatus(resp)
		}
	default:
		return fmt.Errorf("%w: drive %s", ErrNotImplemented, sig)
	}
	return err
}

func (p *ProbePins) Sample(sig Signal) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var mask byte
	switch sig {
	case SignalTDO:
		mask = PinTDO
	case SignalTMS:
		mask = PinTMS
	case SignalTDI:
		mask = PinTDI
	case SignalTCKEnable:
		return p.clockEnabled, nil
	default:
		return false, fmt.Errorf("%w: sample %s", ErrNotImplemented, sig)
	}
	in, err := p.setPins(0, 0)
	if err != nil {
		return false, err
	}
	return in&mask != 0, nil
}

func (p *ProbePins) Wait(cycles int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cycles <= 0 {
		return nil
	}
	if !p.clockEnabled {
		time.Sleep(time.Duration(cycles) * time.Second / time.Duration(p.speedHz))
		return nil
	}
	fill := byte(0)
	if p.tms {
		fill = 0xFF
	}
	data := make([]byte, MaxSWJSequence/8)
	for i := range data {
		data[i] = fill
	}
	for cycles > 0 {
		n := min(cycles, MaxSWJSequence)
		cmd, err := p.protocol.EncodeSWJSequence(n, data)
		if err != nil {
			return err
		}
		resp, err := p.transport.WriteRead(cmd)
		if err != nil {
			return err
		}
		if err := p.protocol.DecodeSWJSequence(resp); err != nil {
			return err
		}
		cycles -= n
	}
	return nil
}

// Close disconnects the probe and releases the USB device.
func (p *ProbePins) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if resp, err := p.transport.WriteRead(p.protocol.EncodeDisconnect()); err != nil {
		errs = append(errs, err)
	} else if err := p.protocol.DecodeDisconnect(resp); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, p.transport.Close())
	return errors.Join(errs...)
}
