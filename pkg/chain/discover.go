package chain

import (
	"github.com/OpenTraceLab/jtagapb/pkg/idcode"
)

// Device is one TAP found by an IDCODE scan.
type Device struct {
	// Position counts from the TAP nearest TDO.
	Position     int
	IDCode       idcode.IDCode
	Manufacturer idcode.Manufacturer
	// Part is set when the IDCODE matches a known device.
	Part  *idcode.Part
	Known bool
}

// Name returns the part name, or the manufacturer name for unknown parts.
func (d Device) Name() string {
	if d.Part != nil {
		return d.Part.Name
	}
	return d.Manufacturer.Name
}

// Discover scans the chain and decodes each IDCODE.
func (n *Navigator) Discover() ([]Device, error) {
	codes, err := n.ReadIDCodes()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(codes))
	for i, raw := range codes {
		id := idcode.Parse(raw)
		m, known := idcode.LookupManufacturer(id.Manufacturer)
		dev := Device{Position: i, IDCode: id, Manufacturer: m, Known: known}
		if p, ok := idcode.LookupPart(id); ok {
			dev.Part = &p
		}
		n.logger.Info("device found", "position", i, "idcode", id.String(), "name", dev.Name())
		devices = append(devices, dev)
	}
	return devices, nil
}
