//go:build !(linux || darwin || freebsd)

package jtag

import "fmt"

// MMIOBus is only available on platforms with mmap.
type MMIOBus struct{}

func OpenMMIO(path string, offset int64, size int) (*MMIOBus, error) {
	return nil, fmt.Errorf("mmio: %w on this platform", ErrNotImplemented)
}

func (m *MMIOBus) ReadRegister(addr uint32) (uint32, error) { return 0, ErrNotImplemented }

func (m *MMIOBus) WriteRegister(addr uint32, value uint32) error { return ErrNotImplemented }

func (m *MMIOBus) Close() error { return nil }

func platformInterfaces() []InterfaceInfo { return nil }
