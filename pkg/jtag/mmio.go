//go:build linux || darwin || freebsd

package jtag

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MMIOBus is a RegisterBus over a memory-mapped register window, typically
// a UIO device or /dev/mem at the JTAG master's physical address. Register
// addresses are offsets into the window.
type MMIOBus struct {
	file *os.File
	mem  []byte
}

// OpenMMIO maps size bytes of path starting at offset.
func OpenMMIO(path string, offset int64, size int) (*MMIOBus, error) {
	if size <= 0 || size%4 != 0 {
		return nil, fmt.Errorf("mmio: size %d must be a positive multiple of 4", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmio: map %s: %w", path, err)
	}
	return &MMIOBus{file: f, mem: mem}, nil
}

func (m *MMIOBus) word(addr uint32) (*uint32, error) {
	if addr%4 != 0 {
		return nil, fmt.Errorf("mmio: unaligned address %#x", addr)
	}
	if m.mem == nil || int(addr)+4 > len(m.mem) {
		return nil, fmt.Errorf("mmio: address %#x outside %d byte window", addr, len(m.mem))
	}
	return (*uint32)(unsafe.Pointer(&m.mem[addr])), nil
}

// ReadRegister performs a single 32-bit load.
func (m *MMIOBus) ReadRegister(addr uint32) (uint32, error) {
	p, err := m.word(addr)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

// WriteRegister performs a single 32-bit store.
func (m *MMIOBus) WriteRegister(addr uint32, value uint32) error {
	p, err := m.word(addr)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, value)
	return nil
}

func (m *MMIOBus) Close() error {
	var err error
	if m.mem != nil {
		err = unix.Munmap(m.mem)
		m.mem = nil
	}
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func platformInterfaces() []InterfaceInfo {
	var out []InterfaceInfo
	if _, err := os.Stat("/dev/gpiomem"); err == nil {
		out = append(out, InterfaceInfo{
			Kind:        InterfaceKindGPIO,
			Description: "Raspberry Pi GPIO header",
			Path:        "/dev/gpiomem",
		})
	}
	uio, _ := filepath.Glob("/dev/uio*")
	for _, path := range uio {
		out = append(out, InterfaceInfo{
			Kind:        InterfaceKindMMIO,
			Description: "UIO register window " + filepath.Base(path),
			Path:        path,
		})
	}
	return out
}
