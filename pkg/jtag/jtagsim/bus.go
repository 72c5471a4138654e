package jtagsim

// Peripheral addresses on the simulated APB.
const (
	TimerAddr      = 0x1200
	ComparatorAddr = 0x1204

	// RAMSize is the byte size of the word RAM mapped at address 0.
	RAMSize = 0x1000

	counterMask = 0x7fffffff
)

// Bus is the APB target behind the access register: a word RAM at 0, a
// free-running cycle counter and a comparator that latches when the
// counter passes it.
type Bus struct {
	cycles     uint64
	ram        [RAMSize / 4]uint32
	comparator uint32
	met        bool
}

// NewBus returns a bus with zeroed RAM.
func NewBus() *Bus { return &Bus{} }

// Cycles returns the number of clock cycles elapsed.
func (b *Bus) Cycles() uint64 { return b.cycles }

func (b *Bus) tick() {
	b.cycles++
	if b.comparator != 0 && uint32(b.cycles)&counterMask == b.comparator {
		b.met = true
	}
}

// Read returns the word at addr. ok is false for unaligned or unmapped
// addresses. Reading the comparator clears its latched flag.
func (b *Bus) Read(addr uint16) (uint32, bool) {
	switch {
	case addr%4 != 0:
		return 0, false
	case addr < RAMSize:
		return b.ram[addr/4], true
	case addr == TimerAddr:
		return uint32(b.cycles) & counterMask, true
	case addr == ComparatorAddr:
		v := b.comparator
		if b.met {
			v |= 1 << 31
			b.met = false
		}
		return v, true
	}
	return 0, false
}

// Write stores data at addr. The timer is read-only.
func (b *Bus) Write(addr uint16, data uint32) bool {
	switch {
	case addr%4 != 0:
		return false
	case addr < RAMSize:
		b.ram[addr/4] = data
		return true
	case addr == ComparatorAddr:
		b.comparator = data & counterMask
		b.met = false
		return true
	}
	return false
}
