package hook

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfRange means an access fell outside the memory region.
	ErrOutOfRange = errors.New("address out of range")
	// ErrNotWritable means a write hit memory whose protection excludes writes.
	ErrNotWritable = errors.New("memory not writable")
)

// Protection is a page-protection bitmask.
type Protection int

const (
	ProtNone  Protection = 0
	ProtRead  Protection = 1
	ProtWrite Protection = 2
	ProtExec  Protection = 4

	ProtReadWrite = ProtRead | ProtWrite
	ProtReadExec  = ProtRead | ProtExec
	ProtAll       = ProtRead | ProtWrite | ProtExec
)

// Memory is the boundary between hook bookkeeping and raw process memory.
// Everything above it operates on owned byte buffers only; implementations
// provide the actual reads, writes and page-protection changes.
type Memory interface {
	// ReadAt fills buf with the bytes starting at addr.
	ReadAt(addr uintptr, buf []byte) error
	// WriteAt copies data over the bytes starting at addr. The range must
	// currently be writable.
	WriteAt(addr uintptr, data []byte) error
	// Protect sets the protection for [addr, addr+length) and returns the
	// protection previously in effect.
	Protect(addr uintptr, length int, prot Protection) (Protection, error)
}

// RegionMemory is a Memory over an owned buffer mapped at a fixed base
// address. Accesses are bounds-checked and writes honor the current
// protection, so detour writers can be exercised without touching live
// pages.
type RegionMemory struct {
	base uintptr

	mu   sync.Mutex
	data []byte
	prot Protection
}

// NewRegionMemory maps size zero bytes at base with read+execute
// protection, the state executable code normally sits in.
func NewRegionMemory(base uintptr, size int) *RegionMemory {
	return &RegionMemory{
		base: base,
		data: make([]byte, size),
		prot: ProtReadExec,
	}
}

// Base returns the first mapped address.
func (m *RegionMemory) Base() uintptr { return m.base }

// Size returns the mapped length in bytes.
func (m *RegionMemory) Size() int { return len(m.data) }

// Protection returns the protection currently in effect.
func (m *RegionMemory) Protection() Protection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prot
}

func (m *RegionMemory) slice(addr uintptr, length int) ([]byte, error) {
	if addr < m.base || addr+uintptr(length) > m.base+uintptr(len(m.data)) {
		return nil, errors.Wrapf(ErrOutOfRange, "0x%x+%d outside [0x%x, 0x%x)",
			addr, length, m.base, m.base+uintptr(len(m.data)))
	}
	off := addr - m.base
	return m.data[off : off+uintptr(length)], nil
}

func (m *RegionMemory) ReadAt(addr uintptr, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.slice(addr, len(buf))
	if err != nil {
		return err
	}
	copy(buf, s)
	return nil
}

func (m *RegionMemory) WriteAt(addr uintptr, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prot&ProtWrite == 0 {
		return errors.Wrapf(ErrNotWritable, "write of %d bytes at 0x%x", len(data), addr)
	}
	s, err := m.slice(addr, len(data))
	if err != nil {
		return err
	}
	copy(s, data)
	return nil
}

func (m *RegionMemory) Protect(addr uintptr, length int, prot Protection) (Protection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.slice(addr, length); err != nil {
		return ProtNone, err
	}
	prev := m.prot
	m.prot = prot
	return prev, nil
}
