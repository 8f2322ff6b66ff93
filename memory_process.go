package hook

import (
	"unsafe"

	"github.com/pkg/errors"
)

// ProcessMemory is the live Memory implementation: it reads and writes the
// hosting process's own address space. There is no way to bounds-check
// arbitrary addresses here; callers must only hand it addresses that are
// currently mapped, as with any inline hook.
type ProcessMemory struct{}

func makeSliceFromPointer(p uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), length)
}

func (ProcessMemory) ReadAt(addr uintptr, buf []byte) error {
	if addr == 0 {
		return errors.Wrap(ErrOutOfRange, "read at nil address")
	}
	copy(buf, makeSliceFromPointer(addr, len(buf)))
	return nil
}

func (ProcessMemory) WriteAt(addr uintptr, data []byte) error {
	if addr == 0 {
		return errors.Wrap(ErrOutOfRange, "write at nil address")
	}
	copy(makeSliceFromPointer(addr, len(data)), data)
	return nil
}
