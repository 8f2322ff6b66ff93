//go:build unix

package hook

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func (p Protection) unixProt() int {
	out := unix.PROT_NONE
	if p&ProtRead != 0 {
		out |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		out |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		out |= unix.PROT_EXEC
	}
	return out
}

// Protect changes the protection of every page overlapping
// [addr, addr+length). mprotect cannot report the prior protection, so the
// previous state is assumed to be read+execute, which is how executable
// code is mapped and what Restore puts back.
func (ProcessMemory) Protect(addr uintptr, length int, prot Protection) (Protection, error) {
	pageSize := uintptr(unix.Getpagesize())
	start := addr &^ (pageSize - 1)
	end := addr + uintptr(length)
	for p := start; p < end; p += pageSize {
		page := makeSliceFromPointer(p, int(pageSize))
		if err := unix.Mprotect(page, prot.unixProt()); err != nil {
			return ProtNone, errors.Wrapf(err, "mprotect page 0x%x", p)
		}
	}
	return ProtReadExec, nil
}
