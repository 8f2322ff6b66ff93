package hook

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

func (p Protection) winProt() uint32 {
	switch {
	case p&ProtExec != 0 && p&ProtWrite != 0:
		return windows.PAGE_EXECUTE_READWRITE
	case p&ProtExec != 0 && p&ProtRead != 0:
		return windows.PAGE_EXECUTE_READ
	case p&ProtExec != 0:
		return windows.PAGE_EXECUTE
	case p&ProtWrite != 0:
		return windows.PAGE_READWRITE
	case p&ProtRead != 0:
		return windows.PAGE_READONLY
	default:
		return windows.PAGE_NOACCESS
	}
}

func protFromWin(w uint32) Protection {
	switch w {
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return ProtAll
	case windows.PAGE_EXECUTE_READ:
		return ProtReadExec
	case windows.PAGE_EXECUTE:
		return ProtExec
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return ProtReadWrite
	case windows.PAGE_READONLY:
		return ProtRead
	default:
		return ProtNone
	}
}

// Protect changes the protection of [addr, addr+length) and reports the
// protection VirtualProtect saw before the change.
func (ProcessMemory) Protect(addr uintptr, length int, prot Protection) (Protection, error) {
	var old uint32
	err := windows.VirtualProtect(addr, uintptr(length), prot.winProt(), &old)
	if err != nil {
		return ProtNone, errors.Wrapf(err, "VirtualProtect 0x%x+%d", addr, length)
	}
	return protFromWin(old), nil
}
