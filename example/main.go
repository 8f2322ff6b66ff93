// Drives the whole hook lifecycle against an owned memory region: resolve
// a forwarding thunk to the real function body, register the site, let an
// external detour writer patch it, finalize, and revert at teardown. Using
// a RegionMemory keeps the demo runnable anywhere; swap in
// hook.ProcessMemory{} to operate on live code.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	hook "github.com/plugkit/hook"
)

const (
	base  = uintptr(0x1000)
	thunk = base + 0x100  // import-table style forwarding stub
	body  = base + 0x2000 // the real function
	det   = base + 0x3000 // where the detour logic lives
)

func jmpRel32(from, to uintptr) []byte {
	dis := uint32(int64(to) - int64(from) - 5)
	return []byte{0xe9, byte(dis), byte(dis >> 8), byte(dis >> 16), byte(dis >> 24)}
}

func write(mem hook.Memory, addr uintptr, data []byte) {
	prev, err := mem.Protect(addr, len(data), hook.ProtAll)
	check(err)
	check(mem.WriteAt(addr, data))
	_, err = mem.Protect(addr, len(data), prev)
	check(err)
}

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.DebugLevel).With().Timestamp().Logger()

	mem := hook.NewRegionMemory(base, 0x4000)
	write(mem, thunk, jmpRel32(thunk, body))
	write(mem, body, []byte{0x55, 0x48, 0x89, 0xe5}) // push rbp; mov rbp, rsp

	reg := hook.NewRegistry(mem, 64, logger)

	// the thunk forwards to the real body; hook that, not the thunk
	target, err := reg.ResolveRedirectChain(thunk)
	check(err)
	fmt.Printf("thunk 0x%x resolves to 0x%x\n", thunk, target)

	// register first, then let the detour writer patch, then finalize
	site, err := reg.RegisterOrGet(target)
	check(err)
	write(mem, target, jmpRel32(target, det))
	check(site.Finalize())
	fmt.Printf("hooked 0x%x, %d bytes to restore\n", site.Addr(), site.OriginalLen())

	// resolving again stops at our own patch instead of chasing it
	again, err := reg.ResolveRedirectChain(target)
	check(err)
	fmt.Printf("re-resolving 0x%x stays at 0x%x\n", target, again)

	check(reg.Close())
	fmt.Println("all hooks reverted")
}
