package hook

import (
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The resolve tests lay synthetic code into a low region so addresses like
// 0x4000 from the indirect cases are mapped.
const resolveBase = uintptr(0x1000)

func newResolveRegistry(t *testing.T, mode int) (*Registry, *RegionMemory) {
	t.Helper()
	mem := newTestRegion(t, resolveBase, 0x8000)
	return NewRegistry(mem, mode, zerolog.Nop()), mem
}

// jmpRel32 encodes E9 rel32 at from targeting to.
func jmpRel32(from, to uintptr) []byte {
	dis := uint32(int64(to) - int64(from) - 5)
	return []byte{0xe9, byte(dis), byte(dis >> 8), byte(dis >> 16), byte(dis >> 24)}
}

// jmpIndirect64 encodes FF 25 disp32, the RIP-relative import thunk form,
// at from loading its target out of slot.
func jmpIndirect64(from, slot uintptr) []byte {
	dis := uint32(int64(slot) - int64(from) - 6)
	return []byte{0xff, 0x25, byte(dis), byte(dis >> 8), byte(dis >> 16), byte(dis >> 24)}
}

func TestResolveStopsAtNonJump(t *testing.T) {
	reg, mem := newResolveRegistry(t, 64)
	addr := resolveBase + 0x100
	applyPatch(t, mem, addr, []byte{0x55}) // push rbp

	got, err := reg.ResolveRedirectChain(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestResolveFollowsJumpChain(t *testing.T) {
	reg, mem := newResolveRegistry(t, 64)
	a := resolveBase + 0x100
	b := resolveBase + 0x900
	c := resolveBase + 0x1500
	d := resolveBase + 0x2100
	applyPatch(t, mem, a, jmpRel32(a, b))
	applyPatch(t, mem, b, jmpRel32(b, c))
	applyPatch(t, mem, c, jmpRel32(c, d))
	applyPatch(t, mem, d, []byte{0x55})

	got, err := reg.ResolveRedirectChain(a)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestResolveFollowsShortJump(t *testing.T) {
	reg, mem := newResolveRegistry(t, 64)
	a := resolveBase + 0x100
	applyPatch(t, mem, a, []byte{0xeb, 0x10}) // jmp +0x10
	applyPatch(t, mem, a+2+0x10, []byte{0x55})

	got, err := reg.ResolveRedirectChain(a)
	require.NoError(t, err)
	assert.Equal(t, a+2+0x10, got)
}

func TestResolveIndirectReadsTargetFromMemory(t *testing.T) {
	reg, mem := newResolveRegistry(t, 64)
	a := resolveBase + 0x100
	slot := resolveBase + 0x1000
	target := uintptr(0x4000)

	applyPatch(t, mem, a, jmpIndirect64(a, slot))
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], uint64(target))
	applyPatch(t, mem, slot, p[:])
	applyPatch(t, mem, target, []byte{0x55})

	got, err := reg.ResolveRedirectChain(a)
	require.NoError(t, err)
	// the value stored in the slot, not the slot itself
	assert.Equal(t, target, got)
}

func TestResolveIndirectAbsolute32(t *testing.T) {
	reg, mem := newResolveRegistry(t, 32)
	a := resolveBase + 0x100
	slot := resolveBase + 0x1000
	target := uintptr(0x4000)

	// FF 25 disp32 is absolute [disp32] in 32-bit mode
	applyPatch(t, mem, a, []byte{0xff, 0x25,
		byte(slot), byte(slot >> 8), byte(slot >> 16), byte(slot >> 24)})
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(target))
	applyPatch(t, mem, slot, p[:])
	applyPatch(t, mem, target, []byte{0x55})

	got, err := reg.ResolveRedirectChain(a)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestResolveStopsAtRegisteredSite(t *testing.T) {
	reg, mem := newResolveRegistry(t, 64)
	a := resolveBase + 0x100
	b := resolveBase + 0x900

	_, err := reg.RegisterOrGet(a)
	require.NoError(t, err)
	applyPatch(t, mem, a, jmpRel32(a, b))

	// a now encodes a jump but is our own patch, do not chase it
	got, err := reg.ResolveRedirectChain(a)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestResolveStopsMidChainAtRegisteredSite(t *testing.T) {
	reg, mem := newResolveRegistry(t, 64)
	a := resolveBase + 0x100
	b := resolveBase + 0x900
	c := resolveBase + 0x1500

	_, err := reg.RegisterOrGet(b)
	require.NoError(t, err)
	applyPatch(t, mem, a, jmpRel32(a, b))
	applyPatch(t, mem, b, jmpRel32(b, c))

	got, err := reg.ResolveRedirectChain(a)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestResolveRejectsNonPositiveAddress(t *testing.T) {
	reg, _ := newResolveRegistry(t, 64)

	_, err := reg.ResolveRedirectChain(0)
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestResolveRejectsRegisterIndirectJump(t *testing.T) {
	reg, mem := newResolveRegistry(t, 64)
	a := resolveBase + 0x100
	applyPatch(t, mem, a, []byte{0xff, 0x20}) // jmp [rax]

	_, err := reg.ResolveRedirectChain(a)
	assert.ErrorIs(t, err, ErrUnknownJumpOperand)
}

func TestResolveGivesUpOnCycle(t *testing.T) {
	reg, mem := newResolveRegistry(t, 64)
	a := resolveBase + 0x100
	b := resolveBase + 0x900
	applyPatch(t, mem, a, jmpRel32(a, b))
	applyPatch(t, mem, b, jmpRel32(b, a))

	_, err := reg.ResolveRedirectChain(a)
	assert.ErrorIs(t, err, ErrChainTooDeep)
}
