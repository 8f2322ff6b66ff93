package hook

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

var (
	// ErrBadAddress means the chain reached a non-positive address.
	ErrBadAddress = errors.New("non-positive address in jump chain")
	// ErrUnknownJumpOperand means a jump used an operand encoding the
	// resolver does not recognize.
	ErrUnknownJumpOperand = errors.New("unrecognized jump operand encoding")
	// ErrChainTooDeep means resolution gave up after too many hops,
	// almost certainly a jump cycle.
	ErrChainTooDeep = errors.New("jump chain too deep")
)

// an x86 instruction takes at most 15 bytes
const maxInstLen = 16

const maxResolveDepth = 64

// ResolveRedirectChain follows unconditional direct jumps from addr and
// returns the first address that is not one. Import thunks and similar
// forwarding stubs resolve to the function body behind them. An address
// this registry has already patched terminates the walk immediately, so
// the resolver never chases one of its own trampolines.
func (r *Registry) ResolveRedirectChain(addr uintptr) (uintptr, error) {
	cur := addr
	for hop := 0; hop < maxResolveDepth; hop++ {
		if int64(cur) <= 0 {
			return 0, errors.Wrapf(ErrBadAddress, "hop %d from 0x%x", hop, addr)
		}
		if _, ok := r.sites.Load(cur); ok {
			return cur, nil
		}
		target, isJump, err := r.decodeJump(cur)
		if err != nil {
			return 0, err
		}
		if !isJump {
			return cur, nil
		}
		r.log.Debug().Uint64("from", uint64(cur)).Uint64("to", uint64(target)).
			Msg("followed jump")
		cur = target
	}
	return 0, errors.Wrapf(ErrChainTooDeep, "resolving 0x%x", addr)
}

// decodeJump decodes the single instruction at addr. For an unconditional
// direct jump it returns the resolved target, reading the target out of
// memory for indirect forms.
func (r *Registry) decodeJump(addr uintptr) (uintptr, bool, error) {
	buf := make([]byte, maxInstLen)
	if err := r.mem.ReadAt(addr, buf); err != nil {
		return 0, false, errors.Wrapf(err, "read instruction at 0x%x", addr)
	}
	inst, err := x86asm.Decode(buf, r.mode)
	if err != nil {
		return 0, false, errors.Wrapf(err, "decode at 0x%x", addr)
	}
	if inst.Op != x86asm.JMP {
		return 0, false, nil
	}
	switch arg := inst.Args[0].(type) {
	case x86asm.Rel:
		// EB rel8 / E9 rel32, relative to the next instruction.
		return addr + uintptr(inst.Len) + uintptr(int64(arg)), true, nil
	case x86asm.Imm:
		return uintptr(int64(arg)), true, nil
	case x86asm.Mem:
		slot, err := effectiveAddr(addr, inst.Len, arg)
		if err != nil {
			return 0, false, err
		}
		target, err := r.readPointer(slot)
		if err != nil {
			return 0, false, err
		}
		return target, true, nil
	default:
		return 0, false, errors.Wrapf(ErrUnknownJumpOperand, "%v at 0x%x", inst, addr)
	}
}

// effectiveAddr computes the memory slot an indirect jump loads its target
// from. Only the forms forwarding stubs actually use are accepted:
// instruction-pointer-relative and absolute-displacement addressing.
func effectiveAddr(addr uintptr, instLen int, m x86asm.Mem) (uintptr, error) {
	switch {
	case m.Base == x86asm.RIP && m.Index == 0:
		return addr + uintptr(instLen) + uintptr(m.Disp), nil
	case m.Segment == 0 && m.Base == 0 && m.Index == 0:
		// FF 25 disp32 in 32-bit mode, the classic import thunk.
		return uintptr(m.Disp), nil
	default:
		return 0, errors.Wrapf(ErrUnknownJumpOperand, "jmp through %v at 0x%x", m, addr)
	}
}

// readPointer loads the jump target stored at slot, one level of
// indirection, at the pointer width of the decode mode.
func (r *Registry) readPointer(slot uintptr) (uintptr, error) {
	buf := make([]byte, r.mode/8)
	if err := r.mem.ReadAt(slot, buf); err != nil {
		return 0, errors.Wrapf(err, "read jump slot at 0x%x", slot)
	}
	if r.mode == 32 {
		return uintptr(binary.LittleEndian.Uint32(buf)), nil
	}
	return uintptr(binary.LittleEndian.Uint64(buf)), nil
}
