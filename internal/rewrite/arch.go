// Package rewrite implements the machine-specific call-site patching
// step of the probe rewriter (spec.md §4.3) behind a small dispatch
// interface, so that a future architecture only has to add a new [Arch]
// implementation rather than touch the scanner or driver.
package rewrite

import (
	"debug/elf"
	"fmt"
)

// CallKind distinguishes an ordinary call from a tail call, since the
// two require different patched bytes (a tail call must still exit via
// RET; an ordinary call can just fall through NOPs).
type CallKind int

const (
	Call CallKind = iota
	TailCall
)

// InstructionStreamError reports a probe call site whose bytes don't
// match what the compiler is expected to emit (spec.md §7,
// "Instruction-stream violation"). It is always fatal.
type InstructionStreamError struct {
	Symbol string
	Offset uint64
	Reason string
}

func (e *InstructionStreamError) Error() string {
	return fmt.Sprintf("unexpected instruction encoding for probe %q at offset 0x%x: %s", e.Symbol, e.Offset, e.Reason)
}

// UnsupportedMachineError reports an ELF machine type this package has
// no [Arch] for (spec.md §7, "Unknown machine").
type UnsupportedMachineError struct {
	Machine elf.Machine
}

func (e *UnsupportedMachineError) Error() string {
	return fmt.Sprintf("unhandled machine type %s", e.Machine)
}

// Arch is the machine-specific capability the rewriter dispatches
// through. A relocation offset O always points at the displacement
// field of the call-site instruction; the opcode byte(s) precede it.
type Arch interface {
	// Validate inspects the bytes around offset o in data (the section
	// bytes) and determines whether they encode a recognized probe call
	// site, returning its kind. It returns an *InstructionStreamError if
	// the bytes don't match what's expected.
	Validate(data []byte, o uint64, symbol string) (CallKind, error)

	// Patch overwrites the call site at offset o in data (in place)
	// with the architecture's no-op encoding for the given call kind.
	Patch(data []byte, o uint64, kind CallKind)

	// NullRelocType returns the relocation type the linker treats as a
	// no-op for this architecture (e.g. R_X86_64_NONE).
	NullRelocType() uint32
}

// ForMachine returns the Arch implementation for the given ELF machine
// type, or an [UnsupportedMachineError] if none is registered. Only
// EM_X86_64 is implemented at this cut, per spec.md's explicit
// non-goal of supporting other architectures initially.
func ForMachine(m elf.Machine) (Arch, error) {
	switch m {
	case elf.EM_X86_64:
		return AMD64{}, nil
	default:
		return nil, &UnsupportedMachineError{Machine: m}
	}
}
