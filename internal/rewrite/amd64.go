package rewrite

import (
	"debug/elf"
	"fmt"
)

const (
	opCall   = 0xE8 // CALL rel32
	opJmp32  = 0xE9 // JMP rel32 (tail call)
	opNop    = 0x90
	opRetq   = 0xC3
)

// AMD64 implements [Arch] for x86-64 probe call sites: a 5-byte CALL or
// JMP instruction to an as-yet-unresolved (zero) rel32 displacement,
// per spec.md §4.3.
type AMD64 struct{}

var _ Arch = AMD64{}

func (AMD64) Validate(data []byte, o uint64, symbol string) (CallKind, error) {
	if o == 0 || o+4 > uint64(len(data)) {
		return 0, &InstructionStreamError{Symbol: symbol, Offset: o, Reason: "relocation offset out of bounds"}
	}

	op := data[o-1]
	var kind CallKind
	switch op {
	case opCall:
		kind = Call
	case opJmp32:
		kind = TailCall
	default:
		return 0, &InstructionStreamError{
			Symbol: symbol,
			Offset: o,
			Reason: fmt.Sprintf("unexpected opcode 0x%x (want CALL 0x%x or JMP 0x%x)", op, opCall, opJmp32),
		}
	}

	disp := data[o : o+4]
	for _, b := range disp {
		if b != 0 {
			return 0, &InstructionStreamError{
				Symbol: symbol,
				Offset: o,
				Reason: "displacement bytes are non-zero; compiler should have left them unresolved",
			}
		}
	}

	return kind, nil
}

func (AMD64) Patch(data []byte, o uint64, kind CallKind) {
	// Overwrite the opcode byte plus all four displacement bytes with
	// NOPs...
	for i := o - 1; i < o+4; i++ {
		data[i] = opNop
	}
	// ...except a tail call must still return instead of falling
	// through into whatever comes next.
	if kind == TailCall {
		data[o-1] = opRetq
	}
}

func (AMD64) NullRelocType() uint32 {
	return uint32(elf.R_X86_64_NONE)
}
