package rewrite

import (
	"debug/elf"
	"fmt"
	"log/slog"

	"github.com/sdtpatch/sdtpatch/internal/elfobj"
	"github.com/sdtpatch/sdtpatch/internal/probe"
)

// SymbolMetadataError reports a probe-stub symbol with an unexpected
// type or binding (spec.md §7, "Symbol metadata violation").
type SymbolMetadataError struct {
	Symbol string
	Reason string
}

func (e *SymbolMetadataError) Error() string {
	return fmt.Sprintf("probe stub symbol %q has unexpected metadata: %s", e.Symbol, e.Reason)
}

// Rewriter implements the per-relocation decision procedure of
// spec.md §4.3: filter on symbol name, validate symbol metadata,
// dispatch to the architecture-specific patcher, and neutralize the
// relocation so the static linker ignores it.
//
// The machine's Arch is resolved lazily, inside Rewrite, only once a
// relocation's symbol has already matched Names.IsStub: an object with
// no probe stubs at all must not fail just because its machine type
// has no registered Arch (spec.md §4.3, §8 "Filter soundness").
type Rewriter struct {
	Machine elf.Machine
	Names   probe.Names
	Logger  *slog.Logger

	arch Arch // cached after the first successful ForMachine lookup
}

// New builds a Rewriter for the given ELF machine type. The machine is
// not validated here; an unsupported machine only surfaces as an error
// once a probe stub relocation is actually encountered.
func New(machine elf.Machine, names probe.Names, logger *slog.Logger) *Rewriter {
	return &Rewriter{Machine: machine, Names: names, Logger: logger}
}

// Rewrite inspects the relocation entry e, which targets section text
// at e.Off, resolving its symbol through symtab. If the symbol isn't a
// probe stub, it returns rewritten=false and leaves text untouched. If
// it is a probe stub, it patches text in place, returns a neutralized
// copy of e (type field cleared and replaced with the architecture's
// null relocation type), and returns the recorded instance.
func (r *Rewriter) Rewrite(f *elfobj.File, text *elfobj.Section, symtab *elfobj.Section, e elfobj.RelocEntry) (elfobj.RelocEntry, bool, *probe.Instance, error) {
	sym, err := f.Symbol(symtab, e.Sym())
	if err != nil {
		return e, false, nil, fmt.Errorf("resolving relocation symbol: %w", err)
	}
	name, err := f.SymbolName(symtab, sym)
	if err != nil {
		return e, false, nil, fmt.Errorf("resolving relocation symbol name: %w", err)
	}

	if !r.Names.IsStub(name) {
		return e, false, nil, nil
	}

	if elf.ST_TYPE(sym.Info) != elf.STT_NOTYPE {
		return e, false, nil, &SymbolMetadataError{Symbol: name, Reason: fmt.Sprintf("expected STT_NOTYPE, got %s", elf.ST_TYPE(sym.Info))}
	}
	if elf.ST_BIND(sym.Info) != elf.STB_GLOBAL {
		return e, false, nil, &SymbolMetadataError{Symbol: name, Reason: fmt.Sprintf("expected STB_GLOBAL, got %s", elf.ST_BIND(sym.Info))}
	}

	arch, err := r.resolveArch()
	if err != nil {
		return e, false, nil, err
	}

	data := text.MutableBytes()
	kind, err := arch.Validate(data, e.Off, name)
	if err != nil {
		return e, false, nil, err
	}
	arch.Patch(data, e.Off, kind)
	text.MarkDirty()

	neutralized := e.WithType(arch.NullRelocType())

	r.Logger.Info("rewrote probe call site",
		"probe", name,
		"offset", fmt.Sprintf("0x%x", e.Off),
		"tailCall", kind == TailCall,
	)

	return neutralized, true, &probe.Instance{SymName: name, Offset: e.Off}, nil
}

// resolveArch looks up r.Machine's Arch on first use and caches it; a
// machine with no registered Arch only becomes an error here, once a
// probe stub relocation has actually been found for it.
func (r *Rewriter) resolveArch() (Arch, error) {
	if r.arch != nil {
		return r.arch, nil
	}
	arch, err := ForMachine(r.Machine)
	if err != nil {
		return nil, err
	}
	r.arch = arch
	return arch, nil
}
