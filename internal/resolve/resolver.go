// Package resolve implements the probe-set resolver of spec.md §4.4: it
// matches a recorded probe instance back to the probe-descriptor symbol
// that describes it, by scanning the relocations of the pre-existing
// SDT probe linker set.
package resolve

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/sdtpatch/sdtpatch/internal/elfobj"
	"github.com/sdtpatch/sdtpatch/internal/probe"
)

// MissingDescriptorError reports a probe instance with no corresponding
// entry in the probe linker set (spec.md §7, "Missing probe
// descriptor").
type MissingDescriptorError struct {
	Probe string
}

func (e *MissingDescriptorError) Error() string {
	return fmt.Sprintf("failed to find SDT probe relocation for %s", e.Probe)
}

var (
	// ErrNoProbeSet is returned when the object has recorded probe
	// instances but no set_sdt_probes_set section at all.
	ErrNoProbeSet = errors.New("couldn't find SDT probe linker set")

	errNoProbeSetReloc = errors.New("couldn't find reloc section for SDT probe linker set")
)

// Resolver locates, for each recorded probe instance, the symbol index
// of the matching sdt_<name> probe-descriptor.
type Resolver struct {
	Names probe.Names
}

// probeSetRelocSection returns the unique relocation section whose
// sh_info indexes the probe linker set section, along with the symbol
// table it references.
func (r *Resolver) probeSetRelocSection(f *elfobj.File) (*elfobj.Section, *elfobj.Section, error) {
	probeSet, ok := f.SectionByName(r.Names.ProbeSetSection)
	if !ok {
		return nil, nil, ErrNoProbeSet
	}

	for _, sec := range f.Sections() {
		if sec.Type() != elf.SHT_REL && sec.Type() != elf.SHT_RELA {
			continue
		}
		if int(sec.Info()) != probeSet.Index {
			continue
		}
		symtab, err := f.SectionByIndex(int(sec.Link()))
		if err != nil {
			return nil, nil, fmt.Errorf("resolving probe set symbol table: %w", err)
		}
		return sec, symtab, nil
	}

	return nil, nil, errNoProbeSetReloc
}

// Resolve returns the symbol table index of the probe-descriptor symbol
// matching inst, per the suffix-comparison rule in spec.md §4.4.
func (r *Resolver) Resolve(f *elfobj.File, inst probe.Instance) (uint32, error) {
	relSec, symtab, err := r.probeSetRelocSection(f)
	if err != nil {
		return 0, err
	}

	entries, err := f.Relocs(relSec)
	if err != nil {
		return 0, fmt.Errorf("reading probe set relocations: %w", err)
	}

	for _, entry := range entries {
		symIndex := entry.Sym()
		sym, err := f.Symbol(symtab, symIndex)
		if err != nil {
			return 0, fmt.Errorf("resolving probe set relocation symbol: %w", err)
		}
		name, err := f.SymbolName(symtab, sym)
		if err != nil {
			return 0, fmt.Errorf("resolving probe set relocation symbol name: %w", err)
		}

		if r.Names.MatchesDescriptor(name, inst.SymName) {
			return symIndex, nil
		}
	}

	return 0, &MissingDescriptorError{Probe: inst.SymName}
}
