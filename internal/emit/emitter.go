// Package emit implements the instance emitter of spec.md §4.5: for
// each recorded probe instance, it appends a fixed-layout record to the
// instance set section and a companion relocation that tells the
// linker which probe descriptor the record's probe field resolves to.
//
// This is also where the design completes the one genuine gap in the
// original C source: record_instance locates the matching probe-set
// relocation but never emits a relocation of its own, leaving the
// probe field perpetually zero (spec.md §9, open question 1). Emit
// always appends that relocation.
package emit

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/sdtpatch/sdtpatch/internal/elfobj"
	"github.com/sdtpatch/sdtpatch/internal/probe"
	"github.com/sdtpatch/sdtpatch/internal/resolve"
)

// recordSize is sizeof(struct probe_instance): 8 bytes probe + 8 bytes
// offset, little-endian, target-architecture 64-bit wide.
const recordSize = 16

// relaEntSize is sizeof(Elf64_Rela); libelf fills this in automatically
// from the data type during layout, but elfobj.Flush has no equivalent
// auto-layout step, so it must be set explicitly on sections this
// package creates.
const relaEntSize = 24

// Emitter creates the two new sections named by Names and appends one
// record and one relocation per probe instance.
type Emitter struct {
	Names    probe.Names
	Resolver *resolve.Resolver
	Logger   *slog.Logger
}

// Emit processes every instance in order, creating the instance-set and
// instance-relocation sections on first use.
func (e *Emitter) Emit(f *elfobj.File, instances []probe.Instance) error {
	if len(instances) == 0 {
		return nil
	}

	instSec := f.AddSection(e.Names.InstanceSection, elf.SHT_PROGBITS, elf.SHF_ALLOC)
	e.Logger.Info("added section", "section", instSec.Name)

	relSec := f.AddSection(e.Names.InstanceRelSection, elf.SHT_RELA, 0)
	relSec.Shdr.Entsize = relaEntSize
	relSec.Shdr.Info = uint32(instSec.Index)
	e.Logger.Info("added section", "section", relSec.Name)

	symtab, err := findSymtab(f)
	if err != nil {
		return err
	}
	relSec.Shdr.Link = uint32(symtab.Index)

	for i, inst := range instances {
		symIndex, err := e.Resolver.Resolve(f, inst)
		if err != nil {
			return err
		}

		record := make([]byte, recordSize)
		binary.LittleEndian.PutUint64(record[0:8], 0) // probe: filled in by the linker
		binary.LittleEndian.PutUint64(record[8:16], inst.Offset)
		instSec.NewData(record)

		recordOffset := uint64(i) * recordSize
		if err := f.AppendRela(relSec, elfobj.RelocEntry{
			Off:       recordOffset, // the record's probe field, at offset 0 within it
			Info:      elf.R_INFO(symIndex, uint32(elf.R_X86_64_64)),
			Addend:    0,
			HasAddend: true,
		}); err != nil {
			return fmt.Errorf("emitting relocation for instance %d (%s): %w", i, inst.SymName, err)
		}

		e.Logger.Info("emitted probe instance",
			"probe", inst.SymName,
			"offset", fmt.Sprintf("0x%x", inst.Offset),
		)
	}

	return nil
}

func findSymtab(f *elfobj.File) (*elfobj.Section, error) {
	for _, sec := range f.Sections() {
		if sec.Type() == elf.SHT_SYMTAB {
			return sec, nil
		}
	}
	return nil, fmt.Errorf("object file has no symbol table")
}
