package elfobj

import (
	"debug/elf"
	"fmt"
)

// RelocEntry is a machine-independent view of one relocation record,
// covering both the implicit-addend (Elf64_Rel) and explicit-addend
// (Elf64_Rela) shapes.
type RelocEntry struct {
	Off    uint64
	Info   uint64
	Addend int64

	// HasAddend is true for entries that came from (or will be written
	// to) a SHT_RELA section.
	HasAddend bool
}

// Sym returns the symbol table index encoded in Info.
func (r RelocEntry) Sym() uint32 { return elf.R_SYM64(r.Info) }

// Type returns the relocation type encoded in Info.
func (r RelocEntry) Type() uint32 { return elf.R_TYPE64(r.Info) }

// WithType returns a copy of r with its type field replaced, leaving
// the symbol index untouched. Per the spec's correction of the C
// source's buggy "clear only the set bits" approach, this always zeroes
// the full type field before OR-ing in the new one.
func (r RelocEntry) WithType(typ uint32) RelocEntry {
	r.Info = elf.R_INFO(r.Sym(), typ)
	return r
}

func entSize(hasAddend bool) uint64 {
	if hasAddend {
		return relaSize
	}
	return relSize
}

// Relocs decodes every relocation entry in section sec, which must be
// of type SHT_REL or SHT_RELA.
func (f *File) Relocs(sec *Section) ([]RelocEntry, error) {
	hasAddend := sec.Type() == elf.SHT_RELA
	data := sec.Bytes()
	sz := entSize(hasAddend)
	count := uint64(len(data)) / sz

	entries := make([]RelocEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		raw := data[i*sz : (i+1)*sz]
		if hasAddend {
			rela, err := decodeRela64(raw)
			if err != nil {
				return nil, fmt.Errorf("%s entry %d: %w", sec.Name, i, err)
			}
			entries = append(entries, RelocEntry{Off: rela.Off, Info: rela.Info, Addend: rela.Addend, HasAddend: true})
		} else {
			rel, err := decodeRel64(raw)
			if err != nil {
				return nil, fmt.Errorf("%s entry %d: %w", sec.Name, i, err)
			}
			entries = append(entries, RelocEntry{Off: rel.Off, Info: rel.Info})
		}
	}
	return entries, nil
}

// PutReloc overwrites the index'th relocation entry of sec with e, and
// marks the section's data dirty. It does not change whether the
// section has addends; e.HasAddend is ignored in favor of sec's own
// type.
func (f *File) PutReloc(sec *Section, index int, e RelocEntry) error {
	hasAddend := sec.Type() == elf.SHT_RELA
	sz := entSize(hasAddend)

	var encoded []byte
	var err error
	if hasAddend {
		encoded, err = encodeRela64(elf.Rela64{Off: e.Off, Info: e.Info, Addend: e.Addend})
	} else {
		encoded, err = encodeRel64(elf.Rel64{Off: e.Off, Info: e.Info})
	}
	if err != nil {
		return fmt.Errorf("%s entry %d: %w", sec.Name, index, err)
	}

	buf := sec.MutableBytes()
	start := uint64(index) * sz
	if start+sz > uint64(len(buf)) {
		return &boundsError{"relocation", index, len(buf) / int(sz)}
	}
	copy(buf[start:start+sz], encoded)
	sec.MarkDirty()
	return nil
}

// AppendRela appends one new explicit-addend relocation entry to sec,
// which must be a SHT_RELA section, as a freshly-created data buffer
// (rather than growing an existing one), matching how the C source's
// record_instance would have had to grow .relaset_sdt_instance_set one
// elf_newdata call at a time.
func (f *File) AppendRela(sec *Section, e RelocEntry) error {
	encoded, err := encodeRela64(elf.Rela64{Off: e.Off, Info: e.Info, Addend: e.Addend})
	if err != nil {
		return fmt.Errorf("%s: %w", sec.Name, err)
	}
	sec.NewData(encoded)
	return nil
}
