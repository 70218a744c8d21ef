package elfobj

import "debug/elf"

// DataBuffer is one contiguous chunk of a section's data. A section may
// accumulate several buffers over its lifetime: one holding the bytes
// read from the input file, plus one more per call to [Section.NewData].
// This mirrors the way libelf treats Elf_Data records, and is why the
// section-header string table can grow by *appending* a record rather
// than rewriting its existing one (see [File.AddSection]).
type DataBuffer struct {
	Bytes []byte
	Dirty bool
}

// MarkDirty flags b as modified. [File.Flush] re-serializes every buffer
// whether or not it is flagged, but every mutation site still calls this
// unconditionally — see spec discussion on unconditional dirty flagging.
func (b *DataBuffer) MarkDirty() {
	b.Dirty = true
}

// Section is a single ELF section: its header plus its data buffers.
type Section struct {
	Shdr elf.Section64
	Name string

	// Index is this section's index in the section header table (ELF
	// section number). Index 0 is always the reserved null section.
	Index int

	buffers []*DataBuffer

	// nobitsSize holds the true size of a SHT_NOBITS section, which has
	// no file content at all. buffers is always empty for these.
	nobitsSize uint64
}

func (s *Section) Type() elf.SectionType   { return elf.SectionType(s.Shdr.Type) }
func (s *Section) Flags() elf.SectionFlag  { return elf.SectionFlag(s.Shdr.Flags) }
func (s *Section) Size() uint64            { return s.Shdr.Size }
func (s *Section) Link() uint32            { return s.Shdr.Link }
func (s *Section) Info() uint32            { return s.Shdr.Info }
func (s *Section) EntSize() uint64         { return s.Shdr.Entsize }
func (s *Section) Addralign() uint64       { return s.Shdr.Addralign }

// Buffers returns the section's data buffers in file order.
func (s *Section) Buffers() []*DataBuffer {
	return s.buffers
}

// Bytes returns the concatenation of all of the section's data buffers.
// For a SHT_NOBITS section it returns nil; callers must consult
// [Section.Size] instead.
func (s *Section) Bytes() []byte {
	if s.Type() == elf.SHT_NOBITS {
		return nil
	}
	if len(s.buffers) == 1 {
		// Common case: avoid a copy so in-place patching (e.g. the probe
		// call-site rewrite) mutates the section's real backing array.
		return s.buffers[0].Bytes
	}
	out := make([]byte, 0, s.Shdr.Size)
	for _, b := range s.buffers {
		out = append(out, b.Bytes...)
	}
	return out
}

// MutableBytes returns the single backing buffer for a section known to
// have exactly one data buffer (true of every section read from an
// input object before any new buffers are appended to it). It panics if
// that invariant doesn't hold, since in-place patching would silently
// operate on a throwaway copy otherwise.
func (s *Section) MutableBytes() []byte {
	if len(s.buffers) != 1 {
		panic("elfobj: MutableBytes requires exactly one data buffer")
	}
	return s.buffers[0].Bytes
}

// MarkDirty flags the section's sole data buffer as dirty. Like
// [Section.MutableBytes], it assumes a single-buffer section.
func (s *Section) MarkDirty() {
	s.MutableBytes() // panics if the invariant doesn't hold
	s.buffers[0].MarkDirty()
}

// NewData appends a new data buffer to the section, marks it dirty, and
// grows the section header's size to match. This is the Go analogue of
// elf_newdata followed by bumping sh_size.
func (s *Section) NewData(data []byte) *DataBuffer {
	buf := &DataBuffer{Bytes: data, Dirty: true}
	s.buffers = append(s.buffers, buf)
	s.Shdr.Size += uint64(len(data))
	return buf
}

func (s *Section) setLoadedData(data []byte) {
	if s.Type() == elf.SHT_NOBITS {
		s.nobitsSize = s.Shdr.Size
		return
	}
	s.buffers = []*DataBuffer{{Bytes: data}}
}
