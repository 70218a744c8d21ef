package elfobj

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	ehdrSize  = 64 // sizeof(Elf64_Ehdr)
	shdrSize  = 64 // sizeof(Elf64_Shdr)
	symSize   = 24 // sizeof(Elf64_Sym)
	relSize   = 16 // sizeof(Elf64_Rel)
	relaSize  = 24 // sizeof(Elf64_Rela)
)

var (
	// ErrNotELF is returned by Open when the file doesn't start with the
	// ELF magic number.
	ErrNotELF = errors.New("not an ELF file")

	errBadClass    = errors.New("unsupported ELF class (only ELFCLASS64 is supported)")
	errBadEncoding = errors.New("unsupported ELF data encoding (only little-endian is supported)")
)

// File is an open, mutable ELF64 object file.
type File struct {
	path string
	f    *os.File

	Ehdr     elf.Header64
	sections []*Section

	// shstrtabIndex is the section index of the section header string
	// table, cached from Ehdr.Shstrndx.
	shstrtabIndex int
}

// Open opens path read-write and parses it as an ELF64 object. The
// caller must call Close when done; on any error, Open itself closes
// the underlying file descriptor.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	file, err := parse(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return file, nil
}

func parse(path string, f *os.File) (*File, error) {
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(raw) < ehdrSize || raw[0] != '\x7f' || raw[1] != 'E' || raw[2] != 'L' || raw[3] != 'F' {
		return nil, ErrNotELF
	}
	if raw[elf.EI_CLASS] != byte(elf.ELFCLASS64) {
		return nil, errBadClass
	}
	if raw[elf.EI_DATA] != byte(elf.ELFDATA2LSB) {
		return nil, errBadEncoding
	}

	ehdr, err := decodeHeader64(raw[:ehdrSize])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	file := &File{path: path, f: f, Ehdr: ehdr, shstrtabIndex: int(ehdr.Shstrndx)}

	shoff := ehdr.Shoff
	for i := 0; i < int(ehdr.Shnum); i++ {
		start := shoff + uint64(i)*uint64(ehdr.Shentsize)
		if start+shdrSize > uint64(len(raw)) {
			return nil, fmt.Errorf("%s: section header %d out of bounds", path, i)
		}
		shdr, err := decodeSection64(raw[start : start+shdrSize])
		if err != nil {
			return nil, fmt.Errorf("%s: section %d: %w", path, i, err)
		}

		sec := &Section{Shdr: shdr, Index: i}
		if shdr.Type != uint32(elf.SHT_NULL) && shdr.Type != uint32(elf.SHT_NOBITS) {
			if shdr.Off+shdr.Size > uint64(len(raw)) {
				return nil, fmt.Errorf("%s: section %d data out of bounds", path, i)
			}
			data := make([]byte, shdr.Size)
			copy(data, raw[shdr.Off:shdr.Off+shdr.Size])
			sec.setLoadedData(data)
		} else {
			sec.setLoadedData(nil)
		}
		file.sections = append(file.sections, sec)
	}

	// Resolve names now that the string table section itself has been read.
	if file.shstrtabIndex >= len(file.sections) {
		return nil, fmt.Errorf("%s: invalid section header string table index %d", path, file.shstrtabIndex)
	}
	shstrtab := file.sections[file.shstrtabIndex]
	for _, sec := range file.sections {
		name, err := lookupString(shstrtab.Bytes(), sec.Shdr.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: section %d: %w", path, sec.Index, err)
		}
		sec.Name = name
	}

	return file, nil
}

// Close releases the file descriptor without flushing any changes.
// Callers that want to persist changes must call Flush first.
func (f *File) Close() error {
	if err := f.f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", f.path, err)
	}
	return nil
}

// Sections returns every section, including the reserved null section
// at index 0, in section-header-table order.
func (f *File) Sections() []*Section {
	return f.sections
}

// SectionByIndex returns the section at the given ELF section number,
// bounds-checked.
func (f *File) SectionByIndex(idx int) (*Section, error) {
	if idx < 0 || idx >= len(f.sections) {
		return nil, &boundsError{"section", idx, len(f.sections)}
	}
	return f.sections[idx], nil
}

// SectionByName returns the first section with the given name.
func (f *File) SectionByName(name string) (*Section, bool) {
	for _, s := range f.sections {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Shstrtab returns the section header string table section.
func (f *File) Shstrtab() *Section {
	return f.sections[f.shstrtabIndex]
}

func lookupString(strtab []byte, off uint32) (string, error) {
	if uint64(off) >= uint64(len(strtab)) {
		return "", fmt.Errorf("string offset 0x%x out of range (table size %d)", off, len(strtab))
	}
	end := off
	for end < uint32(len(strtab)) && strtab[end] != 0 {
		end++
	}
	return string(strtab[off:end]), nil
}

// String looks up the NUL-terminated string at offset off in the string
// table referenced by link (an ELF section index, as stored in a
// symbol or section header's sh_link field).
func (f *File) String(link uint32, off uint32) (string, error) {
	strtab, err := f.SectionByIndex(int(link))
	if err != nil {
		return "", fmt.Errorf("string table: %w", err)
	}
	return lookupString(strtab.Bytes(), off)
}
