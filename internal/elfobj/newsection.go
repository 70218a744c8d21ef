package elfobj

import "debug/elf"

// AddSection appends a brand new section to the file: it reserves the
// section's name in the section header string table, then creates a
// section header pointing at that name with the given type and flags.
//
// This is the Go analogue of the C source's add_section: the string
// table grows by one new data buffer (not by rewriting its existing
// buffer), and the new section's sh_name is set to the string table's
// size *before* that buffer was appended — both shdrs are considered
// dirty until Flush serializes them.
func (f *File) AddSection(name string, typ elf.SectionType, flags elf.SectionFlag) *Section {
	shstrtab := f.Shstrtab()

	nameOff := uint32(shstrtab.Shdr.Size)
	shstrtab.NewData(append([]byte(name), 0))

	sec := &Section{
		Name:  name,
		Index: len(f.sections),
		Shdr: elf.Section64{
			Name:      nameOff,
			Type:      uint32(typ),
			Flags:     uint64(flags),
			Addralign: 8,
		},
	}
	f.sections = append(f.sections, sec)
	f.Ehdr.Shnum = uint16(len(f.sections))

	return sec
}
