package elfobj

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sdtpatch/sdtpatch/internal/align"
	"github.com/sdtpatch/sdtpatch/internal/iometa"
)

// Flush re-serializes the whole object file and writes it back to disk.
// It lays sections out sequentially in section-header-table order,
// honoring each section's alignment, and rewrites the section header
// table at the new end of the file. Unlike libelf's elf_update, this
// doesn't try to preserve the original file layout for untouched
// sections — the spec only requires that the result remain a *valid*
// relocatable object, not a byte-identical one, and the driver never
// calls Flush at all for an object with nothing to rewrite (see
// [driver.Process]), which is what keeps the no-op case byte-identical.
func (f *File) Flush() error {
	if _, err := f.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s: %w", f.path, err)
	}
	if err := f.f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", f.path, err)
	}

	cw := &iometa.CountingWriter{Writer: f.f}

	// Placeholder header; we'll seek back and rewrite it once we know
	// e_shoff and e_shnum.
	if err := iometa.WriteZeros(cw, ehdrSize); err != nil {
		return fmt.Errorf("failed to write placeholder ELF header: %w", err)
	}

	offset := uint64(ehdrSize)
	finalShdrs := make([]elf.Section64, len(f.sections))

	for i, sec := range f.sections {
		shdr := sec.Shdr

		switch sec.Type() {
		case elf.SHT_NULL:
			shdr = elf.Section64{}
		case elf.SHT_NOBITS:
			alignment := shdr.Addralign
			if alignment == 0 {
				alignment = 1
			}
			shdr.Off = align.Address(offset, alignment)
			shdr.Size = sec.nobitsSize
		default:
			alignment := shdr.Addralign
			if alignment == 0 {
				alignment = 1
			}
			aligned := align.Address(offset, alignment)
			if aligned > offset {
				if err := iometa.WriteZeros(cw, int(aligned-offset)); err != nil {
					return fmt.Errorf("failed to pad before section %s: %w", sec.Name, err)
				}
				offset = aligned
			}

			data := sec.Bytes()
			if _, err := cw.Write(data); err != nil {
				return fmt.Errorf("failed to write section %s: %w", sec.Name, err)
			}

			shdr.Off = offset
			shdr.Size = uint64(len(data))
			offset += uint64(len(data))
		}

		finalShdrs[i] = shdr
	}

	shoff := align.Address(offset, uint64(8))
	if shoff > offset {
		if err := iometa.WriteZeros(cw, int(shoff-offset)); err != nil {
			return fmt.Errorf("failed to pad before section header table: %w", err)
		}
	}

	for i, shdr := range finalShdrs {
		encoded, err := encodeSection64(shdr)
		if err != nil {
			return fmt.Errorf("failed to encode section header %d: %w", i, err)
		}
		if _, err := cw.Write(encoded); err != nil {
			return fmt.Errorf("failed to write section header %d: %w", i, err)
		}
	}

	f.Ehdr.Shoff = shoff
	f.Ehdr.Shnum = uint16(len(f.sections))
	f.Ehdr.Ehsize = ehdrSize
	f.Ehdr.Shentsize = shdrSize

	encodedHdr, err := encodeHeader64(f.Ehdr)
	if err != nil {
		return fmt.Errorf("failed to encode ELF header: %w", err)
	}
	if _, err := f.f.WriteAt(encodedHdr, 0); err != nil {
		return fmt.Errorf("failed to rewrite ELF header: %w", err)
	}

	for i, shdr := range finalShdrs {
		f.sections[i].Shdr = shdr
	}

	return nil
}
