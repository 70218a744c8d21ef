package elfobj_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/sdtpatch/sdtpatch/internal/elfobj"
)

// buildMinimalObject assembles a tiny, valid ET_REL object with three
// sections (null, .text, .shstrtab) entirely by hand, independently of
// the elfobj encoder, so the round-trip test below isn't just checking
// the package against itself.
func buildMinimalObject(t *testing.T, textBytes []byte) []byte {
	t.Helper()

	const ehdrSize = 64
	const shdrSize = 64

	shstrtab := []byte{0x00}
	nameOff := func(name string) uint32 {
		off := uint32(len(shstrtab))
		shstrtab = append(shstrtab, append([]byte(name), 0)...)
		return off
	}

	textNameOff := nameOff(".text")
	shstrtabNameOff := nameOff(".shstrtab")

	textOff := uint64(ehdrSize)
	textSize := uint64(len(textBytes))

	shstrtabOff := textOff + textSize
	shstrtabSize := uint64(len(shstrtab))

	shoff := shstrtabOff + shstrtabSize
	// Round up to 8 for the section header table, matching elfobj.Flush.
	if rem := shoff % 8; rem != 0 {
		shoff += 8 - rem
	}

	var buf bytes.Buffer
	buf.Write(make([]byte, ehdrSize+int(textSize)+int(shstrtabSize)))
	for buf.Len() < int(shoff) {
		buf.WriteByte(0)
	}

	out := buf.Bytes()
	copy(out[textOff:textOff+textSize], textBytes)
	copy(out[shstrtabOff:shstrtabOff+shstrtabSize], shstrtab)

	shdrs := []elf.Section64{
		{}, // SHT_NULL
		{
			Name: textNameOff, Type: uint32(elf.SHT_PROGBITS),
			Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Off:   textOff, Size: textSize, Addralign: 1,
		},
		{
			Name: shstrtabNameOff, Type: uint32(elf.SHT_STRTAB),
			Off: shstrtabOff, Size: shstrtabSize, Addralign: 1,
		},
	}

	shdrBytes := make([]byte, 0, len(shdrs)*shdrSize)
	for _, s := range shdrs {
		var b bytes.Buffer
		binary.Write(&b, binary.LittleEndian, s)
		shdrBytes = append(shdrBytes, b.Bytes()...)
	}

	out = append(out, shdrBytes...)

	ehdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)},
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Ehsize:    ehdrSize,
		Shoff:     shoff,
		Shentsize: shdrSize,
		Shnum:     uint16(len(shdrs)),
		Shstrndx:  2,
	}

	var ehdrBuf bytes.Buffer
	binary.Write(&ehdrBuf, binary.LittleEndian, ehdr)
	copy(out[0:ehdrSize], ehdrBuf.Bytes())

	return out
}

func writeTempObject(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "obj.o")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write temp object: %v", err)
	}
	return path
}

func TestOpenParsesMinimalObject(t *testing.T) {
	path := writeTempObject(t, buildMinimalObject(t, []byte{0xE8, 0x00, 0x00, 0x00, 0x00}))

	f, err := elfobj.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	text, ok := f.SectionByName(".text")
	if !ok {
		t.Fatal("expected .text section")
	}
	if text.Size() != 5 {
		t.Errorf(".text size = %d, want 5", text.Size())
	}
	if got := text.Bytes()[0]; got != 0xE8 {
		t.Errorf(".text[0] = 0x%x, want 0xE8", got)
	}
}

func TestOpenRejectsNonELF(t *testing.T) {
	path := writeTempObject(t, []byte("not an elf file"))
	if _, err := elfobj.Open(path); err != elfobj.ErrNotELF {
		t.Fatalf("Open() error = %v, want ErrNotELF", err)
	}
}

func TestAddSectionAndFlush(t *testing.T) {
	path := writeTempObject(t, buildMinimalObject(t, []byte{0x90, 0x90, 0x90, 0x90, 0x90}))

	f, err := elfobj.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	sec := f.AddSection("set_sdt_instance_set", elf.SHT_PROGBITS, elf.SHF_ALLOC)
	sec.NewData(make([]byte, 16))

	if err := f.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := elfobj.Open(path)
	if err != nil {
		t.Fatalf("reopen after Flush() error = %v", err)
	}
	defer reopened.Close()

	newSec, ok := reopened.SectionByName("set_sdt_instance_set")
	if !ok {
		t.Fatal("expected set_sdt_instance_set section to survive Flush + reopen")
	}
	if newSec.Size() != 16 {
		t.Errorf("set_sdt_instance_set size = %d, want 16", newSec.Size())
	}

	text, ok := reopened.SectionByName(".text")
	if !ok {
		t.Fatal("expected .text section to survive Flush + reopen")
	}
	if text.Size() != 5 {
		t.Errorf(".text size after flush = %d, want 5", text.Size())
	}
}
