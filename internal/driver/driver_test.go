package driver_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/sdtpatch/sdtpatch/internal/driver"
	"github.com/sdtpatch/sdtpatch/internal/elfobj"
)

// section describes one section of a hand-assembled test object; data is
// nil for SHT_NULL.
type section struct {
	name      string
	typ       elf.SectionType
	flags     elf.SectionFlag
	link      uint32
	info      uint32
	addralign uint64
	data      []byte
}

// buildObject assembles a full ET_REL x86-64 object from raw section
// descriptions, independently of the elfobj package under test, so this
// is a genuine fixture rather than a round-trip through the same code.
func buildObject(t *testing.T, sections []section) []byte {
	t.Helper()

	const ehdrSize = 64
	const shdrSize = 64

	shstrtabIdx := len(sections)
	sections = append(sections, section{name: ".shstrtab", typ: elf.SHT_STRTAB, addralign: 1})

	shstrtab := []byte{0x00}
	nameOffs := make([]uint32, len(sections))
	for i, s := range sections {
		if s.typ == elf.SHT_NULL {
			continue
		}
		nameOffs[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, append([]byte(s.name), 0)...)
	}
	sections[shstrtabIdx].data = shstrtab

	var body bytes.Buffer
	body.Write(make([]byte, ehdrSize))

	offsets := make([]uint64, len(sections))
	for i, s := range sections {
		if s.typ == elf.SHT_NULL {
			continue
		}
		align := s.addralign
		if align == 0 {
			align = 1
		}
		for uint64(body.Len())%align != 0 {
			body.WriteByte(0)
		}
		offsets[i] = uint64(body.Len())
		body.Write(s.data)
	}

	shoff := uint64(body.Len())
	for shoff%8 != 0 {
		shoff++
	}
	for uint64(body.Len()) < shoff {
		body.WriteByte(0)
	}

	out := body.Bytes()

	for i, s := range sections {
		var shdr elf.Section64
		if s.typ != elf.SHT_NULL {
			shdr = elf.Section64{
				Name: nameOffs[i], Type: uint32(s.typ), Flags: uint64(s.flags),
				Off: offsets[i], Size: uint64(len(s.data)),
				Link: s.link, Info: s.info, Addralign: s.addralign,
			}
			if s.typ == elf.SHT_RELA {
				shdr.Entsize = 24
			} else if s.typ == elf.SHT_SYMTAB {
				shdr.Entsize = 24
			}
		}
		var b bytes.Buffer
		binary.Write(&b, binary.LittleEndian, shdr)
		out = append(out, b.Bytes()...)
	}

	ehdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)},
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Ehsize:    ehdrSize,
		Shoff:     shoff,
		Shentsize: shdrSize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(shstrtabIdx),
	}
	var ehdrBuf bytes.Buffer
	binary.Write(&ehdrBuf, binary.LittleEndian, ehdr)
	copy(out[0:ehdrSize], ehdrBuf.Bytes())

	return out
}

func sym64(name uint32, bind elf.SymBind, typ elf.SymType, shndx uint16) elf.Sym64 {
	return elf.Sym64{Name: name, Info: uint8(bind)<<4 | uint8(typ)&0xf, Shndx: shndx}
}

func encodeSyms(syms []elf.Sym64) []byte {
	var buf bytes.Buffer
	for _, s := range syms {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

func encodeRelas(relas []elf.Rela64) []byte {
	var buf bytes.Buffer
	for _, r := range relas {
		binary.Write(&buf, binary.LittleEndian, r)
	}
	return buf.Bytes()
}

// buildProbeObject builds a relocatable object with one probe call site
// in .text, a matching symbol pair (__dtrace_probe_foo / sdt_foo), and a
// pre-existing SDT probe linker set, wired together exactly the way a
// compiler-and-linker-produced object would be.
func buildProbeObject(t *testing.T) []byte {
	t.Helper()

	strtab := []byte{0x00}
	addStr := func(s string) uint32 {
		off := uint32(len(strtab))
		strtab = append(strtab, append([]byte(s), 0)...)
		return off
	}
	probeFooName := addStr("__dtrace_probe_foo")
	sdtFooName := addStr("sdt_foo")

	syms := []elf.Sym64{
		{}, // STN_UNDEF
		sym64(probeFooName, elf.STB_GLOBAL, elf.STT_NOTYPE, uint16(elf.SHN_UNDEF)),
		sym64(sdtFooName, elf.STB_GLOBAL, elf.STT_NOTYPE, uint16(elf.SHN_UNDEF)),
	}

	const (
		symtabIdx   = 5
		textIdx     = 1
		probeSetIdx = 3
	)

	textData := []byte{0xE8, 0x00, 0x00, 0x00, 0x00} // CALL rel32 (unresolved)
	relaText := encodeRelas([]elf.Rela64{
		{Off: 1, Info: elf.R_INFO(1, uint32(elf.R_X86_64_PLT32)), Addend: -4},
	})

	probeSetData := make([]byte, 8) // one opaque descriptor slot; content unused by the pipeline
	relaProbeSet := encodeRelas([]elf.Rela64{
		{Off: 0, Info: elf.R_INFO(2, uint32(elf.R_X86_64_64)), Addend: 0},
	})

	sections := []section{
		{typ: elf.SHT_NULL},
		{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, addralign: 1, data: textData},
		{name: ".rela.text", typ: elf.SHT_RELA, link: symtabIdx, info: textIdx, addralign: 8, data: relaText},
		{name: "set_sdt_probes_set", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC, addralign: 1, data: probeSetData},
		{name: ".relaset_sdt_probes_set", typ: elf.SHT_RELA, link: symtabIdx, info: probeSetIdx, addralign: 8, data: relaProbeSet},
		{name: ".symtab", typ: elf.SHT_SYMTAB, link: symtabIdx + 1, info: 1, addralign: 8, data: encodeSyms(syms)},
		{name: ".strtab", typ: elf.SHT_STRTAB, addralign: 1, data: strtab},
	}

	return buildObject(t, sections)
}

func writeTempObject(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "obj.o")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write temp object: %v", err)
	}
	return path
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessRewritesProbeCallSite(t *testing.T) {
	path := writeTempObject(t, buildProbeObject(t))

	if err := driver.Process(path, driver.DefaultConfig(), testLogger()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	f, err := elfobj.Open(path)
	if err != nil {
		t.Fatalf("reopening patched object: %v", err)
	}
	defer f.Close()

	text, ok := f.SectionByName(".text")
	if !ok {
		t.Fatal("expected .text section to survive")
	}
	want := []byte{0x90, 0x90, 0x90, 0x90, 0x90}
	got := text.Bytes()
	if !bytes.Equal(got, want) {
		t.Errorf(".text bytes = % x, want % x", got, want)
	}

	relText, ok := f.SectionByName(".rela.text")
	if !ok {
		t.Fatal("expected .rela.text section to survive")
	}
	relocs, err := f.Relocs(relText)
	if err != nil {
		t.Fatalf("Relocs(.rela.text) error = %v", err)
	}
	if len(relocs) != 1 {
		t.Fatalf("len(relocs) = %d, want 1", len(relocs))
	}
	if relocs[0].Type() != uint32(elf.R_X86_64_NONE) {
		t.Errorf("neutralized reloc type = %d, want R_X86_64_NONE", relocs[0].Type())
	}

	instSec, ok := f.SectionByName("set_sdt_instance_set")
	if !ok {
		t.Fatal("expected set_sdt_instance_set section to be created")
	}
	if instSec.Size() != 16 {
		t.Errorf("set_sdt_instance_set size = %d, want 16", instSec.Size())
	}
	offset := binary.LittleEndian.Uint64(instSec.Bytes()[8:16])
	if offset != 1 {
		t.Errorf("recorded instance offset = %d, want 1", offset)
	}

	instRelSec, ok := f.SectionByName(".relaset_sdt_instance_set")
	if !ok {
		t.Fatal("expected .relaset_sdt_instance_set section to be created")
	}
	instRelocs, err := f.Relocs(instRelSec)
	if err != nil {
		t.Fatalf("Relocs(.relaset_sdt_instance_set) error = %v", err)
	}
	if len(instRelocs) != 1 {
		t.Fatalf("len(instRelocs) = %d, want 1", len(instRelocs))
	}
	if instRelocs[0].Sym() != 2 {
		t.Errorf("instance relocation symbol = %d, want 2 (sdt_foo)", instRelocs[0].Sym())
	}
	if instRelocs[0].Type() != uint32(elf.R_X86_64_64) {
		t.Errorf("instance relocation type = %d, want R_X86_64_64", instRelocs[0].Type())
	}
}

func TestProcessNoOpWhenNoProbes(t *testing.T) {
	sections := []section{
		{typ: elf.SHT_NULL},
		{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, addralign: 1, data: []byte{0x90, 0x90}},
		{name: ".symtab", typ: elf.SHT_SYMTAB, link: 3, addralign: 8, data: encodeSyms([]elf.Sym64{{}})},
		{name: ".strtab", typ: elf.SHT_STRTAB, addralign: 1, data: []byte{0x00}},
	}
	original := buildObject(t, sections)
	path := writeTempObject(t, original)

	if err := driver.Process(path, driver.DefaultConfig(), testLogger()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back object: %v", err)
	}
	if !bytes.Equal(original, rewritten) {
		t.Error("Process() modified an object with no probe call sites; expected a byte-identical no-op")
	}
}

func TestProcessSkipsNonRelocatable(t *testing.T) {
	sections := []section{
		{typ: elf.SHT_NULL},
	}
	original := buildObject(t, sections)
	// Flip e_type to ET_EXEC after the fact.
	binary.LittleEndian.PutUint16(original[16:18], uint16(elf.ET_EXEC))
	path := writeTempObject(t, original)

	if err := driver.Process(path, driver.DefaultConfig(), testLogger()); err != nil {
		t.Fatalf("Process() on non-ET_REL object should be a logged skip, not an error; got %v", err)
	}
}

func TestProcessFatalOnMissingFile(t *testing.T) {
	err := driver.Process(filepath.Join(t.TempDir(), "does-not-exist.o"), driver.DefaultConfig(), testLogger())
	if err == nil {
		t.Fatal("Process() on a missing file should return an error")
	}
	if !driver.IsFatal(err) {
		t.Error("Process() on a missing file should return a *FatalError")
	}
}
