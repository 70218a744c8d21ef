package elfobj

import (
	"debug/elf"
	"fmt"
)

// Symbol returns the index'th entry of the symbol table section symtab,
// bounds-checked against the section's size. Index 0, the reserved
// undefined symbol, is a valid (if useless) lookup.
func (f *File) Symbol(symtab *Section, index uint32) (elf.Sym64, error) {
	data := symtab.Bytes()
	count := uint32(len(data)) / symSize
	if index >= count {
		return elf.Sym64{}, &boundsError{"symbol", int(index), int(count)}
	}
	start := index * symSize
	sym, err := decodeSym64(data[start : start+symSize])
	if err != nil {
		return elf.Sym64{}, fmt.Errorf("symbol %d: %w", index, err)
	}
	return sym, nil
}

// SymbolName resolves the name of a symbol table entry via the string
// table referenced by the symbol table's own section header (sh_link).
func (f *File) SymbolName(symtab *Section, sym elf.Sym64) (string, error) {
	return f.String(symtab.Shdr.Link, sym.Name)
}
