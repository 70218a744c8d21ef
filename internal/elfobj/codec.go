package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
)

// byteOrder is fixed at little-endian: the only machine type this
// package (and sdtpatch as a whole) supports is x86-64, which is
// little-endian-only.
var byteOrder = binary.LittleEndian

func unpack(r *bytes.Reader, v any) error {
	return struc.UnpackWithOptions(r, v, &struc.Options{Order: byteOrder})
}

func pack(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := struc.PackWithOptions(buf, v, &struc.Options{Order: byteOrder}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeHeader64(data []byte) (elf.Header64, error) {
	var hdr elf.Header64
	if err := unpack(bytes.NewReader(data), &hdr); err != nil {
		return hdr, fmt.Errorf("failed to decode ELF header: %w", err)
	}
	return hdr, nil
}

func decodeSection64(data []byte) (elf.Section64, error) {
	var shdr elf.Section64
	if err := unpack(bytes.NewReader(data), &shdr); err != nil {
		return shdr, fmt.Errorf("failed to decode section header: %w", err)
	}
	return shdr, nil
}

func encodeSection64(shdr elf.Section64) ([]byte, error) {
	out, err := pack(&shdr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode section header: %w", err)
	}
	return out, nil
}

func encodeHeader64(hdr elf.Header64) ([]byte, error) {
	out, err := pack(&hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ELF header: %w", err)
	}
	return out, nil
}

func decodeSym64(data []byte) (elf.Sym64, error) {
	var sym elf.Sym64
	if err := unpack(bytes.NewReader(data), &sym); err != nil {
		return sym, fmt.Errorf("failed to decode symbol: %w", err)
	}
	return sym, nil
}

func decodeRel64(data []byte) (elf.Rel64, error) {
	var rel elf.Rel64
	if err := unpack(bytes.NewReader(data), &rel); err != nil {
		return rel, fmt.Errorf("failed to decode Rel entry: %w", err)
	}
	return rel, nil
}

func decodeRela64(data []byte) (elf.Rela64, error) {
	var rela elf.Rela64
	if err := unpack(bytes.NewReader(data), &rela); err != nil {
		return rela, fmt.Errorf("failed to decode Rela entry: %w", err)
	}
	return rela, nil
}

func encodeRel64(rel elf.Rel64) ([]byte, error) {
	out, err := pack(&rel)
	if err != nil {
		return nil, fmt.Errorf("failed to encode Rel entry: %w", err)
	}
	return out, nil
}

func encodeRela64(rela elf.Rela64) ([]byte, error) {
	out, err := pack(&rela)
	if err != nil {
		return nil, fmt.Errorf("failed to encode Rela entry: %w", err)
	}
	return out, nil
}
