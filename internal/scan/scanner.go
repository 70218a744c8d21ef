// Package scan implements the relocation-section scanner of spec.md
// §4.2: it walks every relocation section in an object, filters down
// to the ones targeting .text, and dispatches each entry to a
// [rewrite.Rewriter].
package scan

import (
	"debug/elf"
	"fmt"
	"log/slog"

	"github.com/sdtpatch/sdtpatch/internal/elfobj"
	"github.com/sdtpatch/sdtpatch/internal/probe"
	"github.com/sdtpatch/sdtpatch/internal/rewrite"
)

const textSectionName = ".text"

// Scanner walks an object's relocation sections and rewrites probe
// call sites via its Rewriter.
type Scanner struct {
	Rewriter *rewrite.Rewriter
	Logger   *slog.Logger
}

// Scan processes every relocation section in f, in section-table order,
// and returns the probe instances recorded along the way, in the order
// their relocations were processed.
func (s *Scanner) Scan(f *elfobj.File) ([]probe.Instance, error) {
	var instances []probe.Instance

	for _, sec := range f.Sections() {
		if sec.Type() != elf.SHT_REL && sec.Type() != elf.SHT_RELA {
			continue
		}

		recorded, err := s.processRelocSection(f, sec)
		if err != nil {
			return nil, fmt.Errorf("processing relocation section %s: %w", sec.Name, err)
		}
		instances = append(instances, recorded...)
	}

	return instances, nil
}

func (s *Scanner) processRelocSection(f *elfobj.File, relSec *elfobj.Section) ([]probe.Instance, error) {
	target, err := f.SectionByIndex(int(relSec.Info()))
	if err != nil {
		return nil, fmt.Errorf("resolving target section: %w", err)
	}
	if target.Name != textSectionName {
		s.Logger.Debug("skipping relocation section", "section", relSec.Name, "target", target.Name)
		return nil, nil
	}

	symtab, err := f.SectionByIndex(int(relSec.Link()))
	if err != nil {
		return nil, fmt.Errorf("resolving symbol table: %w", err)
	}

	entries, err := f.Relocs(relSec)
	if err != nil {
		return nil, fmt.Errorf("reading relocation entries: %w", err)
	}

	var recorded []probe.Instance
	for i, entry := range entries {
		neutralized, rewritten, inst, err := s.Rewriter.Rewrite(f, target, symtab, entry)
		if err != nil {
			return nil, err
		}
		if !rewritten {
			continue
		}

		if err := f.PutReloc(relSec, i, neutralized); err != nil {
			return nil, fmt.Errorf("writing back neutralized relocation %d: %w", i, err)
		}
		// PutReloc already marks relSec dirty; target was marked dirty
		// by the rewriter's in-place patch. Both must be unconditional
		// so Flush re-serializes them, per spec.md §4.2.
		recorded = append(recorded, *inst)
	}

	return recorded, nil
}
