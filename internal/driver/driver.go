// Package driver implements the top-level orchestration of spec.md
// §4.6: for each input object file, run the scanner, and if it
// recorded any probe instances, resolve and emit them before flushing
// the rewritten object back to disk.
package driver

import (
	"debug/elf"
	"errors"
	"log/slog"

	"github.com/sdtpatch/sdtpatch/internal/elfobj"
	"github.com/sdtpatch/sdtpatch/internal/emit"
	"github.com/sdtpatch/sdtpatch/internal/resolve"
	"github.com/sdtpatch/sdtpatch/internal/rewrite"
	"github.com/sdtpatch/sdtpatch/internal/scan"
)

// Run processes every path in order. It stops at the first fatal error
// (spec.md §5: "failures in one abort the program without attempting
// recovery across files") but keeps going past a skipped (non-ET_REL)
// file.
func Run(paths []string, cfg Config, logger *slog.Logger) error {
	for _, path := range paths {
		if err := Process(path, cfg, logger); err != nil {
			return err
		}
	}
	return nil
}

// Process runs the full Opened -> Scanned -> (Empty|HasInstances ->
// Emitted -> Flushed) -> Done state machine for a single object file.
// A non-relocatable input is logged as a warning and reported as nil
// error (the per-file skip case); everything else that goes wrong
// comes back as a *FatalError.
func Process(path string, cfg Config, logger *slog.Logger) error {
	f, err := elfobj.Open(path)
	if err != nil {
		return fatal(path, "open", err)
	}
	defer f.Close() // LIFO with the implicit fd acquired by Open; runs on every return path below

	if elf.Type(f.Ehdr.Type) != elf.ET_REL {
		logger.Warn("invalid ELF type, skipping", "path", path, "type", elf.Type(f.Ehdr.Type))
		return nil
	}

	names := cfg.Names()
	machine := elf.Machine(f.Ehdr.Machine)

	rewriter := rewrite.New(machine, names, logger)

	scanner := &scan.Scanner{Rewriter: rewriter, Logger: logger}
	instances, err := scanner.Scan(f)
	if err != nil {
		return fatal(path, "scan relocations", err)
	}

	if len(instances) == 0 {
		logger.Debug("no probes found", "path", path)
		return nil
	}

	emitter := &emit.Emitter{
		Names:    names,
		Resolver: &resolve.Resolver{Names: names},
		Logger:   logger,
	}
	if err := emitter.Emit(f, instances); err != nil {
		return fatal(path, "emit probe instances", err)
	}

	if err := f.Flush(); err != nil {
		return fatal(path, "flush", err)
	}

	return nil
}

// IsFatal reports whether err (or something it wraps) is a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
