// Package probe holds the domain types shared by the scanner, resolver,
// and emitter: the probe-instance record and the naming convention that
// links a probe-stub call site to its probe-descriptor symbol.
package probe

import "strings"

// Instance is one rewritten probe call site, recorded in the order its
// relocation was processed.
type Instance struct {
	// SymName is the full name of the probe-stub symbol the call site
	// referenced, e.g. "__dtrace_probe_syscall_entry".
	SymName string

	// Offset is the byte offset of the rewritten call site within its
	// enclosing text section (the relocation's original r_offset).
	Offset uint64
}

// Names holds the configurable symbol and section naming convention.
// The zero value is invalid; use [DefaultNames].
type Names struct {
	StubPrefix       string
	DescriptorPrefix string
	ProbeSetSection  string
	InstanceSection  string
	InstanceRelSection string
}

// DefaultNames returns the convention used by the original sdtconvert
// tool and assumed by spec.md when no configuration overrides it.
func DefaultNames() Names {
	return Names{
		StubPrefix:         "__dtrace_probe_",
		DescriptorPrefix:   "sdt_",
		ProbeSetSection:    "set_sdt_probes_set",
		InstanceSection:    "set_sdt_instance_set",
		InstanceRelSection: ".relaset_sdt_instance_set",
	}
}

// IsStub reports whether name is a probe-stub symbol name.
func (n Names) IsStub(name string) bool {
	return strings.HasPrefix(name, n.StubPrefix)
}

// Suffix returns the probe name embedded in a stub symbol name, i.e.
// the part after StubPrefix. The caller must have already checked
// IsStub.
func (n Names) Suffix(stubName string) string {
	return stubName[len(n.StubPrefix):]
}

// descriptorSuffix mirrors the (slightly loose) matching the original C
// source performs in record_instance: it slices off a fixed-length
// DescriptorPrefix without verifying the prefix bytes actually match. A
// probe-descriptor candidate shorter than DescriptorPrefix is skipped
// instead of sliced out of bounds.
func (n Names) descriptorSuffix(candidate string) (string, bool) {
	if len(candidate) < len(n.DescriptorPrefix) {
		return "", false
	}
	return candidate[len(n.DescriptorPrefix):], true
}

// MatchesDescriptor reports whether the probe-descriptor symbol name
// candidate refers to the same probe as the stub symbol name stub.
func (n Names) MatchesDescriptor(candidate, stub string) bool {
	suffix, ok := n.descriptorSuffix(candidate)
	if !ok {
		return false
	}
	return suffix == n.Suffix(stub)
}
