package driver

import "github.com/sdtpatch/sdtpatch/internal/probe"

// Config is the set of naming-convention knobs a deployment can
// override via the optional --config file; the zero value isn't
// meaningful on its own, use [DefaultConfig].
type Config struct {
	ProbeStubPrefix       string `mapstructure:"probe_stub_prefix" default:"__dtrace_probe_"`
	ProbeDescriptorPrefix string `mapstructure:"probe_descriptor_prefix" default:"sdt_"`
	ProbeSetSection       string `mapstructure:"probe_set_section" default:"set_sdt_probes_set"`
	InstanceSection       string `mapstructure:"instance_section" default:"set_sdt_instance_set"`
	InstanceRelSection    string `mapstructure:"instance_rel_section" default:".relaset_sdt_instance_set"`
}

// DefaultConfig returns the naming convention used by the original
// sdtconvert tool.
func DefaultConfig() Config {
	names := probe.DefaultNames()
	return Config{
		ProbeStubPrefix:       names.StubPrefix,
		ProbeDescriptorPrefix: names.DescriptorPrefix,
		ProbeSetSection:       names.ProbeSetSection,
		InstanceSection:       names.InstanceSection,
		InstanceRelSection:    names.InstanceRelSection,
	}
}

// Names converts the flat config into the probe.Names the rest of the
// pipeline consumes.
func (c Config) Names() probe.Names {
	return probe.Names{
		StubPrefix:         c.ProbeStubPrefix,
		DescriptorPrefix:   c.ProbeDescriptorPrefix,
		ProbeSetSection:    c.ProbeSetSection,
		InstanceSection:    c.InstanceSection,
		InstanceRelSection: c.InstanceRelSection,
	}
}
