package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	CapabilitiesChanged bool             // true if any capability spec changed
	CapabilityChanges   []CapabilityDiff // per-capability diffs
	LogLevelChanged     bool
	NewLogLevel         LogLevel
}

// CapabilityDiff describes what changed for a single capability between two configs.
type CapabilityDiff struct {
	Name               string
	InstructionChanged bool
	TimeoutChanged     bool
	BoundsChanged      bool
	RequiredChanged    bool
	Added              bool
	Removed            bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart. Command and Env
// changes require relaunching the subprocess and are intentionally ignored.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build capability lookup maps keyed by name.
	oldCaps := make(map[string]*CapabilitySpec, len(old.Capabilities))
	for i := range old.Capabilities {
		oldCaps[old.Capabilities[i].Name] = &old.Capabilities[i]
	}
	newCaps := make(map[string]*CapabilitySpec, len(new.Capabilities))
	for i := range new.Capabilities {
		newCaps[new.Capabilities[i].Name] = &new.Capabilities[i]
	}

	// Detect modified and removed capabilities.
	for name, oldCap := range oldCaps {
		newCap, exists := newCaps[name]
		if !exists {
			d.CapabilityChanges = append(d.CapabilityChanges, CapabilityDiff{
				Name:    name,
				Removed: true,
			})
			d.CapabilitiesChanged = true
			continue
		}
		cd := diffCapability(name, oldCap, newCap)
		if cd.InstructionChanged || cd.TimeoutChanged || cd.BoundsChanged || cd.RequiredChanged {
			d.CapabilityChanges = append(d.CapabilityChanges, cd)
			d.CapabilitiesChanged = true
		}
	}

	// Detect added capabilities.
	for name := range newCaps {
		if _, exists := oldCaps[name]; !exists {
			d.CapabilityChanges = append(d.CapabilityChanges, CapabilityDiff{
				Name:  name,
				Added: true,
			})
			d.CapabilitiesChanged = true
		}
	}

	return d
}

// diffCapability compares two capability specs with the same name.
func diffCapability(name string, old, new *CapabilitySpec) CapabilityDiff {
	cd := CapabilityDiff{Name: name}

	if old.Instruction != new.Instruction {
		cd.InstructionChanged = true
	}

	if old.Timeout != new.Timeout {
		cd.TimeoutChanged = true
	}

	if old.MaxRounds != new.MaxRounds {
		cd.BoundsChanged = true
	}

	if old.Required != new.Required {
		cd.RequiredChanged = true
	}

	return cd
}
