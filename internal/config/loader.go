package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] when the corresponding field is zero.
const (
	DefaultCoordinatorMaxRounds = 10
	DefaultTurnBudget           = 2 * time.Minute
	DefaultCallTimeout          = 30 * time.Second
	DefaultAdapterMaxRounds     = 8
)

// ValidProviderNames lists known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// BuiltinCapabilities lists the capability names shipped with roamfit.
// Used by [Validate] to warn about likely typos.
var BuiltinCapabilities = []string{
	"equipment", "history", "planner", "analytics", "location",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued bounds with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Coordinator.MaxRounds == 0 {
		cfg.Coordinator.MaxRounds = DefaultCoordinatorMaxRounds
	}
	if cfg.Coordinator.TurnBudget == 0 {
		cfg.Coordinator.TurnBudget = DefaultTurnBudget
	}
	for i := range cfg.Capabilities {
		if cfg.Capabilities[i].Timeout == 0 {
			cfg.Capabilities[i].Timeout = DefaultCallTimeout
		}
		if cfg.Capabilities[i].MaxRounds == 0 {
			cfg.Capabilities[i].MaxRounds = DefaultAdapterMaxRounds
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)

	if cfg.Providers.LLM.Name == "" && len(cfg.Capabilities) > 0 {
		errs = append(errs, errors.New("providers.llm is required when capabilities are configured"))
	}

	// Coordinator bounds
	if cfg.Coordinator.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("coordinator.max_rounds %d must not be negative", cfg.Coordinator.MaxRounds))
	}
	if cfg.Coordinator.TurnBudget < 0 {
		errs = append(errs, fmt.Errorf("coordinator.turn_budget %s must not be negative", cfg.Coordinator.TurnBudget))
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; workouts will be kept in memory only")
	}

	// Capability duplicate name detection
	namesSeen := make(map[string]int, len(cfg.Capabilities))

	for i, cap := range cfg.Capabilities {
		prefix := fmt.Sprintf("capabilities[%d]", i)
		if cap.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[cap.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of capabilities[%d]", prefix, cap.Name, prev))
			}
			namesSeen[cap.Name] = i
			if !slices.Contains(BuiltinCapabilities, cap.Name) {
				slog.Warn("unknown capability name — may be a typo or a custom service",
					"name", cap.Name,
					"builtin", BuiltinCapabilities,
				)
			}
		}
		if cap.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required", prefix))
		}
		if cap.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, cap.Timeout))
		}
		if cap.MaxRounds < 0 {
			errs = append(errs, fmt.Errorf("%s.max_rounds %d must not be negative", prefix, cap.MaxRounds))
		}
		if cap.Vision && cfg.Providers.Vision.Name == "" && cfg.Providers.LLM.Name == "" {
			errs = append(errs, fmt.Errorf("%s: vision is enabled but neither providers.vision nor providers.llm is configured", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(role, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"role", role,
		"name", name,
		"known", ValidProviderNames,
	)
}
