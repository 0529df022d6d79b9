package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Phase tags which side of a trigger a snapshot belongs to.
const (
	PhaseBefore = "before"
	PhaseAfter  = "after"
)

// Config holds all snapshot engine settings for one workspace.
type Config struct {
	// Enabled gates the whole engine; when false Create is a no-op.
	Enabled bool `yaml:"enabled"`

	// BasePath is the root directory holding one payload dir per snapshot.
	BasePath string `yaml:"base_path"`

	// MaxCheckpoints caps snapshots per session; negative means unlimited.
	MaxCheckpoints int `yaml:"max_checkpoints"`

	// Triggers maps a trigger name to the phases that want a snapshot.
	Triggers map[string][]string `yaml:"triggers"`

	// IgnorePatterns are appended after the patterns discovered in the tree.
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		Enabled:        true,
		MaxCheckpoints: 50,
		Triggers: map[string][]string{
			"write_file": {PhaseBefore},
			"edit_file":  {PhaseBefore},
			"run_shell":  {PhaseBefore, PhaseAfter},
		},
	}
}

// Load reads a YAML config file at path, falling back to defaults when the
// file is absent.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Config{}, err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// ShouldSnapshot reports whether the given trigger wants a snapshot in the
// given phase. The engine itself never consults this; callers decide.
func (c Config) ShouldSnapshot(trigger, phase string) bool {
	if !c.Enabled {
		return false
	}
	for _, p := range c.Triggers[trigger] {
		if p == phase {
			return true
		}
	}
	return false
}
