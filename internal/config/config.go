// Package config holds the provider configuration: what to load, where
// dependency sources live, and how much parallelism and caching to use.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Analysis modes.
const (
	ModeSourceOnly = "source-only"
	ModeFull       = "full"
)

// DependencySource is a directory of decompiled or resolved dependency
// sources. Origin identifies the resolved package (e.g. "Newtonsoft.Json@13.0.1")
// and is folded into each file's fingerprint.
type DependencySource struct {
	Path   string `yaml:"path"`
	Origin string `yaml:"origin"`
}

// Config is the provider_specific_config of an init request, or the
// contents of a config file passed to the CLI.
type Config struct {
	Include           []string           `yaml:"include"`
	Exclude           []string           `yaml:"exclude"`
	DependencySources []DependencySource `yaml:"dependency_sources"`
	Workers           int                `yaml:"workers"`
	CacheSize         int                `yaml:"cache_size"`
	Store             string             `yaml:"store"`
	WatchDebounce     time.Duration      `yaml:"watch_debounce"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Exclude:       []string{"**/bin/**", "**/obj/**"},
		Workers:       runtime.NumCPU(),
		CacheSize:     4096,
		WatchDebounce: 300 * time.Millisecond,
	}
}

// Load reads a YAML config file on top of Default. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// FromMap decodes a loosely typed map (as carried by an init request) on
// top of base.
func FromMap(base Config, m map[string]any) (Config, error) {
	if len(m) == 0 {
		return base, nil
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return base, fmt.Errorf("config: encode provider config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("config: decode provider config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks glob syntax and numeric bounds.
func (c Config) Validate() error {
	for _, p := range append(append([]string{}, c.Include...), c.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("config: invalid glob pattern %q", p)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("config: cache_size must not be negative")
	}
	for _, d := range c.DependencySources {
		if d.Path == "" {
			return fmt.Errorf("config: dependency source without path")
		}
	}
	return nil
}
