// Package config loads project configuration for quarry. Configuration
// is layered: built-in defaults, then quarry.yaml at the build root, then
// QUARRY_* environment variables, then command-line flags. The package is
// decoupled from CLI concerns so the explorer and other tools can load a
// project the same way.
package config

import (
	"fmt"
	"os"
	"strings"
)

// BuildConfig controls declaration file discovery and parsing.
type BuildConfig struct {
	// Patterns are the base names recognized as declaration files.
	Patterns []string `koanf:"patterns"`

	// Ignores removes matches from Patterns, e.g. "BUILD.*.bak".
	Ignores []string `koanf:"ignores"`

	// PreludeGlobs locate prelude files, relative to the build root.
	PreludeGlobs []string `koanf:"prelude_globs"`
}

// RulesConfig selects the dependency rules engine.
type RulesConfig struct {
	// Engine is the registered engine name; empty disables rule
	// directives entirely.
	Engine string `koanf:"engine"`
}

// SyntheticConfig controls the manifest-backed synthetic target source.
type SyntheticConfig struct {
	// Manifest is the manifest path relative to the build root.
	Manifest string `koanf:"manifest"`

	// Disabled turns the manifest source off even when the file exists.
	Disabled bool `koanf:"disabled"`
}

// EnvConfig is the allowlist of environment variables declaration files
// may read through env().
type EnvConfig struct {
	Allow []string `koanf:"allow"`
}

// StateConfig configures the target index store.
type StateConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `koanf:"backend"`

	// Path is the SQLite database file, relative to the build root.
	Path string `koanf:"path"`

	// DSN is the Postgres connection string.
	DSN string `koanf:"dsn"`
}

// ExploreConfig configures the explorer HTTP server.
type ExploreConfig struct {
	Listen string `koanf:"listen"`
}

// WatchConfig configures declaration file watching.
type WatchConfig struct {
	// DebounceMS batches filesystem events closer together than this
	// many milliseconds into one reload.
	DebounceMS int `koanf:"debounce_ms"`
}

// Config is the full project configuration.
type Config struct {
	Build     BuildConfig     `koanf:"build"`
	Rules     RulesConfig     `koanf:"rules"`
	Synthetic SyntheticConfig `koanf:"synthetic"`
	Env       EnvConfig       `koanf:"env"`
	State     StateConfig     `koanf:"state"`
	Explore   ExploreConfig   `koanf:"explore"`
	Watch     WatchConfig     `koanf:"watch"`

	// Output is the render mode: auto, text, json or markdown.
	Output string `koanf:"output"`

	// Verbose enables debug logging.
	Verbose bool `koanf:"verbose"`
}

// Validate checks cross-field constraints the koanf decode cannot.
func (c *Config) Validate() error {
	switch c.Output {
	case "auto", "text", "json", "markdown":
	default:
		return fmt.Errorf("invalid output mode %q (expected auto, text, json or markdown)", c.Output)
	}
	switch c.State.Backend {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid state backend %q (expected sqlite or postgres)", c.State.Backend)
	}
	if len(c.Build.Patterns) == 0 {
		return fmt.Errorf("build.patterns must not be empty")
	}
	return nil
}

// SessionEnv resolves the env allowlist against the process environment.
// Only allowlisted variables that are actually set appear in the result.
func (c *Config) SessionEnv() map[string]string {
	out := make(map[string]string, len(c.Env.Allow))
	for _, name := range c.Env.Allow {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			out[name] = value
		}
	}
	return out
}
