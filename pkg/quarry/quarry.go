package quarry

import (
	"log/slog"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/deprules"
	"github.com/quarrybuild/quarry/internal/family"
	"github.com/quarrybuild/quarry/internal/kinds"
	"github.com/quarrybuild/quarry/internal/parser"
	"github.com/quarrybuild/quarry/internal/session"
	"github.com/quarrybuild/quarry/internal/synthetic"
	"github.com/quarrybuild/quarry/internal/vfs"

	// The reference rules engine registers itself so RulesEngine:
	// "visibility" works for embedders. Resolution itself never depends
	// on it.
	_ "github.com/quarrybuild/quarry/internal/deprules/visibility"
)

// Core value types, re-exported for embedding callers.
type (
	Address         = address.Address
	Input           = address.Input
	ParseOption     = address.ParseOption
	Session         = session.Session
	Listing         = session.Listing
	RuleApplication = session.RuleApplication
	Family          = family.Family
	OptionalFamily  = family.Optional
	TargetAdaptor   = family.TargetAdaptor
	Kind            = kinds.Kind
	RuleAction      = deprules.Action
	Verdict         = deprules.Verdict
)

// Error types callers match with errors.As.
type (
	InvalidSpecError   = address.InvalidSpecError
	ResolveError       = address.ResolveError
	DuplicateNameError = family.DuplicateNameError
	ParseError         = parser.ParseError
)

// Rule evaluation outcomes.
const (
	Allow = deprules.Allow
	Deny  = deprules.Deny
	Warn  = deprules.Warn
)

// Config configures a resolution session over a build tree on disk.
type Config struct {
	// Root is the build root directory. Required.
	Root string

	// Patterns are declaration file base names (globs allowed). Nil uses
	// the defaults, BUILD and BUILD.quarry.
	Patterns []string

	// Ignores removes matches from Patterns.
	Ignores []string

	// PreludeGlobs locate Starlark prelude files, relative to Root.
	PreludeGlobs []string

	// RulesEngine names a registered dependency rules implementation,
	// like "visibility". Empty means none; every rule check allows.
	RulesEngine string

	// SyntheticManifest optionally points at a YAML manifest of
	// synthetic targets, relative to Root.
	SyntheticManifest string

	// Kinds is the target kind catalog. Nil uses the builtin catalog.
	Kinds *kinds.Registry

	// Env is the environment allowlist visible to env() in declarations.
	Env map[string]string

	// Logger receives session diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Open builds a Session over the build tree rooted at cfg.Root.
func Open(cfg Config) (*Session, error) {
	engine, err := deprules.NewEngine(cfg.RulesEngine)
	if err != nil {
		return nil, err
	}

	fsys := vfs.NewOS(cfg.Root)

	var synth *synthetic.Registry
	if cfg.SyntheticManifest != "" {
		synth = synthetic.NewRegistry()
		if err := synth.Register(synthetic.NewManifestProvider(fsys, cfg.SyntheticManifest)); err != nil {
			return nil, err
		}
	}

	return session.New(session.Config{
		FS:           fsys,
		Kinds:        cfg.Kinds,
		Synthetic:    synth,
		Engine:       engine,
		Patterns:     cfg.Patterns,
		Ignores:      cfg.Ignores,
		PreludeGlobs: cfg.PreludeGlobs,
		Env:          cfg.Env,
		Logger:       cfg.Logger,
	})
}

// Parse parses a textual address spec.
func Parse(spec string, opts ...ParseOption) (Input, error) {
	return address.Parse(spec, opts...)
}

// MustParse parses a spec known to be valid, panicking otherwise.
func MustParse(spec string, opts ...ParseOption) Input {
	return address.MustParse(spec, opts...)
}

// RelativeTo resolves bare ":name" and relative path specs against dir.
func RelativeTo(dir string) ParseOption {
	return address.RelativeTo(dir)
}

// Origin records where a spec came from, for error messages.
func Origin(description string) ParseOption {
	return address.Origin(description)
}
