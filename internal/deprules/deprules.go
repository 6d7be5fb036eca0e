// Package deprules models per-directory dependency visibility policy.
//
// A directory carries two rule tables: one governing edges leaving it
// (dependencies) and one governing edges entering it (dependents). The
// tables cascade down the tree like defaults do and are opaque to this
// package; an Engine implementation interprets them. With no engine
// installed every evaluation allows the edge.
package deprules

import (
	"fmt"

	"github.com/quarrybuild/quarry/internal/address"
)

// Verdict classifies one dependency edge.
type Verdict int

const (
	Allow Verdict = iota
	Deny
	Warn
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Warn:
		return "warn"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Action is the outcome of evaluating one edge. It is a value, not an
// error; callers decide whether a Deny aborts the walk and whether a Warn
// is logged. The zero Action allows.
type Action struct {
	Verdict Verdict
	Reason  string
}

// AllowAll is the outcome used when no rule engine is installed.
var AllowAll = Action{Verdict: Allow}

// TargetView is the slice of a resolved target that rule engines may
// match on.
type TargetView struct {
	Address address.Address
	Kind    string
	Tags    []string

	// DeclarationPath is the declaration file the target came from, for
	// rule violation messages.
	DeclarationPath string
}

// RuleSet is a frozen, directory-scoped rule table. Rules holds payloads
// normalized by the engine's ParseRules and is never interpreted here. A
// nil *RuleSet means the directory chain configured nothing.
type RuleSet struct {
	// Path is the directory whose declarations last set the table.
	Path string

	// Rules is the engine-owned payload.
	Rules []any
}

// Engine interprets rule tables. Implementations register themselves with
// Register and are selected by name at startup; at most one engine is
// active per session.
type Engine interface {
	// Name identifies the engine in configuration.
	Name() string

	// ParseRules validates and normalizes the arguments of one
	// __dependencies_rules__ or __dependents_rules__ call. The returned
	// payloads are stored on the RuleSet and handed back to the engine
	// during checks.
	ParseRules(path string, args []any) ([]any, error)

	// CheckDependencyRules evaluates one edge. dependenciesRules is the
	// source directory's outgoing table and dependentsRules the target
	// directory's incoming table; either may be nil.
	CheckDependencyRules(source TargetView, dependenciesRules *RuleSet, target TargetView, dependentsRules *RuleSet) Action
}

// Evaluate applies engine to one edge, with the documented fallbacks: no
// engine installed, or no rule table configured on either side, allows.
func Evaluate(engine Engine, source TargetView, dependenciesRules *RuleSet, target TargetView, dependentsRules *RuleSet) Action {
	if engine == nil {
		return AllowAll
	}
	if dependenciesRules == nil && dependentsRules == nil {
		return AllowAll
	}
	return engine.CheckDependencyRules(source, dependenciesRules, target, dependentsRules)
}

// BuilderState accumulates one directory's rule table of one direction
// during its parse pass. Like the defaults builder it is confined to the
// snapshot construction goroutine and frozen before publication.
type BuilderState struct {
	path      string
	direction string
	engine    Engine
	seed      *RuleSet
	local     []any
	touched   bool
	frozen    bool
}

// NewBuilderState seeds a builder from the nearest ancestor's frozen
// table. direction is "__dependencies_rules__" or "__dependents_rules__"
// and is used in error messages only.
func NewBuilderState(path, direction string, seed *RuleSet, engine Engine) *BuilderState {
	return &BuilderState{path: path, direction: direction, engine: engine, seed: seed}
}

// SetRules applies one rules directive. Without extend the directive
// replaces the inherited table; with extend the new rules are appended to
// the current ones.
func (s *BuilderState) SetRules(args []any, extend bool) error {
	if s.frozen {
		return fmt.Errorf("%s for %q is frozen", s.direction, displayPath(s.path))
	}
	if s.engine == nil {
		return fmt.Errorf("the %s builtin is not enabled: no dependency rules implementation is installed", s.direction)
	}

	parsed, err := s.engine.ParseRules(s.path, args)
	if err != nil {
		return fmt.Errorf("invalid %s for %q: %w", s.direction, displayPath(s.path), err)
	}

	var next []any
	if extend {
		next = append(next, s.currentRules()...)
	}
	next = append(next, parsed...)
	s.local = next
	s.touched = true
	return nil
}

func (s *BuilderState) currentRules() []any {
	if s.touched {
		return s.local
	}
	if s.seed != nil {
		return s.seed.Rules
	}
	return nil
}

// Freeze publishes the table. A directory that never touched its rules
// shares the ancestor's frozen table unchanged; a chain that configured
// nothing yields nil.
func (s *BuilderState) Freeze() *RuleSet {
	s.frozen = true
	if !s.touched {
		return s.seed
	}
	if len(s.local) == 0 {
		return nil
	}
	return &RuleSet{Path: s.path, Rules: s.local}
}

func displayPath(path string) string {
	if path == "" {
		return "//"
	}
	return path
}
