// Package defaults computes per-directory default field values for target
// kinds. Defaults cascade down the directory tree: each directory's
// builder is seeded from the nearest ancestor's frozen table, mutated by
// the directory's own __defaults__ directives, and frozen exactly once
// before the directory snapshot is published.
package defaults

import (
	"fmt"
	"maps"
	"sort"

	"github.com/quarrybuild/quarry/internal/kinds"
)

// Defaults is the frozen default-field table for one directory: target
// kind alias to field name to value. Never mutate a Defaults; builders
// copy on seed and on freeze. The zero value is the valid empty table.
type Defaults map[string]map[string]any

// For returns the default fields for a kind alias, or nil.
func (d Defaults) For(alias string) map[string]any {
	return d[alias]
}

// Aliases returns the aliases with configured defaults, sorted.
func (d Defaults) Aliases() []string {
	out := make([]string, 0, len(d))
	for alias := range d {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// SetArg is one alias-group entry of a __defaults__ call: the field
// values to apply to each named alias. A plain string key parses to one
// alias; a tuple key parses to several.
type SetArg struct {
	Aliases []string
	Values  map[string]any
}

// SetOptions carries the keyword options of a __defaults__ call.
type SetOptions struct {
	// All applies the given fields to every registered kind.
	All map[string]any

	// Extend keeps the previously accumulated (inherited) defaults and
	// merges into them. Without it a __defaults__ call replaces the
	// directory's whole table.
	Extend bool

	// IgnoreUnknownTargets skips aliases that are not registered instead
	// of failing.
	IgnoreUnknownTargets bool
}

// BuilderState accumulates a directory's defaults during its parse pass.
// It is confined to the goroutine constructing that directory's snapshot
// and must be frozen before the result is shared.
type BuilderState struct {
	path    string
	kinds   *kinds.Registry
	current map[string]map[string]any
	frozen  bool
}

// NewBuilderState seeds a builder from an ancestor's frozen table. A nil
// seed starts empty, which is the build root's seed.
func NewBuilderState(path string, seed Defaults, registry *kinds.Registry) *BuilderState {
	current := make(map[string]map[string]any, len(seed))
	for alias, fields := range seed {
		current[alias] = maps.Clone(fields)
	}
	return &BuilderState{path: path, kinds: registry, current: current}
}

// SetDefaults applies one __defaults__ directive.
func (s *BuilderState) SetDefaults(args []SetArg, opts SetOptions) error {
	if s.frozen {
		return fmt.Errorf("defaults for %q are frozen", s.path)
	}

	next := make(map[string]map[string]any)
	if opts.Extend {
		for alias, fields := range s.current {
			next[alias] = maps.Clone(fields)
		}
	}

	if opts.All != nil {
		all := SetArg{Aliases: s.kinds.Aliases(), Values: opts.All}
		if err := s.apply(next, all, true); err != nil {
			return err
		}
	}
	for _, arg := range args {
		if err := s.apply(next, arg, opts.IgnoreUnknownTargets); err != nil {
			return err
		}
	}

	s.current = next
	return nil
}

func (s *BuilderState) apply(table map[string]map[string]any, arg SetArg, ignoreUnknown bool) error {
	for _, alias := range arg.Aliases {
		if !s.kinds.IsRegistered(alias) {
			if ignoreUnknown {
				continue
			}
			return fmt.Errorf("unrecognized target kind %q in __defaults__ for %q", alias, displayPath(s.path))
		}
		fields := table[alias]
		if fields == nil {
			fields = make(map[string]any, len(arg.Values))
			table[alias] = fields
		}
		maps.Copy(fields, arg.Values)
	}
	return nil
}

// Freeze converts the accumulated state into an immutable Defaults. The
// builder rejects further mutation afterwards.
func (s *BuilderState) Freeze() Defaults {
	s.frozen = true
	out := make(Defaults, len(s.current))
	for alias, fields := range s.current {
		if len(fields) == 0 {
			continue
		}
		out[alias] = maps.Clone(fields)
	}
	return out
}

func displayPath(path string) string {
	if path == "" {
		return "//"
	}
	return path
}
