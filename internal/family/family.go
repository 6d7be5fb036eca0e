package family

import (
	"sort"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/defaults"
	"github.com/quarrybuild/quarry/internal/deprules"
)

// AddressMap is the parsed content of one declaration file (or one
// synthetic source): target name to adaptor. Names are unique within a
// map; NewAddressMap enforces that.
type AddressMap struct {
	// Path is the declaration file path, or the synthetic source name.
	Path    string
	Targets map[string]*TargetAdaptor
}

// NewAddressMap builds an AddressMap from parsed adaptors, rejecting
// duplicate names within the one source.
func NewAddressMap(path string, adaptors []*TargetAdaptor) (*AddressMap, error) {
	targets := make(map[string]*TargetAdaptor, len(adaptors))
	for _, adaptor := range adaptors {
		if _, exists := targets[adaptor.Name]; exists {
			return nil, &DuplicateNameError{Name: adaptor.Name, Path: path}
		}
		targets[adaptor.Name] = adaptor
	}
	return &AddressMap{Path: path, Targets: targets}, nil
}

// Family is the immutable snapshot of one directory: every declared
// target across all of the directory's declaration sources, the frozen
// defaults, and the frozen dependency rule tables. Once constructed a
// Family is shared freely across goroutines without synchronization.
type Family struct {
	// Namespace is the directory path, relative to the build root.
	Namespace string

	// Defaults is the directory's frozen default-field table.
	Defaults defaults.Defaults

	// DependenciesRules governs edges leaving this directory; nil when
	// the chain configured none.
	DependenciesRules *deprules.RuleSet

	// DependentsRules governs edges entering this directory; nil when
	// the chain configured none.
	DependentsRules *deprules.RuleSet

	targets map[string]*TargetAdaptor
	origins map[string]string
}

// NewFamily merges a directory's address maps into a Family, enforcing
// target-name uniqueness across all of them. Maps are merged in the given
// order, which callers keep deterministic (sorted file paths, then
// synthetic sources) so duplicate diagnostics are stable.
func NewFamily(namespace string, maps []*AddressMap, defaultsTable defaults.Defaults, dependenciesRules, dependentsRules *deprules.RuleSet) (*Family, error) {
	targets := make(map[string]*TargetAdaptor)
	origins := make(map[string]string)
	for _, m := range maps {
		names := make([]string, 0, len(m.Targets))
		for name := range m.Targets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if previous, exists := origins[name]; exists {
				return nil, &DuplicateNameError{Name: name, Path: m.Path, PreviousPath: previous}
			}
			targets[name] = m.Targets[name]
			origins[name] = m.Path
		}
	}
	return &Family{
		Namespace:         namespace,
		Defaults:          defaultsTable,
		DependenciesRules: dependenciesRules,
		DependentsRules:   dependentsRules,
		targets:           targets,
		origins:           origins,
	}, nil
}

// Target looks up a declared target by name.
func (f *Family) Target(name string) (*TargetAdaptor, bool) {
	t, ok := f.targets[name]
	return t, ok
}

// OriginOf returns the declaration source path of a target.
func (f *Family) OriginOf(name string) (string, bool) {
	p, ok := f.origins[name]
	return p, ok
}

// TargetNames returns all declared target names, sorted.
func (f *Family) TargetNames() []string {
	names := make([]string, 0, len(f.targets))
	for name := range f.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Addresses returns the address of every declared target, sorted by
// spec.
func (f *Family) Addresses() []address.Address {
	out := make([]address.Address, 0, len(f.targets))
	for _, name := range f.TargetNames() {
		out = append(out, address.Address{SpecPath: f.Namespace, TargetName: name})
	}
	return out
}

// Len is the number of declared targets.
func (f *Family) Len() int { return len(f.targets) }

// View projects a declared target into the slice rule engines match on.
func (f *Family) View(name string) (deprules.TargetView, bool) {
	t, ok := f.targets[name]
	if !ok {
		return deprules.TargetView{}, false
	}
	origin := f.origins[name]
	return deprules.TargetView{
		Address:         address.Address{SpecPath: f.Namespace, TargetName: name},
		Kind:            t.Kind,
		Tags:            t.Tags(),
		DeclarationPath: origin,
	}, true
}

// Optional is the outcome of resolving a directory that may legitimately
// hold no declarations: Family is nil for such directories and the value
// still caches as a success.
type Optional struct {
	Path   string
	Family *Family
}

// Ensure escalates an empty Optional into a resolution error, for
// callers that require declarations to exist.
func (o Optional) Ensure() (*Family, error) {
	if o.Family != nil {
		return o.Family, nil
	}
	dir := o.Path
	if dir == "" {
		dir = "//"
	}
	return nil, &address.ResolveError{
		Spec:    dir,
		Problem: "the directory contains no declaration files",
	}
}

// BuildFileAddress pairs a resolved address with the declaration file
// that defines its owning target.
type BuildFileAddress struct {
	Address address.Address
	Path    string
}
