// Package kinds holds the catalog of target kinds a build tree may
// declare. A kind contributes one callable symbol to declaration files;
// the catalog is an alias registry with optional field hints, not a field
// schema validator.
package kinds

import (
	"fmt"
	"sort"
	"sync"
)

// Kind describes one declarable target type.
type Kind struct {
	// Alias is the symbol used in declaration files, like "shell_command".
	Alias string

	// Doc is a one-line description shown by the CLI kind listing.
	Doc string

	// Generator marks kinds whose declarations expand into per-source
	// generated targets addressed as name#generated.
	Generator bool

	// FieldHints names fields commonly set on this kind. Hints inform
	// completion and docs only; unknown fields are never rejected here.
	FieldHints []string
}

// Registry is a concurrency-safe kind catalog. The zero value is not
// usable; construct with NewRegistry or DefaultRegistry.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// DefaultRegistry creates a registry pre-populated with the builtin kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, k := range builtins {
		r.kinds[k.Alias] = k
	}
	return r
}

// Register adds a kind to the registry. Registering an alias twice is an
// error so plugins cannot silently shadow builtins.
func (r *Registry) Register(k Kind) error {
	if k.Alias == "" {
		return fmt.Errorf("kind alias must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[k.Alias]; exists {
		return fmt.Errorf("kind %q is already registered", k.Alias)
	}
	r.kinds[k.Alias] = k
	return nil
}

// Get retrieves a kind by alias.
func (r *Registry) Get(alias string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[alias]
	return k, ok
}

// IsRegistered checks whether an alias names a known kind.
func (r *Registry) IsRegistered(alias string) bool {
	_, ok := r.Get(alias)
	return ok
}

// Aliases returns all registered aliases, sorted.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered kinds sorted by alias.
func (r *Registry) All() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		all = append(all, k)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Alias < all[j].Alias })
	return all
}

// UnknownKindError is returned when a declaration uses an alias that is
// not registered.
type UnknownKindError struct {
	Alias     string
	Available []string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown target kind %q\nAvailable kinds: %v", e.Alias, e.Available)
}
