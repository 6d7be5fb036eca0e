// Package synthetic lets non-file sources contribute targets to a
// directory. Providers are registered once at startup; during family
// construction every provider is asked for the directory's declarations,
// which then participate in the same uniqueness checks as parsed files.
package synthetic

import (
	"context"
	"fmt"
	"sync"

	"github.com/quarrybuild/quarry/internal/defaults"
	"github.com/quarrybuild/quarry/internal/family"
)

// Declaration is one synthetic contribution to a directory.
type Declaration struct {
	// Map holds the contributed targets, keyed like a parsed file's map.
	Map *family.AddressMap

	// ApplyDefaults, when set, runs against the directory's frozen
	// defaults after the parse pass, letting the source fill unset
	// fields. It may mutate the adaptors in Map; family construction has
	// not published them yet.
	ApplyDefaults func(defaults.Defaults) error
}

// Provider supplies synthetic declarations for directories.
type Provider interface {
	// Name identifies the provider in errors and diagnostics.
	Name() string

	// Provide returns the declarations this source contributes to dir,
	// or nil when it has none there.
	Provide(ctx context.Context, dir string) ([]Declaration, error)
}

// Registry holds the session's providers in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	names     map[string]bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds a provider. Provider names must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if name == "" {
		return fmt.Errorf("synthetic provider name must not be empty")
	}
	if r.names[name] {
		return fmt.Errorf("synthetic provider %q is already registered", name)
	}
	r.names[name] = true
	r.providers = append(r.providers, p)
	return nil
}

// Provide collects every provider's declarations for dir, in
// registration order. A provider failure fails the directory.
func (r *Registry) Provide(ctx context.Context, dir string) ([]Declaration, error) {
	r.mu.RLock()
	providers := r.providers
	r.mu.RUnlock()

	var out []Declaration
	for _, p := range providers {
		decls, err := p.Provide(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("synthetic provider %q failed for directory %q: %w", p.Name(), dir, err)
		}
		out = append(out, decls...)
	}
	return out, nil
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}
