package deprules

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() Engine)
)

// Register adds an engine factory to the registry. Called by engine
// implementations in their init() functions.
func Register(name string, factory func() Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewEngine creates the engine registered under name. The empty name
// yields nil, meaning rule checking is disabled and every edge allows.
func NewEngine(name string) (Engine, error) {
	if name == "" {
		return nil, nil
	}
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownEngineError{Name: name, Available: EngineNames()}
	}
	return factory(), nil
}

// EngineNames returns all registered engine names (sorted).
func EngineNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownEngineError is returned when configuration names an engine that
// is not registered.
type UnknownEngineError struct {
	Name      string
	Available []string
}

func (e *UnknownEngineError) Error() string {
	return fmt.Sprintf("unknown dependency rules engine %q\nAvailable engines: %v\nHint: check rules.engine in quarry.yaml", e.Name, e.Available)
}
