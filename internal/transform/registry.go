package transform

import (
	"fmt"
	"iter"
	"sync"

	"github.com/vyrodovalexey/avmedgw/internal/observability"
)

// Registry holds named transform units and chains. Writes happen during
// configuration load; reads dominate afterwards, so access is guarded by an
// RWMutex rather than per-entry locking.
type Registry struct {
	logger observability.Logger

	mu    sync.RWMutex
	units map[string]Unit
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		logger: logger,
		units:  make(map[string]Unit),
	}
}

// Register adds a unit or chain to the registry. Registration fails with
// ErrDuplicateName when the name is taken. Chains arrive pre-validated by
// NewChain, so no format checking happens here.
func (r *Registry) Register(unit Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := unit.Name()
	if _, exists := r.units[name]; exists {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateName)
	}

	r.units[name] = unit
	r.order = append(r.order, name)

	r.logger.Info("registered transformer",
		observability.String("name", name),
		observability.String("input", unit.InputFormat().String()),
		observability.String("output", unit.OutputFormat().String()),
	)
	return nil
}

// Resolve returns the unit or chain registered under name. Resolving the
// same name twice yields the same value.
func (r *Registry) Resolve(name string) (Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, ok := r.units[name]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", name, ErrNotFound)
	}
	return unit, nil
}

// Names returns a restartable sequence of registered names in registration
// order. The sequence snapshots the order at call time.
func (r *Registry) Names() iter.Seq[string] {
	r.mu.RLock()
	snapshot := append([]string(nil), r.order...)
	r.mu.RUnlock()

	return func(yield func(string) bool) {
		for _, name := range snapshot {
			if !yield(name) {
				return
			}
		}
	}
}

// Len returns the number of registered transformers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}
