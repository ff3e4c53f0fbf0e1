package index

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an indexer for a descriptor of its kind.
type Factory func(desc Descriptor) (Indexer, error)

// Registry maps index kinds to factories. A database instance owns one
// registry, pre-populated with the built-in kinds; additional plugin kinds
// are installed at open time.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewRegistry returns a registry with the built-in kinds installed.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[Kind]Factory)}
	r.factories[Unique] = func(d Descriptor) (Indexer, error) { return NewUnique(d), nil }
	r.factories[NonUnique] = func(d Descriptor) (Indexer, error) { return NewNonUnique(d), nil }
	r.factories[FullText] = NewFullText
	return r
}

// Register installs a factory for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Build constructs an indexer for the descriptor.
func (r *Registry) Build(desc Descriptor) (Indexer, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	f, ok := r.factories[desc.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("index: unknown index kind %q", desc.Kind)
	}
	return f(desc)
}

// Kinds lists the installed kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
