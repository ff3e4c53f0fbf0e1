package store

import (
	"fmt"
	"iter"
	"sort"
	"sync"
)

// MemoryStore is the reference Store implementation: volatile, ordered
// keyspaces backed by skip lists. Suitable for tests and caches; all data is
// lost on Close.
type MemoryStore struct {
	mu        sync.RWMutex
	keyspaces map[string]*skipList
	seed      int64
	opened    bool
	closed    bool
}

// NewMemoryStore returns an unopened in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keyspaces: make(map[string]*skipList)}
}

// Name implements Store.
func (m *MemoryStore) Name() string { return "memory" }

// Open implements Store.
func (m *MemoryStore) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return fmt.Errorf("store: memory store already open")
	}
	if m.closed {
		return fmt.Errorf("store: memory store is closed")
	}
	m.opened = true
	return nil
}

// Keyspace implements Store.
func (m *MemoryStore) Keyspace(name string) (Keyspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usableLocked(); err != nil {
		return nil, err
	}
	if _, ok := m.keyspaces[name]; !ok {
		m.seed++
		m.keyspaces[name] = newSkipList(m.seed)
	}
	return &memKeyspace{store: m, name: name}, nil
}

// DropKeyspace implements Store.
func (m *MemoryStore) DropKeyspace(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usableLocked(); err != nil {
		return err
	}
	delete(m.keyspaces, name)
	return nil
}

// Keyspaces implements Store.
func (m *MemoryStore) Keyspaces() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.usableLocked(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.keyspaces))
	for name := range m.keyspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Apply implements Store. The store-wide lock is held for the whole batch, so
// readers observe either none or all of its operations.
func (m *MemoryStore) Apply(b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usableLocked(); err != nil {
		return err
	}
	for _, op := range b.Ops() {
		switch op.Kind {
		case BatchPut:
			m.keyspaceLocked(op.Keyspace).put(op.Key, op.Value)
		case BatchDelete:
			m.keyspaceLocked(op.Keyspace).delete(op.Key)
		case BatchDropKeyspace:
			delete(m.keyspaces, op.Keyspace)
		default:
			return fmt.Errorf("store: unknown batch op %d", op.Kind)
		}
	}
	return nil
}

// Flush implements Store. In-memory data has no durability; Flush is a no-op.
func (m *MemoryStore) Flush() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usableLocked()
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.keyspaces = nil
	return nil
}

func (m *MemoryStore) usableLocked() error {
	if !m.opened {
		return fmt.Errorf("store: memory store not open")
	}
	if m.closed {
		return fmt.Errorf("store: memory store is closed")
	}
	return nil
}

func (m *MemoryStore) keyspaceLocked(name string) *skipList {
	sl, ok := m.keyspaces[name]
	if !ok {
		m.seed++
		sl = newSkipList(m.seed)
		m.keyspaces[name] = sl
	}
	return sl
}

type memKeyspace struct {
	store *MemoryStore
	name  string
}

func (k *memKeyspace) Name() string { return k.name }

func (k *memKeyspace) Get(key []byte) ([]byte, bool, error) {
	k.store.mu.RLock()
	defer k.store.mu.RUnlock()
	if err := k.store.usableLocked(); err != nil {
		return nil, false, err
	}
	sl, ok := k.store.keyspaces[k.name]
	if !ok {
		return nil, false, nil
	}
	v, ok := sl.get(key)
	return v, ok, nil
}

func (k *memKeyspace) Has(key []byte) (bool, error) {
	_, ok, err := k.Get(key)
	return ok, err
}

func (k *memKeyspace) Put(key, value []byte) error {
	k.store.mu.Lock()
	defer k.store.mu.Unlock()
	if err := k.store.usableLocked(); err != nil {
		return err
	}
	k.store.keyspaceLocked(k.name).put(key, value)
	return nil
}

func (k *memKeyspace) Delete(key []byte) error {
	k.store.mu.Lock()
	defer k.store.mu.Unlock()
	if err := k.store.usableLocked(); err != nil {
		return err
	}
	if sl, ok := k.store.keyspaces[k.name]; ok {
		sl.delete(key)
	}
	return nil
}

// Scan materializes the matching entries under the read lock, then yields
// them without holding it. Values are never mutated in place by writers, so
// the yielded slices stay valid.
func (k *memKeyspace) Scan(lower, upper []byte) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		k.store.mu.RLock()
		if err := k.store.usableLocked(); err != nil {
			k.store.mu.RUnlock()
			yield(Entry{}, err)
			return
		}
		var entries []Entry
		if sl, ok := k.store.keyspaces[k.name]; ok {
			entries = sl.scan(lower, upper)
		}
		k.store.mu.RUnlock()

		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (k *memKeyspace) Count() (int, error) {
	k.store.mu.RLock()
	defer k.store.mu.RUnlock()
	if err := k.store.usableLocked(); err != nil {
		return 0, err
	}
	if sl, ok := k.store.keyspaces[k.name]; ok {
		return sl.size, nil
	}
	return 0, nil
}
