package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/quilldb/quill/codec"
	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/index"
	"github.com/quilldb/quill/store"
)

const (
	catalogKeyspace = "__catalog"
	docsPrefix      = "doc:"
	indexPrefix     = "idx:"

	catalogCodecKey      = "meta:codec"
	catalogCollectionKey = "c:"
	catalogIndexKey      = "i:"
)

// Options configures an Engine.
type Options struct {
	// Store is the storage adapter. Defaults to an in-memory store.
	Store store.Store
	// Codec encodes document records. Defaults to codec.Default.
	Codec codec.Codec
	// Logger receives structured engine logs. Defaults to a discard logger.
	Logger *slog.Logger
	// Registry resolves index kinds. Defaults to the built-in registry.
	Registry *index.Registry
	// IDNode salts generated document ids; useful when several instances
	// generate ids for the same logical data set.
	IDNode uint16
}

// Engine is one open database instance: a set of collections sharing a
// storage adapter, a committed-state version and a commit path.
type Engine struct {
	store    store.Store
	codec    codec.Codec
	logger   *slog.Logger
	registry *index.Registry
	ids      *document.IDGenerator

	version  atomic.Uint64
	commitMu sync.Mutex // guards commit application, version advance, log
	log      commitLog
	txs      *txRegistry

	mu          sync.RWMutex
	collections map[string]*Collection
	catalog     store.Keyspace
	closed      atomic.Bool
}

// Open opens the database described by opts, creating catalog state on first
// use and loading existing collections and index descriptors.
func Open(opts Options) (*Engine, error) {
	st := opts.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	c := opts.Codec
	if c == nil {
		c = codec.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reg := opts.Registry
	if reg == nil {
		reg = index.NewRegistry()
	}

	if err := st.Open(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	eng := &Engine{
		store:       st,
		codec:       c,
		logger:      logger,
		registry:    reg,
		ids:         document.NewIDGenerator(opts.IDNode),
		txs:         newTxRegistry(),
		collections: make(map[string]*Collection),
	}

	catalog, err := st.Keyspace(catalogKeyspace)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: open catalog: %w", ErrStorageFailure, err)
	}
	eng.catalog = catalog

	if err := eng.checkCodec(); err != nil {
		st.Close()
		return nil, err
	}
	if err := eng.loadCatalog(); err != nil {
		st.Close()
		return nil, err
	}

	eng.logger.Info("database opened",
		slog.String("store", st.Name()),
		slog.String("codec", c.Name()),
		slog.Int("collections", len(eng.collections)))
	return eng, nil
}

// checkCodec pins the codec name in the catalog so reopening with a
// different codec fails fast instead of producing garbage reads.
func (e *Engine) checkCodec() error {
	raw, ok, err := e.catalog.Get([]byte(catalogCodecKey))
	if err != nil {
		return fmt.Errorf("%w: read catalog: %w", ErrStorageFailure, err)
	}
	if !ok {
		if err := e.catalog.Put([]byte(catalogCodecKey), []byte(e.codec.Name())); err != nil {
			return fmt.Errorf("%w: write catalog: %w", ErrStorageFailure, err)
		}
		return nil
	}
	if string(raw) != e.codec.Name() {
		return fmt.Errorf("database was created with codec %q, opened with %q", raw, e.codec.Name())
	}
	return nil
}

func (e *Engine) loadCatalog() error {
	for entry, err := range e.catalog.Scan(nil, nil) {
		if err != nil {
			return fmt.Errorf("%w: scan catalog: %w", ErrStorageFailure, err)
		}
		key := string(entry.Key)
		switch {
		case strings.HasPrefix(key, catalogCollectionKey):
			name := strings.TrimPrefix(key, catalogCollectionKey)
			if _, err := e.openCollection(name); err != nil {
				return err
			}
		case strings.HasPrefix(key, catalogIndexKey):
			rest := strings.TrimPrefix(key, catalogIndexKey)
			name, _, ok := strings.Cut(rest, ":")
			if !ok {
				return fmt.Errorf("malformed catalog index key %q", key)
			}
			col, err := e.openCollection(name)
			if err != nil {
				return err
			}
			var desc index.Descriptor
			if err := e.codec.Unmarshal(entry.Value, &desc); err != nil {
				return fmt.Errorf("decode index descriptor %q: %w", key, err)
			}
			if err := col.activateIndex(desc); err != nil {
				return err
			}
		}
	}
	return nil
}

// openCollection returns the named collection, instantiating it in the
// registry without touching the catalog.
func (e *Engine) openCollection(name string) (*Collection, error) {
	if col, ok := e.collections[name]; ok {
		return col, nil
	}
	docs, err := e.store.Keyspace(docsPrefix + name)
	if err != nil {
		return nil, fmt.Errorf("%w: open collection %q: %w", ErrStorageFailure, name, err)
	}
	col := &Collection{
		name:    name,
		eng:     e,
		docs:    docs,
		indexes: make(map[string]*indexInstance),
		events:  newEventBus(),
	}
	e.collections[name] = col
	return col, nil
}

// Collection returns the named collection, creating it on first use.
func (e *Engine) Collection(name string) (*Collection, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if name == "" || strings.HasPrefix(name, "__") {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}

	e.mu.RLock()
	col, ok := e.collections[name]
	e.mu.RUnlock()
	if ok {
		return col, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if col, ok := e.collections[name]; ok {
		return col, nil
	}
	col, err := e.openCollection(name)
	if err != nil {
		return nil, err
	}
	if err := e.catalog.Put([]byte(catalogCollectionKey+name), nil); err != nil {
		delete(e.collections, name)
		return nil, fmt.Errorf("%w: register collection %q: %w", ErrStorageFailure, name, err)
	}
	e.logger.Info("collection created", slog.String("collection", name))
	return col, nil
}

// HasCollection reports whether the named collection exists.
func (e *Engine) HasCollection(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.collections[name]
	return ok
}

// CollectionNames lists existing collections in sorted order.
func (e *Engine) CollectionNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.collections))
	for name := range e.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropCollection removes a collection, its documents and all its indexes in
// one storage batch.
func (e *Engine) DropCollection(name string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	col, ok := e.collections[name]
	if !ok {
		return fmt.Errorf("%w: collection %q", ErrNotFound, name)
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	batch := store.NewBatch()
	batch.DropKeyspace(docsPrefix + name)
	batch.Delete(catalogKeyspace, []byte(catalogCollectionKey+name))
	for _, inst := range col.indexes {
		batch.DropKeyspace(inst.ks.Name())
		batch.Delete(catalogKeyspace, []byte(catalogIndexKey+name+":"+inst.desc.ID()))
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if err := e.store.Apply(batch); err != nil {
		return fmt.Errorf("%w: drop collection %q: %w", ErrStorageFailure, name, err)
	}
	e.advanceVersionLocked(commitRecord{})
	delete(e.collections, name)
	e.logger.Info("collection dropped", slog.String("collection", name))
	return nil
}

// Begin starts an explicit transaction with the current committed version as
// its snapshot baseline.
func (e *Engine) Begin() (*Tx, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	tx := newTx(e, e.version.Load())
	e.txs.register(tx)
	e.logger.Debug("transaction started",
		slog.String("tx", tx.ID()),
		slog.Uint64("snapshot", tx.snapshot))
	return tx, nil
}

// Version returns the current committed-state version.
func (e *Engine) Version() uint64 { return e.version.Load() }

// Store exposes the storage adapter, for tooling such as backups that
// operate below the document layer.
func (e *Engine) Store() store.Store { return e.store }

// Codec returns the codec the database is pinned to.
func (e *Engine) Codec() codec.Codec { return e.codec }

// Flush asks the storage adapter to make applied writes durable.
func (e *Engine) Flush() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.store.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// Close flushes and closes the storage adapter. Close is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	flushErr := e.store.Flush()
	closeErr := e.store.Close()
	if flushErr != nil {
		return fmt.Errorf("%w: flush on close: %w", ErrStorageFailure, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close store: %w", ErrStorageFailure, closeErr)
	}
	e.logger.Info("database closed")
	return nil
}

// advanceVersionLocked bumps the committed version, records the commit
// footprint and prunes the log. Caller holds commitMu.
func (e *Engine) advanceVersionLocked(rec commitRecord) uint64 {
	v := e.version.Add(1)
	rec.version = v
	e.log.append(rec)
	e.log.prune(e.txs.minSnapshot(v))
	return v
}
