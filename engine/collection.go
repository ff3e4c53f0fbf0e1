package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quilldb/quill/codec"
	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/filter"
	"github.com/quilldb/quill/index"
	"github.com/quilldb/quill/store"
)

// indexInstance binds an index descriptor to its indexer and its entry
// keyspace.
type indexInstance struct {
	desc    index.Descriptor
	indexer index.Indexer
	ks      store.Keyspace
}

func indexKeyspaceName(collection string, desc index.Descriptor) string {
	return indexPrefix + collection + ":" + desc.ID()
}

// Collection owns a named set of documents plus its secondary indexes.
// Mutations run under transactions (explicit or implicit) and become visible
// atomically at commit.
type Collection struct {
	name string
	eng  *Engine

	// mu serializes commit application and index DDL against each other.
	// Readers never take it: point reads and scans rely on the storage
	// adapter's atomic batch visibility.
	mu      sync.Mutex
	indexes map[string]*indexInstance

	docs   store.Keyspace
	events *EventBus
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Events exposes the collection's event bus.
func (c *Collection) Events() *EventBus { return c.events }

// Size returns the number of committed documents.
func (c *Collection) Size() (int, error) {
	n, err := c.docs.Count()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return n, nil
}

func (c *Collection) docKey(id document.ID) []byte { return id.Bytes() }

// committedDoc reads a committed record. It takes no locks: batch atomicity
// of the storage adapter guarantees a consistent point read.
func (c *Collection) committedDoc(id document.ID) (*codec.Record, bool, error) {
	raw, ok, err := c.docs.Get(c.docKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := c.eng.codec.UnmarshalRecord(raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// indexSnapshot returns the current index instances. Callers iterate it
// without holding c.mu; an index activated afterwards is picked up by the
// commit path because commit re-reads instances under c.mu.
func (c *Collection) indexSnapshot() []*indexInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*indexInstance, 0, len(c.indexes))
	for _, inst := range c.indexes {
		out = append(out, inst)
	}
	return out
}

// --- transactional operations -------------------------------------------

// insertTx stages a document insert. A zero id is assigned from the
// generator; revision starts at 1.
func (c *Collection) insertTx(tx *Tx, id document.ID, doc *document.Document) (document.ID, error) {
	if err := tx.checkActive(); err != nil {
		return document.ZeroID, err
	}
	if doc == nil {
		return document.ZeroID, fmt.Errorf("insert: nil document")
	}
	if id == document.ZeroID {
		id = c.eng.ids.Next()
	}

	if _, ok, err := tx.visibleDoc(c, id); err != nil {
		return document.ZeroID, err
	} else if ok {
		return document.ZeroID, fmt.Errorf("%w: document %s already exists in %q", ErrConstraintViolation, id, c.name)
	}

	rec := &codec.Record{ID: id, Revision: 1, Doc: doc.Clone()}
	w := tx.writesFor(c.name)
	if err := c.stageIndexAdds(tx, w, rec); err != nil {
		return document.ZeroID, err
	}
	w.stage(id, &stagedDoc{rec: rec})
	w.queueEvent(Event{Type: EventInsert, Collection: c.name, ID: id, Doc: rec.Doc})
	return id, nil
}

// updateTx stages a merge of patch into the document's visible state. With
// upsert, a missing document becomes an insert of the patch.
func (c *Collection) updateTx(tx *Tx, id document.ID, patch *document.Document, upsert bool) (uint64, error) {
	if err := tx.checkActive(); err != nil {
		return 0, err
	}
	if patch == nil {
		return 0, fmt.Errorf("update: nil patch")
	}

	cur, ok, err := tx.visibleDoc(c, id)
	if err != nil {
		return 0, err
	}
	if !ok {
		if !upsert {
			return 0, fmt.Errorf("%w: document %s in %q", ErrNotFound, id, c.name)
		}
		if _, err := c.insertTx(tx, id, patch); err != nil {
			return 0, err
		}
		return 1, nil
	}

	newDoc := cur.Doc.Clone()
	newDoc.Merge(patch)
	rec := &codec.Record{ID: id, Revision: cur.Revision + 1, Doc: newDoc}

	w := tx.writesFor(c.name)
	if err := c.stageIndexDiff(tx, w, cur.Doc, rec); err != nil {
		return 0, err
	}
	w.stage(id, &stagedDoc{rec: rec})
	w.queueEvent(Event{Type: EventUpdate, Collection: c.name, ID: id, Doc: newDoc})
	return rec.Revision, nil
}

// removeTx stages a tombstone plus the removal of all index entries derived
// from the document's visible field values.
func (c *Collection) removeTx(tx *Tx, id document.ID) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	cur, ok, err := tx.visibleDoc(c, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: document %s in %q", ErrNotFound, id, c.name)
	}

	w := tx.writesFor(c.name)
	if err := c.stageIndexRemoves(w, cur); err != nil {
		return err
	}
	w.stage(id, &stagedDoc{tombstone: true})
	w.queueEvent(Event{Type: EventRemove, Collection: c.name, ID: id, Doc: cur.Doc})
	return nil
}

// getTx returns the document visible to the transaction.
func (c *Collection) getTx(tx *Tx, id document.ID) (*document.Document, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	rec, ok, err := tx.visibleDoc(c, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: document %s in %q", ErrNotFound, id, c.name)
	}
	return rec.Doc, nil
}

// --- index staging -------------------------------------------------------

// stageIndexAdds derives and stages index additions for a new record, with
// uniqueness checked against the transaction's merged view (committed state
// plus its own staged deltas, never another transaction's).
func (c *Collection) stageIndexAdds(tx *Tx, w *colWrites, rec *codec.Record) error {
	for _, inst := range c.indexSnapshot() {
		keys, err := inst.indexer.DeriveKeys(rec.Doc)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := c.checkUniqueStaged(tx, w, inst, key, rec.ID); err != nil {
				return err
			}
			w.deltas = append(w.deltas, indexDelta{indexID: inst.desc.ID(), add: true, key: key, id: rec.ID})
		}
	}
	return nil
}

func (c *Collection) stageIndexRemoves(w *colWrites, rec *codec.Record) error {
	for _, inst := range c.indexSnapshot() {
		keys, err := inst.indexer.DeriveKeys(rec.Doc)
		if err != nil {
			return err
		}
		for _, key := range keys {
			w.deltas = append(w.deltas, indexDelta{indexID: inst.desc.ID(), key: key, id: rec.ID})
		}
	}
	return nil
}

// stageIndexDiff stages remove-old/add-new pairs for the indexes whose
// derived keys actually changed.
func (c *Collection) stageIndexDiff(tx *Tx, w *colWrites, oldDoc *document.Document, rec *codec.Record) error {
	for _, inst := range c.indexSnapshot() {
		oldKeys, err := inst.indexer.DeriveKeys(oldDoc)
		if err != nil {
			return err
		}
		newKeys, err := inst.indexer.DeriveKeys(rec.Doc)
		if err != nil {
			return err
		}

		oldSet := make(map[string]struct{}, len(oldKeys))
		for _, k := range oldKeys {
			oldSet[string(k)] = struct{}{}
		}
		newSet := make(map[string]struct{}, len(newKeys))
		for _, k := range newKeys {
			newSet[string(k)] = struct{}{}
		}

		for _, k := range oldKeys {
			if _, keep := newSet[string(k)]; !keep {
				w.deltas = append(w.deltas, indexDelta{indexID: inst.desc.ID(), key: k, id: rec.ID})
			}
		}
		for _, k := range newKeys {
			if _, had := oldSet[string(k)]; had {
				continue
			}
			if err := c.checkUniqueStaged(tx, w, inst, k, rec.ID); err != nil {
				return err
			}
			w.deltas = append(w.deltas, indexDelta{indexID: inst.desc.ID(), add: true, key: k, id: rec.ID})
		}
	}
	return nil
}

// checkUniqueStaged enforces uniqueness against the transaction's merged
// view and records the key as a probed range so commit validation catches a
// racing writer of the same key.
func (c *Collection) checkUniqueStaged(tx *Tx, w *colWrites, inst *indexInstance, key []byte, id document.ID) error {
	if !inst.indexer.Unique() {
		return nil
	}
	reader := &txEntryReader{ks: inst.ks, deltas: w.deltas, indexID: inst.desc.ID()}
	if err := inst.indexer.CheckUnique(reader, key, id); err != nil {
		if errors.Is(err, index.ErrUniqueViolation) {
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		}
		return tx.fail(err)
	}
	tx.recordRange(c.name, inst.desc.ID(), key, store.KeySuccessor(key))
	return nil
}

// --- index DDL -----------------------------------------------------------

// activateIndex instantiates an indexer for a catalog-loaded descriptor.
func (c *Collection) activateIndex(desc index.Descriptor) error {
	indexer, err := c.eng.registry.Build(desc)
	if err != nil {
		return err
	}
	ks, err := c.eng.store.Keyspace(indexKeyspaceName(c.name, desc))
	if err != nil {
		return fmt.Errorf("%w: open index keyspace: %w", ErrStorageFailure, err)
	}
	c.indexes[desc.ID()] = &indexInstance{desc: desc, indexer: indexer, ks: ks}
	return nil
}

// CreateIndex builds an index over the given field paths and activates it.
//
// The collection's commit mutex is held for the whole population scan, so no
// commit against this collection can interleave with the build; commits
// against other collections proceed. The index reflects exactly the
// committed state at activation, and every later commit maintains it through
// the normal staging path.
func (c *Collection) CreateIndex(fields []string, kind index.Kind) error {
	if c.eng.closed.Load() {
		return ErrClosed
	}
	desc := index.Descriptor{Fields: fields, Kind: kind}
	indexer, err := c.eng.registry.Build(desc)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.indexes[desc.ID()]; exists {
		return fmt.Errorf("%w: %s on %q", ErrDuplicateIndex, desc.ID(), c.name)
	}

	ks, err := c.eng.store.Keyspace(indexKeyspaceName(c.name, desc))
	if err != nil {
		return fmt.Errorf("%w: open index keyspace: %w", ErrStorageFailure, err)
	}
	inst := &indexInstance{desc: desc, indexer: indexer, ks: ks}

	batch := store.NewBatch()
	if err := c.populateIndexLocked(inst, batch); err != nil {
		return err
	}

	descBytes, err := c.eng.codec.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encode index descriptor: %w", err)
	}
	batch.Put(catalogKeyspace, []byte(catalogIndexKey+c.name+":"+desc.ID()), descBytes)

	c.eng.commitMu.Lock()
	defer c.eng.commitMu.Unlock()
	if err := c.eng.store.Apply(batch); err != nil {
		return fmt.Errorf("%w: build index %s: %w", ErrStorageFailure, desc, err)
	}
	c.eng.advanceVersionLocked(commitRecord{})
	c.indexes[desc.ID()] = inst

	c.eng.logger.Info("index created",
		slog.String("collection", c.name),
		slog.String("index", desc.String()))
	return nil
}

// populateIndexLocked scans all committed documents into batch entries for
// inst. Caller holds c.mu.
func (c *Collection) populateIndexLocked(inst *indexInstance, batch *store.Batch) error {
	w := newBatchEntryWriter(batch, inst.ks)
	for entry, err := range c.docs.Scan(nil, nil) {
		if err != nil {
			return fmt.Errorf("%w: scan %q: %w", ErrStorageFailure, c.name, err)
		}
		rec, err := c.eng.codec.UnmarshalRecord(entry.Value)
		if err != nil {
			return fmt.Errorf("decode document in %q: %w", c.name, err)
		}
		keys, err := inst.indexer.DeriveKeys(rec.Doc)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := inst.indexer.Add(w, key, rec.ID); err != nil {
				if errors.Is(err, index.ErrUniqueViolation) {
					return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
				}
				return err
			}
		}
	}
	w.flush()
	return nil
}

// DropIndex removes the index for the exact field-path list along with all
// its persisted entries in one storage batch.
func (c *Collection) DropIndex(fields []string) error {
	if c.eng.closed.Load() {
		return ErrClosed
	}
	desc := index.Descriptor{Fields: fields}

	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.indexes[desc.ID()]
	if !ok {
		return fmt.Errorf("%w: index %s on %q", ErrNotFound, desc.ID(), c.name)
	}

	batch := store.NewBatch()
	batch.DropKeyspace(inst.ks.Name())
	batch.Delete(catalogKeyspace, []byte(catalogIndexKey+c.name+":"+desc.ID()))

	c.eng.commitMu.Lock()
	defer c.eng.commitMu.Unlock()
	if err := c.eng.store.Apply(batch); err != nil {
		return fmt.Errorf("%w: drop index %s: %w", ErrStorageFailure, inst.desc, err)
	}
	c.eng.advanceVersionLocked(commitRecord{})
	delete(c.indexes, desc.ID())

	c.eng.logger.Info("index dropped",
		slog.String("collection", c.name),
		slog.String("index", inst.desc.String()))
	return nil
}

// HasIndex reports whether an index exists for the exact field-path list.
func (c *Collection) HasIndex(fields []string) bool {
	desc := index.Descriptor{Fields: fields}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.indexes[desc.ID()]
	return ok
}

// ListIndexes returns the descriptors of all active indexes.
func (c *Collection) ListIndexes() []index.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]index.Descriptor, 0, len(c.indexes))
	for _, inst := range c.indexes {
		out = append(out, inst.desc)
	}
	return out
}

// RebuildIndexes drops and repopulates the entries of every index of the
// collection, scanning once per index concurrently. Probe results afterwards
// are equivalent to the original indexes.
func (c *Collection) RebuildIndexes() error {
	if c.eng.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	batches := make([]*store.Batch, 0, len(c.indexes))
	var g errgroup.Group
	var mu sync.Mutex
	for _, inst := range c.indexes {
		g.Go(func() error {
			b := store.NewBatch()
			b.DropKeyspace(inst.ks.Name())
			if err := c.populateIndexLocked(inst, b); err != nil {
				return err
			}
			mu.Lock()
			batches = append(batches, b)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	merged := store.NewBatch()
	for _, b := range batches {
		for _, op := range b.Ops() {
			switch op.Kind {
			case store.BatchPut:
				merged.Put(op.Keyspace, op.Key, op.Value)
			case store.BatchDelete:
				merged.Delete(op.Keyspace, op.Key)
			case store.BatchDropKeyspace:
				merged.DropKeyspace(op.Keyspace)
			}
		}
	}

	c.eng.commitMu.Lock()
	defer c.eng.commitMu.Unlock()
	if err := c.eng.store.Apply(merged); err != nil {
		return fmt.Errorf("%w: rebuild indexes on %q: %w", ErrStorageFailure, c.name, err)
	}
	c.eng.advanceVersionLocked(commitRecord{})
	return nil
}

// --- implicit single-operation transactions ------------------------------

// withImplicitTx runs op inside a fresh transaction and commits it, giving a
// top-level operation the same atomicity as an explicit transaction.
func (c *Collection) withImplicitTx(op func(tx *Tx) error) error {
	tx, err := c.eng.Begin()
	if err != nil {
		return err
	}
	if err := op(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Insert adds a document and returns its assigned id.
func (c *Collection) Insert(doc *document.Document) (document.ID, error) {
	var id document.ID
	err := c.withImplicitTx(func(tx *Tx) error {
		var opErr error
		id, opErr = c.insertTx(tx, document.ZeroID, doc)
		return opErr
	})
	if err != nil {
		return document.ZeroID, err
	}
	return id, nil
}

// InsertWithID adds a document under a caller-chosen id.
func (c *Collection) InsertWithID(id document.ID, doc *document.Document) error {
	return c.withImplicitTx(func(tx *Tx) error {
		_, opErr := c.insertTx(tx, id, doc)
		return opErr
	})
}

// Update merges patch into the stored document and returns the new revision.
func (c *Collection) Update(id document.ID, patch *document.Document) (uint64, error) {
	var rev uint64
	err := c.withImplicitTx(func(tx *Tx) error {
		var opErr error
		rev, opErr = c.updateTx(tx, id, patch, false)
		return opErr
	})
	return rev, err
}

// Upsert merges patch into the stored document, inserting it when absent.
func (c *Collection) Upsert(id document.ID, patch *document.Document) (uint64, error) {
	var rev uint64
	err := c.withImplicitTx(func(tx *Tx) error {
		var opErr error
		rev, opErr = c.updateTx(tx, id, patch, true)
		return opErr
	})
	return rev, err
}

// Remove deletes a document.
func (c *Collection) Remove(id document.ID) error {
	return c.withImplicitTx(func(tx *Tx) error {
		return c.removeTx(tx, id)
	})
}

// Get returns the committed document for id.
func (c *Collection) Get(id document.ID) (*document.Document, error) {
	rec, ok, err := c.committedDoc(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: document %s in %q", ErrNotFound, id, c.name)
	}
	return rec.Doc, nil
}

// Find returns a lazy cursor over committed documents matching f.
func (c *Collection) Find(f filter.Filter, opts ...*FindOptions) (*Cursor, error) {
	tx, err := c.eng.Begin()
	if err != nil {
		return nil, err
	}
	cur, err := c.findTx(tx, f, firstOption(opts))
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	cur.onDone = func() { tx.Rollback() }
	return cur, nil
}

// --- transactional facade ------------------------------------------------

// TxCollection is the view of a collection inside one transaction. All
// operations stage into the owning transaction and become visible only at
// commit.
type TxCollection struct {
	col *Collection
	tx  *Tx
}

// Name returns the collection name.
func (tc *TxCollection) Name() string { return tc.col.Name() }

// Insert stages a document insert and returns the assigned id.
func (tc *TxCollection) Insert(doc *document.Document) (document.ID, error) {
	return tc.col.insertTx(tc.tx, document.ZeroID, doc)
}

// InsertWithID stages an insert under a caller-chosen id.
func (tc *TxCollection) InsertWithID(id document.ID, doc *document.Document) error {
	_, err := tc.col.insertTx(tc.tx, id, doc)
	return err
}

// Update stages a merge of patch into the document's visible state.
func (tc *TxCollection) Update(id document.ID, patch *document.Document) (uint64, error) {
	return tc.col.updateTx(tc.tx, id, patch, false)
}

// Upsert stages a merge, inserting the patch when the document is absent.
func (tc *TxCollection) Upsert(id document.ID, patch *document.Document) (uint64, error) {
	return tc.col.updateTx(tc.tx, id, patch, true)
}

// Remove stages a document removal.
func (tc *TxCollection) Remove(id document.ID) error {
	return tc.col.removeTx(tc.tx, id)
}

// Get returns the document as visible to the transaction.
func (tc *TxCollection) Get(id document.ID) (*document.Document, error) {
	return tc.col.getTx(tc.tx, id)
}

// Find returns a cursor over documents matching f as visible to the
// transaction (committed snapshot overlaid with its own staged writes).
func (tc *TxCollection) Find(f filter.Filter, opts ...*FindOptions) (*Cursor, error) {
	return tc.col.findTx(tc.tx, f, firstOption(opts))
}

func firstOption(opts []*FindOptions) *FindOptions {
	if len(opts) > 0 && opts[0] != nil {
		return opts[0]
	}
	return nil
}
