package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/index"
	"github.com/quilldb/quill/store"
)

// Commit validates the transaction's read set against the latest committed
// state and, when validation passes, applies the whole write set as one
// storage batch. On a detected race it returns ErrConflict and the
// transaction aborts with no effect; the caller retries with a fresh
// transaction.
//
// A transaction that staged no writes commits trivially without validation:
// everything it read was a committed snapshot and it publishes nothing.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	if tx.poison != nil {
		err := tx.poison
		tx.mu.Unlock()
		return fmt.Errorf("%w: transaction poisoned: %w", ErrInvalidState, err)
	}
	if tx.state != TxActive {
		state := tx.state
		tx.mu.Unlock()
		return fmt.Errorf("%w: transaction is %s", ErrInvalidState, state)
	}
	tx.mu.Unlock()

	if len(tx.writes) == 0 {
		tx.mu.Lock()
		tx.state = TxCommitted
		tx.mu.Unlock()
		tx.eng.txs.unregister(tx)
		return nil
	}

	cols, readCols, err := tx.lockWriteCollections()
	if err != nil {
		tx.abort()
		return err
	}
	defer func() {
		for i := len(cols) - 1; i >= 0; i-- {
			cols[i].mu.Unlock()
		}
	}()

	tx.eng.commitMu.Lock()
	defer tx.eng.commitMu.Unlock()

	if err := tx.validateLocked(readCols); err != nil {
		tx.abort()
		tx.eng.logger.Debug("transaction conflicted",
			slog.String("tx", tx.id),
			slog.String("reason", err.Error()))
		return err
	}

	batch, rec, err := tx.buildBatchLocked(cols)
	if err != nil {
		tx.abort()
		return err
	}

	if err := tx.eng.store.Apply(batch); err != nil {
		return tx.fail(err)
	}
	version := tx.eng.advanceVersionLocked(rec)

	tx.mu.Lock()
	tx.state = TxCommitted
	tx.mu.Unlock()
	tx.eng.txs.unregister(tx)

	for _, col := range cols {
		for _, ev := range tx.writes[col.name].events {
			col.events.publish(ev)
		}
	}

	tx.eng.logger.Debug("transaction committed",
		slog.String("tx", tx.id),
		slog.Uint64("version", version),
		slog.Int("ops", batch.Len()))
	return nil
}

func (tx *Tx) abort() {
	tx.mu.Lock()
	if tx.state == TxActive {
		tx.state = TxAborted
	}
	tx.mu.Unlock()
	tx.eng.txs.unregister(tx)
}

// lockWriteCollections resolves and locks the collections the transaction
// wrote, in name order so concurrent commits never deadlock. It also
// snapshots the collections the transaction read while the engine lock is
// still held: Engine.mu must never be taken after a collection mutex, or a
// concurrent DropCollection (which locks them the other way around) could
// deadlock against the commit.
func (tx *Tx) lockWriteCollections() ([]*Collection, map[string]*Collection, error) {
	names := make([]string, 0, len(tx.writes))
	for name := range tx.writes {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]*Collection, 0, len(names))
	tx.eng.mu.RLock()
	for _, name := range names {
		col, ok := tx.eng.collections[name]
		if !ok {
			tx.eng.mu.RUnlock()
			for i := len(cols) - 1; i >= 0; i-- {
				cols[i].mu.Unlock()
			}
			return nil, nil, fmt.Errorf("%w: collection %q dropped during transaction", ErrConflict, name)
		}
		cols = append(cols, col)
		col.mu.Lock()
	}
	readCols := make(map[string]*Collection, len(tx.reads))
	for ref := range tx.reads {
		if col, ok := tx.eng.collections[ref.collection]; ok {
			readCols[ref.collection] = col
		}
	}
	tx.eng.mu.RUnlock()
	return cols, readCols, nil
}

// validateLocked re-checks every recorded read against current committed
// state. Caller holds the write collections' mutexes and commitMu; readCols
// is the registry snapshot taken by lockWriteCollections, so validation never
// touches Engine.mu.
func (tx *Tx) validateLocked(readCols map[string]*Collection) error {
	for ref, seenRev := range tx.reads {
		col, ok := readCols[ref.collection]
		if !ok {
			if seenRev != 0 {
				return fmt.Errorf("%w: collection %q dropped", ErrConflict, ref.collection)
			}
			continue
		}
		cur, found, err := col.committedDoc(ref.id)
		if err != nil {
			return tx.fail(err)
		}
		var curRev uint64
		if found {
			curRev = cur.Revision
		}
		if curRev != seenRev {
			return fmt.Errorf("%w: document %s in %q changed (read revision %d, now %d)",
				ErrConflict, ref.id, ref.collection, seenRev, curRev)
		}
	}

	for _, r := range tx.ranges {
		if tx.eng.log.conflicts(tx.snapshot, r) {
			return fmt.Errorf("%w: concurrent write inside probed range of %q", ErrConflict, r.collection)
		}
	}
	return nil
}

// buildBatchLocked turns the write set into one storage batch plus the
// commit footprint for the log. Index deltas replay through each indexer so
// entry encoding stays the indexer's business.
func (tx *Tx) buildBatchLocked(cols []*Collection) (*store.Batch, commitRecord, error) {
	batch := store.NewBatch()
	rec := commitRecord{
		docs: make(map[string]map[document.ID]struct{}),
		keys: make(map[string]map[string][][]byte),
	}

	for _, col := range cols {
		w := tx.writes[col.name]
		docSet := make(map[document.ID]struct{}, len(w.docOrder))
		rec.docs[col.name] = docSet

		for _, id := range w.docOrder {
			sd := w.docs[id]
			docSet[id] = struct{}{}
			if sd.tombstone {
				batch.Delete(col.docs.Name(), col.docKey(id))
				continue
			}
			raw, err := tx.eng.codec.MarshalRecord(sd.rec)
			if err != nil {
				return nil, commitRecord{}, fmt.Errorf("encode document %s: %w", id, err)
			}
			batch.Put(col.docs.Name(), col.docKey(id), raw)
		}

		if err := tx.applyDeltasLocked(col, w, batch, &rec); err != nil {
			return nil, commitRecord{}, err
		}
	}
	return batch, rec, nil
}

// applyDeltasLocked replays a collection's staged index deltas into the
// batch. Deltas for an index dropped mid-transaction are discarded with
// their keyspace.
func (tx *Tx) applyDeltasLocked(col *Collection, w *colWrites, batch *store.Batch, rec *commitRecord) error {
	writers := make(map[string]*batchEntryWriter)
	keySet := make(map[string][][]byte)

	for _, d := range w.deltas {
		inst, ok := col.indexes[d.indexID]
		if !ok {
			continue
		}
		bw, ok := writers[d.indexID]
		if !ok {
			bw = newBatchEntryWriter(batch, inst.ks)
			writers[d.indexID] = bw
		}

		var err error
		if d.add {
			err = inst.indexer.Add(bw, d.key, d.id)
		} else {
			err = inst.indexer.Remove(bw, d.key, d.id)
		}
		if err != nil {
			if errors.Is(err, index.ErrUniqueViolation) {
				return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
			}
			return tx.fail(err)
		}
		keySet[d.indexID] = append(keySet[d.indexID], d.key)
	}

	for id, bw := range writers {
		bw.flush()
		if rec.keys[col.name] == nil {
			rec.keys[col.name] = make(map[string][][]byte)
		}
		rec.keys[col.name][id] = keySet[id]
	}
	return nil
}
