package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/quilldb/quill/codec"
	"github.com/quilldb/quill/document"
)

// TxState is the lifecycle state of a transaction.
type TxState uint8

const (
	// TxActive accepts operations.
	TxActive TxState = iota
	// TxCommitted is terminal: the transaction's writes are applied.
	TxCommitted
	// TxAborted is terminal: the transaction applied nothing.
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	}
	return "unknown"
}

type docRef struct {
	collection string
	id         document.ID
}

type rangeRead struct {
	collection string
	indexID    string
	lower      []byte
	upper      []byte
}

type stagedDoc struct {
	rec       *codec.Record // revision already advanced
	tombstone bool
}

type indexDelta struct {
	indexID string
	add     bool
	key     []byte
	id      document.ID
}

// colWrites is a transaction's staged state for one collection.
type colWrites struct {
	docs     map[document.ID]*stagedDoc
	docOrder []document.ID
	deltas   []indexDelta
	events   []Event
}

func (w *colWrites) queueEvent(ev Event) {
	w.events = append(w.events, ev)
}

func (w *colWrites) stage(id document.ID, sd *stagedDoc) {
	if _, ok := w.docs[id]; !ok {
		w.docOrder = append(w.docOrder, id)
	}
	w.docs[id] = sd
}

// Tx is a unit of work under optimistic concurrency control. It captures a
// snapshot baseline at begin, accumulates a read set (document revisions and
// probed index ranges) and a write set (staged document and index deltas),
// and validates the read set against the latest committed state at commit.
//
// A Tx is owned by the caller that created it and must not be shared across
// concurrent goroutines.
type Tx struct {
	eng      *Engine
	id       string
	snapshot uint64

	mu     sync.Mutex
	state  TxState
	poison error // set by a storage failure; forces abort

	reads    map[docRef]uint64
	readDocs map[docRef]*codec.Record // stability cache for re-reads
	ranges   []rangeRead
	writes   map[string]*colWrites
}

func newTx(e *Engine, snapshot uint64) *Tx {
	return &Tx{
		eng:      e,
		id:       uuid.NewString(),
		snapshot: snapshot,
		reads:    make(map[docRef]uint64),
		readDocs: make(map[docRef]*codec.Record),
		writes:   make(map[string]*colWrites),
	}
}

// ID returns the transaction's unique identifier, used in logs.
func (tx *Tx) ID() string { return tx.id }

// State returns the current lifecycle state.
func (tx *Tx) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Snapshot returns the committed-state version the transaction reads from.
func (tx *Tx) Snapshot() uint64 { return tx.snapshot }

// Collection returns a transactional view over the named collection; every
// operation through it stages into this transaction.
func (tx *Tx) Collection(name string) (*TxCollection, error) {
	col, err := tx.eng.Collection(name)
	if err != nil {
		return nil, err
	}
	return &TxCollection{col: col, tx: tx}, nil
}

// checkActive returns ErrInvalidState when the transaction is terminal or
// poisoned by a storage failure.
func (tx *Tx) checkActive() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.poison != nil {
		return fmt.Errorf("%w: transaction poisoned: %w", ErrInvalidState, tx.poison)
	}
	if tx.state != TxActive {
		return fmt.Errorf("%w: transaction is %s", ErrInvalidState, tx.state)
	}
	return nil
}

// fail records a storage failure, aborts the transaction and returns the
// wrapped error.
func (tx *Tx) fail(err error) error {
	wrapped := fmt.Errorf("%w: %w", ErrStorageFailure, err)
	tx.mu.Lock()
	tx.poison = wrapped
	tx.state = TxAborted
	tx.mu.Unlock()
	tx.eng.txs.unregister(tx)
	tx.eng.logger.Error("transaction poisoned",
		slog.String("tx", tx.id),
		slog.String("error", err.Error()))
	return wrapped
}

func (tx *Tx) writesFor(collection string) *colWrites {
	w, ok := tx.writes[collection]
	if !ok {
		w = &colWrites{docs: make(map[document.ID]*stagedDoc)}
		tx.writes[collection] = w
	}
	return w
}

// recordRead notes an observed document revision. The first observation per
// id wins: validation must compare against what the transaction actually saw
// first, not against later re-reads.
func (tx *Tx) recordRead(collection string, id document.ID, revision uint64) {
	ref := docRef{collection: collection, id: id}
	if _, ok := tx.reads[ref]; !ok {
		tx.reads[ref] = revision
	}
}

func (tx *Tx) recordRange(collection, indexID string, lower, upper []byte) {
	tx.ranges = append(tx.ranges, rangeRead{
		collection: collection,
		indexID:    indexID,
		lower:      lower,
		upper:      upper,
	})
}

// visibleDoc resolves a document id through the transaction's view: staged
// writes first, then the re-read cache, then committed state. The committed
// read is recorded in the read set and cached for snapshot-stable re-reads.
func (tx *Tx) visibleDoc(col *Collection, id document.ID) (*codec.Record, bool, error) {
	if w, ok := tx.writes[col.name]; ok {
		if sd, ok := w.docs[id]; ok {
			if sd.tombstone {
				return nil, false, nil
			}
			return sd.rec, true, nil
		}
	}

	ref := docRef{collection: col.name, id: id}
	if rec, ok := tx.readDocs[ref]; ok {
		if rec == nil {
			return nil, false, nil
		}
		return rec, true, nil
	}

	rec, ok, err := col.committedDoc(id)
	if err != nil {
		return nil, false, tx.fail(err)
	}
	if !ok {
		tx.recordRead(col.name, id, 0)
		tx.readDocs[ref] = nil
		return nil, false, nil
	}
	tx.recordRead(col.name, id, rec.Revision)
	tx.readDocs[ref] = rec
	return rec, true, nil
}

// Rollback discards all staged writes and moves the transaction to Aborted.
// Rolling back a terminal transaction is a no-op.
func (tx *Tx) Rollback() error {
	tx.mu.Lock()
	if tx.state != TxActive {
		tx.mu.Unlock()
		return nil
	}
	tx.state = TxAborted
	tx.mu.Unlock()

	tx.eng.txs.unregister(tx)
	tx.eng.logger.Debug("transaction rolled back", slog.String("tx", tx.id))
	return nil
}
