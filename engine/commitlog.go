package engine

import (
	"bytes"
	"sync"

	"github.com/quilldb/quill/document"
)

// commitRecord captures the footprint of one committed transaction: the
// document ids it wrote and the index keys it touched, per collection.
type commitRecord struct {
	version uint64
	docs    map[string]map[document.ID]struct{}
	keys    map[string]map[string][][]byte // collection -> index id -> keys
}

// commitLog retains the footprints of recent commits so that commit-time
// validation can detect writes landing inside a transaction's probed key
// ranges. Entries older than the oldest active snapshot are pruned; an idle
// transaction therefore pins log growth until it finishes, but blocks no one.
//
// The log is guarded by Engine.commitMu.
type commitLog struct {
	records []commitRecord
}

func (l *commitLog) append(rec commitRecord) {
	l.records = append(l.records, rec)
}

// prune drops records already visible to every active snapshot.
func (l *commitLog) prune(minSnapshot uint64) {
	i := 0
	for i < len(l.records) && l.records[i].version <= minSnapshot {
		i++
	}
	if i > 0 {
		l.records = append([]commitRecord(nil), l.records[i:]...)
	}
}

// docScanIndexID marks a range read over the document keyspace itself, as
// recorded by a full collection scan. Index ids are never empty, so the
// marker cannot collide.
const docScanIndexID = ""

// conflicts reports whether any commit newer than snapshot wrote inside the
// recorded read range. For an index range that means a touched key in
// [lower, upper) of that index; for a document scan any document write to
// the collection counts. Nil bounds are unbounded.
func (l *commitLog) conflicts(snapshot uint64, r rangeRead) bool {
	for _, rec := range l.records {
		if rec.version <= snapshot {
			continue
		}
		if r.indexID == docScanIndexID {
			if len(rec.docs[r.collection]) > 0 {
				return true
			}
			continue
		}
		byIndex, ok := rec.keys[r.collection]
		if !ok {
			continue
		}
		for _, key := range byIndex[r.indexID] {
			if r.lower != nil && bytes.Compare(key, r.lower) < 0 {
				continue
			}
			if r.upper != nil && bytes.Compare(key, r.upper) >= 0 {
				continue
			}
			return true
		}
	}
	return false
}

// txRegistry tracks active transactions and their snapshot baselines so the
// commit log can be pruned safely.
type txRegistry struct {
	mu     sync.Mutex
	active map[*Tx]uint64
}

func newTxRegistry() *txRegistry {
	return &txRegistry{active: make(map[*Tx]uint64)}
}

func (r *txRegistry) register(tx *Tx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[tx] = tx.snapshot
}

func (r *txRegistry) unregister(tx *Tx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, tx)
}

// minSnapshot returns the oldest active snapshot, or fallback when no
// transaction is active.
func (r *txRegistry) minSnapshot(fallback uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	min := fallback
	for _, snap := range r.active {
		if snap < min {
			min = snap
		}
	}
	return min
}
