package engine

import (
	"bytes"
	"iter"
	"sort"

	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/index"
	"github.com/quilldb/quill/store"
)

// committedEntryReader serves index probes straight from an entry keyspace.
type committedEntryReader struct {
	ks store.Keyspace
}

func (r *committedEntryReader) Entry(key []byte) ([]document.ID, error) {
	raw, ok, err := r.ks.Get(key)
	if err != nil || !ok {
		return nil, err
	}
	return index.DecodeIDList(raw)
}

func (r *committedEntryReader) Range(lower, upper []byte) iter.Seq2[index.KeyEntry, error] {
	return func(yield func(index.KeyEntry, error) bool) {
		for entry, err := range r.ks.Scan(lower, upper) {
			if err != nil {
				yield(index.KeyEntry{}, err)
				return
			}
			ids, err := index.DecodeIDList(entry.Value)
			if err != nil {
				yield(index.KeyEntry{}, err)
				return
			}
			if !yield(index.KeyEntry{Key: entry.Key, IDs: ids}, nil) {
				return
			}
		}
	}
}

// txEntryReader overlays a transaction's staged index deltas for one index
// on top of its committed entries, so probes inside the transaction see its
// own writes.
type txEntryReader struct {
	ks      store.Keyspace
	deltas  []indexDelta
	indexID string
}

func (r *txEntryReader) Entry(key []byte) ([]document.ID, error) {
	base := &committedEntryReader{ks: r.ks}
	ids, err := base.Entry(key)
	if err != nil {
		return nil, err
	}
	return r.overlay(key, ids), nil
}

// overlay applies this index's staged deltas for key, in staging order.
func (r *txEntryReader) overlay(key []byte, ids []document.ID) []document.ID {
	for _, d := range r.deltas {
		if d.indexID != r.indexID || !bytes.Equal(d.key, key) {
			continue
		}
		if d.add {
			ids = appendID(ids, d.id)
		} else {
			ids = dropID(ids, d.id)
		}
	}
	return ids
}

func (r *txEntryReader) Range(lower, upper []byte) iter.Seq2[index.KeyEntry, error] {
	return func(yield func(index.KeyEntry, error) bool) {
		// Collect the committed keys in range plus keys the transaction's
		// adds may introduce, then overlay per key.
		keys := make([][]byte, 0, 16)
		seen := make(map[string]struct{})
		base := &committedEntryReader{ks: r.ks}
		for entry, err := range base.Range(lower, upper) {
			if err != nil {
				yield(index.KeyEntry{}, err)
				return
			}
			if _, ok := seen[string(entry.Key)]; !ok {
				seen[string(entry.Key)] = struct{}{}
				keys = append(keys, entry.Key)
			}
		}
		for _, d := range r.deltas {
			if d.indexID != r.indexID || !d.add {
				continue
			}
			if lower != nil && bytes.Compare(d.key, lower) < 0 {
				continue
			}
			if upper != nil && bytes.Compare(d.key, upper) >= 0 {
				continue
			}
			if _, ok := seen[string(d.key)]; !ok {
				seen[string(d.key)] = struct{}{}
				keys = append(keys, d.key)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

		for _, key := range keys {
			ids, err := r.Entry(key)
			if err != nil {
				yield(index.KeyEntry{}, err)
				return
			}
			if len(ids) == 0 {
				continue
			}
			if !yield(index.KeyEntry{Key: key, IDs: ids}, nil) {
				return
			}
		}
	}
}

func appendID(ids []document.ID, id document.ID) []document.ID {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

func dropID(ids []document.ID, id document.ID) []document.ID {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// batchEntryWriter buffers index-entry mutations for one entry keyspace and
// emits them into a storage batch. Reads go through a write-back cache so a
// sequence of Add/Remove calls observes its own effects before the batch is
// applied.
type batchEntryWriter struct {
	batch *store.Batch
	ks    store.Keyspace
	cache map[string][]document.ID
	dirty map[string]struct{}
}

func newBatchEntryWriter(batch *store.Batch, ks store.Keyspace) *batchEntryWriter {
	return &batchEntryWriter{
		batch: batch,
		ks:    ks,
		cache: make(map[string][]document.ID),
		dirty: make(map[string]struct{}),
	}
}

func (w *batchEntryWriter) Entry(key []byte) ([]document.ID, error) {
	if ids, ok := w.cache[string(key)]; ok {
		return ids, nil
	}
	raw, ok, err := w.ks.Get(key)
	if err != nil {
		return nil, err
	}
	var ids []document.ID
	if ok {
		if ids, err = index.DecodeIDList(raw); err != nil {
			return nil, err
		}
	}
	w.cache[string(key)] = ids
	return ids, nil
}

func (w *batchEntryWriter) SetEntry(key []byte, ids []document.ID) error {
	w.cache[string(key)] = ids
	w.dirty[string(key)] = struct{}{}
	return nil
}

// flush emits one batch operation per dirty key, in sorted key order for
// deterministic batches.
func (w *batchEntryWriter) flush() {
	keys := make([]string, 0, len(w.dirty))
	for k := range w.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ids := w.cache[k]
		if len(ids) == 0 {
			w.batch.Delete(w.ks.Name(), []byte(k))
			continue
		}
		w.batch.Put(w.ks.Name(), []byte(k), index.EncodeIDList(ids))
	}
}
