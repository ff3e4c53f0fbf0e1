package index

import (
	"fmt"

	"github.com/quilldb/quill/document"
)

// simpleIndexer is the shared implementation behind the unique and
// non-unique kinds, including their compound (multi-field) forms. It derives
// at most one composite key per document.
type simpleIndexer struct {
	desc   Descriptor
	unique bool
}

// NewUnique returns a unique indexer for the descriptor's field list.
func NewUnique(desc Descriptor) Indexer {
	return &simpleIndexer{desc: desc, unique: true}
}

// NewNonUnique returns a non-unique indexer for the descriptor's field list.
func NewNonUnique(desc Descriptor) Indexer {
	return &simpleIndexer{desc: desc, unique: false}
}

func (ix *simpleIndexer) Kind() Kind {
	if ix.unique {
		return Unique
	}
	return NonUnique
}

func (ix *simpleIndexer) Unique() bool { return ix.unique }

// DeriveKeys builds the composite key from the descriptor's fields in
// declared order. A document missing any indexed field is absent from the
// index.
func (ix *simpleIndexer) DeriveKeys(doc *document.Document) ([][]byte, error) {
	values := make([]document.Value, len(ix.desc.Fields))
	for i, f := range ix.desc.Fields {
		v, ok := doc.Get(f)
		if !ok {
			return nil, nil
		}
		values[i] = v
	}
	key, err := EncodeComposite(values...)
	if err != nil {
		return nil, fmt.Errorf("%w (index %s)", err, ix.desc)
	}
	return [][]byte{key}, nil
}

func (ix *simpleIndexer) Add(w EntryWriter, key []byte, id document.ID) error {
	ids, err := w.Entry(key)
	if err != nil {
		return err
	}
	if ix.unique {
		if len(ids) > 0 && ids[0] != id {
			return fmt.Errorf("%w (index %s)", ErrUniqueViolation, ix.desc)
		}
		return w.SetEntry(key, []document.ID{id})
	}
	if containsID(ids, id) {
		return nil
	}
	return w.SetEntry(key, append(ids, id))
}

func (ix *simpleIndexer) Remove(w EntryWriter, key []byte, id document.ID) error {
	ids, err := w.Entry(key)
	if err != nil {
		return err
	}
	return w.SetEntry(key, removeID(ids, id))
}

func (ix *simpleIndexer) ProbeEqual(r EntryReader, key []byte) ([]document.ID, error) {
	return r.Entry(key)
}

func (ix *simpleIndexer) ProbeRange(r EntryReader, lower, upper []byte) ([]document.ID, error) {
	var out []document.ID
	for e, err := range r.Range(lower, upper) {
		if err != nil {
			return nil, err
		}
		out = append(out, e.IDs...)
	}
	return out, nil
}

func (ix *simpleIndexer) CheckUnique(r EntryReader, key []byte, excluding document.ID) error {
	if !ix.unique {
		return nil
	}
	ids, err := r.Entry(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id != excluding {
			return fmt.Errorf("%w (index %s)", ErrUniqueViolation, ix.desc)
		}
	}
	return nil
}
