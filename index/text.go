package index

import (
	"fmt"

	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/filter"
)

// textIndexer is the in-tree full-text kind: it tokenizes string fields and
// indexes one entry per token. It exists both as a usable index and as the
// reference implementation of a multi-key plugin.
type textIndexer struct {
	desc Descriptor
}

// NewFullText returns a token-based full-text indexer. The descriptor must
// cover exactly one field.
func NewFullText(desc Descriptor) (Indexer, error) {
	if len(desc.Fields) != 1 {
		return nil, fmt.Errorf("index: full-text index supports exactly one field, got %d", len(desc.Fields))
	}
	return &textIndexer{desc: desc}, nil
}

func (ix *textIndexer) Kind() Kind   { return FullText }
func (ix *textIndexer) Unique() bool { return false }

// DeriveKeys tokenizes the indexed string field; each distinct token becomes
// one key. Non-string values are absent from the index rather than an error,
// matching how a missing field behaves.
func (ix *textIndexer) DeriveKeys(doc *document.Document) ([][]byte, error) {
	v, ok := doc.Get(ix.desc.Fields[0])
	if !ok || v.Kind != document.KindString {
		return nil, nil
	}
	seen := make(map[string]struct{})
	var keys [][]byte
	for _, token := range filter.Tokenize(v.S) {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		key, err := EncodeComposite(document.String(token))
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// TokenKey encodes a single search token the way DeriveKeys does, for use by
// the query planner.
func TokenKey(token string) ([]byte, error) {
	return EncodeComposite(document.String(token))
}

func (ix *textIndexer) Add(w EntryWriter, key []byte, id document.ID) error {
	ids, err := w.Entry(key)
	if err != nil {
		return err
	}
	if containsID(ids, id) {
		return nil
	}
	return w.SetEntry(key, append(ids, id))
}

func (ix *textIndexer) Remove(w EntryWriter, key []byte, id document.ID) error {
	ids, err := w.Entry(key)
	if err != nil {
		return err
	}
	return w.SetEntry(key, removeID(ids, id))
}

func (ix *textIndexer) ProbeEqual(r EntryReader, key []byte) ([]document.ID, error) {
	return r.Entry(key)
}

// ProbeRange is not meaningful over a token keyspace.
func (ix *textIndexer) ProbeRange(EntryReader, []byte, []byte) ([]document.ID, error) {
	return nil, fmt.Errorf("%w: full-text index serves equality token probes only", ErrUnsupportedProbe)
}

func (ix *textIndexer) CheckUnique(EntryReader, []byte, document.ID) error { return nil }
