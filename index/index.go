package index

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/quilldb/quill/document"
)

// Kind identifies an index implementation.
type Kind string

const (
	// Unique maps each composite key to exactly one document id.
	Unique Kind = "unique"
	// NonUnique maps a composite key to the ids holding it, in insertion
	// order.
	NonUnique Kind = "non-unique"
	// FullText tokenizes string fields and indexes each token.
	FullText Kind = "fulltext"
)

var (
	// ErrUnsupportedField is returned when a field value cannot be ordered
	// into a composite key (nested documents, arrays).
	ErrUnsupportedField = errors.New("index: unsupported field type for index key")

	// ErrUniqueViolation is returned when a unique index key already resolves
	// to a different document id.
	ErrUniqueViolation = errors.New("index: unique constraint violation")

	// ErrUnsupportedProbe is returned when an index kind cannot serve the
	// requested probe shape.
	ErrUnsupportedProbe = errors.New("index: unsupported probe")
)

// Descriptor names an index within a collection: the ordered field paths it
// covers and its kind. At most one index may exist per distinct field list.
type Descriptor struct {
	Fields []string `bson:"fields" json:"fields"`
	Kind   Kind     `bson:"kind" json:"kind"`
}

// ID returns the canonical identifier for the descriptor's field list. Two
// descriptors with the same fields in the same order share an ID regardless
// of kind, which is what enforces the one-index-per-field-list rule.
func (d Descriptor) ID() string { return strings.Join(d.Fields, "+") }

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.Kind, strings.Join(d.Fields, ","))
}

// Validate checks structural well-formedness of the descriptor.
func (d Descriptor) Validate() error {
	if len(d.Fields) == 0 {
		return fmt.Errorf("index: descriptor needs at least one field")
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if f == "" {
			return fmt.Errorf("index: empty field path in descriptor")
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("index: duplicate field %q in descriptor", f)
		}
		seen[f] = struct{}{}
	}
	return nil
}

// KeyEntry is one index entry yielded by a range probe.
type KeyEntry struct {
	Key []byte
	IDs []document.ID
}

// EntryReader is the view of an index's entries an Indexer probes through.
// The engine implements it twice: over committed state, and over committed
// state overlaid with a transaction's staged deltas.
type EntryReader interface {
	// Entry returns the ids stored under key, nil when absent.
	Entry(key []byte) ([]document.ID, error)

	// Range iterates entries with lower <= key < upper in ascending key
	// order. Nil bounds are unbounded.
	Range(lower, upper []byte) iter.Seq2[KeyEntry, error]
}

// EntryWriter is the mutation surface an Indexer applies entry deltas
// through at commit time. SetEntry with an empty id list removes the entry.
type EntryWriter interface {
	Entry(key []byte) ([]document.ID, error)
	SetEntry(key []byte, ids []document.ID) error
}

// Indexer is the plugin contract every index kind implements.
type Indexer interface {
	// Kind identifies the implementation.
	Kind() Kind

	// Unique reports whether the index enforces key uniqueness.
	Unique() bool

	// DeriveKeys derives the composite keys for a document, in a stable
	// order. A (nil, nil) result means the document lacks the indexed fields
	// and is simply absent from this index. Most kinds derive at most one
	// key; token-based kinds derive one per token.
	DeriveKeys(doc *document.Document) ([][]byte, error)

	// Add records id under key through w.
	Add(w EntryWriter, key []byte, id document.ID) error

	// Remove erases id from the entry under key through w.
	Remove(w EntryWriter, key []byte, id document.ID) error

	// ProbeEqual returns the ids stored under exactly key.
	ProbeEqual(r EntryReader, key []byte) ([]document.ID, error)

	// ProbeRange returns ids for keys in [lower, upper), ordered by key.
	ProbeRange(r EntryReader, lower, upper []byte) ([]document.ID, error)

	// CheckUnique returns ErrUniqueViolation when key already resolves to an
	// id other than excluding. Non-unique kinds return nil unconditionally.
	CheckUnique(r EntryReader, key []byte, excluding document.ID) error
}
