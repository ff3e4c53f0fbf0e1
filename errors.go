package quill

import "github.com/quilldb/quill/engine"

// Sentinel errors, matched with errors.Is. They are the engine's sentinels
// re-exported so callers rarely need to import the engine package directly.
var (
	// ErrNotFound is returned when a document id, index or collection is
	// absent.
	ErrNotFound = engine.ErrNotFound

	// ErrDuplicateIndex is returned by CreateIndex when an index already
	// exists for the exact field-path list.
	ErrDuplicateIndex = engine.ErrDuplicateIndex

	// ErrConstraintViolation is returned when a write would give a unique
	// index key a second document.
	ErrConstraintViolation = engine.ErrConstraintViolation

	// ErrConflict is returned at commit when optimistic validation fails.
	// The transaction applied nothing and may be retried.
	ErrConflict = engine.ErrConflict

	// ErrUnsupportedIndexField is returned when an indexed field holds a
	// value that cannot be ordered into an index key.
	ErrUnsupportedIndexField = engine.ErrUnsupportedIndexField

	// ErrStorageFailure wraps IO or durability errors from the storage
	// adapter. It poisons the enclosing transaction.
	ErrStorageFailure = engine.ErrStorageFailure

	// ErrInvalidState is returned for operations on a finished or poisoned
	// transaction.
	ErrInvalidState = engine.ErrInvalidState

	// ErrClosed is returned for operations on a closed database.
	ErrClosed = engine.ErrClosed
)

// Core types re-exported for ergonomic use of the root package.
type (
	// Collection is a named set of documents with secondary indexes.
	Collection = engine.Collection

	// Tx is an optimistic-concurrency transaction.
	Tx = engine.Tx

	// TxCollection is the view of a collection inside one transaction.
	TxCollection = engine.TxCollection

	// Cursor is a lazy, single-pass view over find results.
	Cursor = engine.Cursor

	// Match is one find result: the document and its id.
	Match = engine.Match

	// FindOptions shapes a find result: sort field plus pagination.
	FindOptions = engine.FindOptions

	// Event describes one committed mutation.
	Event = engine.Event
)
