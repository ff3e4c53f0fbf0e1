package engine

import (
	"errors"

	"github.com/quilldb/quill/index"
)

// Sentinel errors of the engine. The quill package re-exports these; callers
// match them with errors.Is.
var (
	// ErrNotFound is returned when an operation references a document id or
	// an index absent from the collection.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIndex is returned by create-index when an index already
	// exists for the exact field-path list.
	ErrDuplicateIndex = errors.New("index already exists")

	// ErrConstraintViolation is returned when a unique index key already
	// resolves to a different document.
	ErrConstraintViolation = errors.New("unique constraint violation")

	// ErrConflict is returned at commit time when optimistic validation
	// fails. The transaction applied nothing; the caller may re-run it.
	ErrConflict = errors.New("transaction conflict")

	// ErrUnsupportedIndexField is returned when an indexed field holds a
	// value that cannot be ordered into a composite key.
	ErrUnsupportedIndexField = index.ErrUnsupportedField

	// ErrStorageFailure wraps IO or durability errors reported by the
	// storage adapter. It poisons the enclosing transaction.
	ErrStorageFailure = errors.New("storage failure")

	// ErrInvalidState is returned when an operation is attempted on a
	// terminal or poisoned transaction.
	ErrInvalidState = errors.New("invalid transaction state")

	// ErrClosed is returned for operations on a closed database.
	ErrClosed = errors.New("database is closed")
)
