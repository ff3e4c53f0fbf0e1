// Package codec centralizes document record encoding.
//
// Codec selection is a breaking-change boundary: bytes persisted by one codec
// may not decode under another. The engine records the codec name in the
// database catalog so a mismatch is detected on open instead of producing
// garbage reads.
package codec

import (
	"fmt"

	"github.com/quilldb/quill/document"
)

// Record is the stored form of a document: its identity, its revision counter
// and the document body. Revision starts at 1 and increments on every
// committed mutation.
type Record struct {
	ID       document.ID
	Revision uint64
	Doc      *document.Document
}

// Codec encodes and decodes document records and plain metadata structs.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name is the stable identifier persisted in the catalog.
	Name() string

	// MarshalRecord encodes a document record losslessly, including the
	// int/float and bytes/reference distinctions of the value union.
	MarshalRecord(r *Record) ([]byte, error)

	// UnmarshalRecord decodes bytes produced by MarshalRecord.
	UnmarshalRecord(data []byte) (*Record, error)

	// Marshal encodes a plain metadata value (index descriptors, catalog
	// entries). Not for documents.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes bytes produced by Marshal.
	Unmarshal(data []byte, v any) error
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "bson":
		return BSON{}, true
	case "json":
		return JSON{}, true
	default:
		return nil, false
	}
}

// Default is the codec used when none is configured.
var Default Codec = BSON{}

// MustMarshalRecord is a helper for internal tests.
func MustMarshalRecord(c Codec, r *Record) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.MarshalRecord(r)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
