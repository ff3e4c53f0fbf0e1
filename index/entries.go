package index

import (
	"encoding/binary"
	"fmt"

	"github.com/quilldb/quill/document"
)

// Index entries store their document ids as concatenated 8-byte big-endian
// values, preserving insertion order for non-unique keys.

// EncodeIDList encodes ids into an entry value.
func EncodeIDList(ids []document.ID) []byte {
	out := make([]byte, 0, len(ids)*8)
	for _, id := range ids {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(id))
		out = append(out, b[:]...)
	}
	return out
}

// DecodeIDList decodes an entry value produced by EncodeIDList.
func DecodeIDList(data []byte) ([]document.ID, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("index: malformed entry value length %d", len(data))
	}
	ids := make([]document.ID, 0, len(data)/8)
	for i := 0; i < len(data); i += 8 {
		ids = append(ids, document.ID(binary.BigEndian.Uint64(data[i:i+8])))
	}
	return ids, nil
}

func containsID(ids []document.ID, id document.ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func removeID(ids []document.ID, id document.ID) []document.ID {
	for i, x := range ids {
		if x == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
