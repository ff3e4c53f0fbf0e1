package store

import "iter"

// Entry is one key-value pair yielded by a range scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Keyspace is one ordered key range within a Store. Keys are arbitrary byte
// strings compared lexicographically.
type Keyspace interface {
	// Name returns the keyspace name within its store.
	Name() string

	// Get returns the value for key. The second result is false when the key
	// is absent.
	Get(key []byte) ([]byte, bool, error)

	// Has reports whether key is present.
	Has(key []byte) (bool, error)

	// Put stores value under key, replacing any previous value.
	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// Scan iterates entries with lower <= key < upper in ascending key order.
	// A nil lower or upper leaves that side unbounded. Implementations must
	// yield a stable view: entries written after the scan started need not
	// appear, but the sequence is never corrupted by concurrent writes.
	Scan(lower, upper []byte) iter.Seq2[Entry, error]

	// Count returns the number of entries.
	Count() (int, error)
}

// Store is a pluggable ordered key-value backend.
//
// Implementations must be safe for concurrent use. A successful Apply must be
// visible to subsequent reads; durable implementations must additionally
// survive a crash once Flush returns.
type Store interface {
	// Name identifies the backend in logs.
	Name() string

	// Open prepares the store for use. Open on an opened store is an error.
	Open() error

	// Keyspace opens or creates the named keyspace.
	Keyspace(name string) (Keyspace, error)

	// DropKeyspace removes a keyspace and all its entries.
	DropKeyspace(name string) error

	// Keyspaces lists existing keyspace names.
	Keyspaces() ([]string, error)

	// Apply executes all batch operations atomically: either every operation
	// becomes visible or none does.
	Apply(b *Batch) error

	// Flush makes previously applied writes durable. In-memory stores no-op.
	Flush() error

	// Close releases resources. Further operations fail.
	Close() error
}

// PrefixSuccessor returns the smallest byte string greater than every string
// having the given prefix, or nil when no such bound exists (all 0xff). It is
// used to turn prefix probes into half-open scan ranges.
func PrefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			out := make([]byte, i+1)
			copy(out, prefix[:i+1])
			out[i]++
			return out
		}
	}
	return nil
}

// KeySuccessor returns the smallest byte string strictly greater than key,
// which is key with a zero byte appended.
func KeySuccessor(key []byte) []byte {
	out := make([]byte, len(key)+1)
	copy(out, key)
	return out
}
