package store

// BatchOpKind identifies a batch operation.
type BatchOpKind uint8

const (
	// BatchPut stores a key-value pair.
	BatchPut BatchOpKind = iota
	// BatchDelete removes a key.
	BatchDelete
	// BatchDropKeyspace removes a whole keyspace.
	BatchDropKeyspace
)

// BatchOp is one operation inside a Batch.
type BatchOp struct {
	Kind     BatchOpKind
	Keyspace string
	Key      []byte
	Value    []byte
}

// Batch accumulates operations, possibly spanning keyspaces, to be applied
// atomically by Store.Apply. Operations apply in insertion order. A Batch is
// not safe for concurrent use.
type Batch struct {
	ops []BatchOp
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Put appends a put operation.
func (b *Batch) Put(keyspace string, key, value []byte) {
	b.ops = append(b.ops, BatchOp{Kind: BatchPut, Keyspace: keyspace, Key: key, Value: value})
}

// Delete appends a delete operation.
func (b *Batch) Delete(keyspace string, key []byte) {
	b.ops = append(b.ops, BatchOp{Kind: BatchDelete, Keyspace: keyspace, Key: key})
}

// DropKeyspace appends a keyspace drop.
func (b *Batch) DropKeyspace(keyspace string) {
	b.ops = append(b.ops, BatchOp{Kind: BatchDropKeyspace, Keyspace: keyspace})
}

// Len returns the number of operations.
func (b *Batch) Len() int { return len(b.ops) }

// Ops exposes the accumulated operations to Store implementations.
func (b *Batch) Ops() []BatchOp { return b.ops }
