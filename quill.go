// Package quill provides an embedded, in-process transactional document
// database for Go.
//
// Quill stores schemaless documents in named collections, maintains
// secondary indexes over document fields and runs multi-collection
// transactions under optimistic concurrency control:
//
//   - Documents: ordered field maps with dotted-path access to nested fields
//   - Collections: created on first use, dropped atomically
//   - Indexes: unique, non-unique and full-text, over one or more fields
//   - Transactions: snapshot reads, all-or-nothing commits, conflicts
//     reported as ErrConflict for the caller to retry
//   - Storage: pluggable ordered key-value adapters; in-memory by default,
//     SQLite-backed for durability
//
// # Quick Start
//
// Open an in-memory database, insert and query:
//
//	db, err := quill.Open()
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	people, err := db.Collection("people")
//	if err != nil {
//	    panic(err)
//	}
//
//	doc := document.FromPairs("name", "Ada", "age", 36)
//	id, err := people.Insert(doc)
//
//	cursor, err := people.Find(filter.Field("age").Gte(30))
//	for match, err := range cursor.All() {
//	    // ...
//	}
//
// Durable storage:
//
//	db, err := quill.Open(quill.WithFile("./data/quill.db"))
//
// Explicit transactions:
//
//	err := db.WithTx(func(tx *quill.Tx) error {
//	    people, err := tx.Collection("people")
//	    if err != nil {
//	        return err
//	    }
//	    _, err = people.Insert(document.FromPairs("name", "Grace"))
//	    return err
//	})
//
// A commit that loses a race returns ErrConflict; RunTx retries those
// automatically.
package quill

import (
	"errors"

	"github.com/quilldb/quill/engine"
)

// DB is one open database instance. All methods are safe for concurrent use.
type DB struct {
	eng    *engine.Engine
	logger *Logger
}

// Open opens a database. With no options it is in-memory and non-durable;
// see WithFile and WithStore for persistent storage.
func Open(optFns ...Option) (*DB, error) {
	o, err := applyOptions(optFns)
	if err != nil {
		return nil, err
	}
	eng, err := engine.Open(engine.Options{
		Store:    o.store,
		Codec:    o.codec,
		Logger:   o.logger.Logger,
		Registry: o.registry,
		IDNode:   o.idNode,
	})
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng, logger: o.logger}, nil
}

// Collection returns the named collection, creating it on first use.
func (db *DB) Collection(name string) (*Collection, error) {
	return db.eng.Collection(name)
}

// HasCollection reports whether the named collection exists.
func (db *DB) HasCollection(name string) bool {
	return db.eng.HasCollection(name)
}

// CollectionNames lists existing collections in sorted order.
func (db *DB) CollectionNames() []string {
	return db.eng.CollectionNames()
}

// DropCollection removes a collection with its documents and indexes.
func (db *DB) DropCollection(name string) error {
	return db.eng.DropCollection(name)
}

// Begin starts an explicit transaction. The caller must finish it with
// Commit or Rollback.
func (db *DB) Begin() (*Tx, error) {
	return db.eng.Begin()
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. The commit's error, including ErrConflict, is
// returned as-is.
func (db *DB) WithTx(fn func(tx *Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RunTx runs fn like WithTx but retries up to attempts times when the commit
// conflicts. Any other error returns immediately.
func (db *DB) RunTx(attempts int, fn func(tx *Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = db.WithTx(fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}

// Version returns the committed-state version, advancing with every commit.
func (db *DB) Version() uint64 {
	return db.eng.Version()
}

// Flush makes applied writes durable on adapters that buffer them.
func (db *DB) Flush() error {
	return db.eng.Flush()
}

// Engine exposes the underlying engine, for tooling such as backups.
func (db *DB) Engine() *engine.Engine {
	return db.eng
}

// Close flushes and closes the database. Close is idempotent.
func (db *DB) Close() error {
	return db.eng.Close()
}
