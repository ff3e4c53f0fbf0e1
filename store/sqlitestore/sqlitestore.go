// Package sqlitestore provides a durable storage adapter backed by SQLite
// (modernc.org/sqlite, pure Go). Keyspaces map to a single kv table keyed by
// (keyspace, key); BLOB comparison in SQLite is bytewise, which matches the
// lexicographic ordering the store contract requires. Batches execute inside
// one SQL transaction, so commit application is atomic and, with the WAL
// journal, durable once Flush checkpoints.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"iter"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/quilldb/quill/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	ks TEXT NOT NULL,
	k  BLOB NOT NULL,
	v  BLOB NOT NULL,
	PRIMARY KEY (ks, k)
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS keyspaces (
	name TEXT PRIMARY KEY
);`

// Store is a durable store.Store implementation over a single SQLite file.
// Use ":memory:" for an in-memory database (volatile, but still atomic).
type Store struct {
	path string

	mu     sync.Mutex
	db     *sql.DB
	opened bool
	closed bool
}

// New returns an unopened store for the given database file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Name implements store.Store.
func (s *Store) Name() string { return "sqlite" }

// Open implements store.Store.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return fmt.Errorf("sqlitestore: already open")
	}
	if s.closed {
		return fmt.Errorf("sqlitestore: closed")
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("sqlitestore: open %q: %w", s.path, err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under concurrent
	// batches; the engine serializes commits anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	s.db = db
	s.opened = true
	return nil
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened || s.closed {
		return nil, fmt.Errorf("sqlitestore: store not open")
	}
	return s.db, nil
}

// Keyspace implements store.Store.
func (s *Store) Keyspace(name string) (store.Keyspace, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("INSERT OR IGNORE INTO keyspaces(name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("sqlitestore: register keyspace %q: %w", name, err)
	}
	return &keyspace{store: s, name: name}, nil
}

// DropKeyspace implements store.Store.
func (s *Store) DropKeyspace(name string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sqlitestore: drop keyspace %q: %w", name, err)
	}
	if _, err := tx.Exec("DELETE FROM kv WHERE ks = ?", name); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlitestore: drop keyspace %q: %w", name, err)
	}
	if _, err := tx.Exec("DELETE FROM keyspaces WHERE name = ?", name); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlitestore: drop keyspace %q: %w", name, err)
	}
	return tx.Commit()
}

// Keyspaces implements store.Store.
func (s *Store) Keyspaces() ([]string, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT name FROM keyspaces ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list keyspaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Apply implements store.Store. All operations run in one SQL transaction.
func (s *Store) Apply(b *store.Batch) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sqlitestore: begin batch: %w", err)
	}
	for _, op := range b.Ops() {
		switch op.Kind {
		case store.BatchPut:
			_, err = tx.Exec(
				"INSERT INTO kv(ks, k, v) VALUES (?, ?, ?) ON CONFLICT(ks, k) DO UPDATE SET v = excluded.v",
				op.Keyspace, op.Key, op.Value)
		case store.BatchDelete:
			_, err = tx.Exec("DELETE FROM kv WHERE ks = ? AND k = ?", op.Keyspace, op.Key)
		case store.BatchDropKeyspace:
			if _, err = tx.Exec("DELETE FROM kv WHERE ks = ?", op.Keyspace); err == nil {
				_, err = tx.Exec("DELETE FROM keyspaces WHERE name = ?", op.Keyspace)
			}
		default:
			err = fmt.Errorf("sqlitestore: unknown batch op %d", op.Kind)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlitestore: apply batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit batch: %w", err)
	}
	return nil
}

// Flush implements store.Store by checkpointing the WAL.
func (s *Store) Flush() error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("sqlitestore: checkpoint: %w", err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type keyspace struct {
	store *Store
	name  string
}

func (k *keyspace) Name() string { return k.name }

func (k *keyspace) Get(key []byte) ([]byte, bool, error) {
	db, err := k.store.handle()
	if err != nil {
		return nil, false, err
	}
	var v []byte
	err = db.QueryRow("SELECT v FROM kv WHERE ks = ? AND k = ?", k.name, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: get: %w", err)
	}
	return v, true, nil
}

func (k *keyspace) Has(key []byte) (bool, error) {
	_, ok, err := k.Get(key)
	return ok, err
}

func (k *keyspace) Put(key, value []byte) error {
	db, err := k.store.handle()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		"INSERT INTO kv(ks, k, v) VALUES (?, ?, ?) ON CONFLICT(ks, k) DO UPDATE SET v = excluded.v",
		k.name, key, value)
	if err != nil {
		return fmt.Errorf("sqlitestore: put: %w", err)
	}
	return nil
}

func (k *keyspace) Delete(key []byte) error {
	db, err := k.store.handle()
	if err != nil {
		return err
	}
	if _, err := db.Exec("DELETE FROM kv WHERE ks = ? AND k = ?", k.name, key); err != nil {
		return fmt.Errorf("sqlitestore: delete: %w", err)
	}
	return nil
}

// Scan materializes matching rows before yielding, so no SQLite cursor stays
// open while the caller iterates.
func (k *keyspace) Scan(lower, upper []byte) iter.Seq2[store.Entry, error] {
	return func(yield func(store.Entry, error) bool) {
		db, err := k.store.handle()
		if err != nil {
			yield(store.Entry{}, err)
			return
		}

		query := "SELECT k, v FROM kv WHERE ks = ?"
		args := []any{k.name}
		if lower != nil {
			query += " AND k >= ?"
			args = append(args, lower)
		}
		if upper != nil {
			query += " AND k < ?"
			args = append(args, upper)
		}
		query += " ORDER BY k"

		rows, err := db.Query(query, args...)
		if err != nil {
			yield(store.Entry{}, fmt.Errorf("sqlitestore: scan: %w", err))
			return
		}
		var entries []store.Entry
		for rows.Next() {
			var e store.Entry
			if err := rows.Scan(&e.Key, &e.Value); err != nil {
				rows.Close()
				yield(store.Entry{}, err)
				return
			}
			entries = append(entries, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			yield(store.Entry{}, err)
			return
		}

		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (k *keyspace) Count() (int, error) {
	db, err := k.store.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM kv WHERE ks = ?", k.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitestore: count: %w", err)
	}
	return n, nil
}
