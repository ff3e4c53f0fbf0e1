// Package store defines the ordered key-value contract the engine requires
// from a storage backend, plus a reference in-memory implementation.
//
// A Store exposes named keyspaces of byte keys ordered lexicographically,
// point reads and writes, bounded range scans, and an atomic multi-keyspace
// batch apply. The engine's commit path funnels every document and index
// mutation of a transaction through one batch, so batch atomicity is the
// only durability primitive the engine depends on. Everything else about the
// physical layout (journaling, compaction, caching) belongs to the backend.
package store
