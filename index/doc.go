// Package index defines the secondary index contract and its built-in kinds.
//
// An index maps composite keys, derived deterministically from document field
// values, to document ids. The Indexer interface is the plugin boundary:
// unique, non-unique and full-text indexers ship in-tree, and specialized
// kinds (spatial, external FTS) implement the same derive/add/remove/probe
// surface with their own key spaces.
//
// Indexers are stateless: entries live in an ordered keyspace owned by the
// engine, and indexers only decide how keys are derived and how entries are
// mutated and probed. That keeps index maintenance inside the engine's
// transactional staging and commit path.
package index
