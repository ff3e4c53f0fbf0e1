// Package engine implements the transactional collection and index core: it
// owns the document lifecycle inside collections, keeps secondary indexes
// consistent with collection content, and provides optimistic-concurrency
// transactions spanning collections with all-or-nothing visibility.
//
// # Locking
//
// The engine never holds a lock for the lifetime of a transaction. Three
// short-lived layers exist:
//
//   - each Collection has a mutex serializing commit application and index
//     DDL against each other; reads never take it and rely on the storage
//     adapter's atomic batch visibility instead
//   - Engine.commitMu serializes commit validation, batch application and
//     advance of the committed-state version
//   - Engine.mu guards the collection registry
//
// Lock order is always Engine.mu before collection mutexes (sorted by name)
// before commitMu; once a collection mutex is held, Engine.mu is never taken
// again, so commit resolves every collection it needs from the registry up
// front. Index population during create-index holds only the affected
// collection's mutex, so commits against other collections proceed
// concurrently.
package engine
