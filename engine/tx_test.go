package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/filter"
	"github.com/quilldb/quill/index"
)

func beginTx(t *testing.T, eng *Engine, name string) (*Tx, *TxCollection) {
	t.Helper()
	tx, err := eng.Begin()
	require.NoError(t, err)
	tc, err := tx.Collection(name)
	require.NoError(t, err)
	return tx, tc
}

func TestTxWritesInvisibleUntilCommit(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")

	tx, tc := beginTx(t, eng, "people")
	id, err := tc.Insert(document.FromPairs("n", 1))
	require.NoError(t, err)

	// Inside the transaction the write is visible.
	doc, err := tc.Get(id)
	require.NoError(t, err)
	v, _ := doc.Get("n")
	assert.Equal(t, int64(1), v.I64)

	// Outside it is not.
	_, err = col.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tx.Commit())
	_, err = col.Get(id)
	assert.NoError(t, err)
}

func TestTxRollbackDiscardsEverything(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	existing := mustInsert(t, col, document.FromPairs("n", 1))

	tx, tc := beginTx(t, eng, "people")
	_, err := tc.Insert(document.FromPairs("n", 2))
	require.NoError(t, err)
	require.NoError(t, tc.Remove(existing))
	require.NoError(t, tx.Rollback())

	n, err := col.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = col.Get(existing)
	assert.NoError(t, err)
}

func TestTxTerminalStateRejectsOperations(t *testing.T) {
	eng := newTestEngine(t)
	mustCollection(t, eng, "people")

	tx, tc := beginTx(t, eng, "people")
	require.NoError(t, tx.Commit())
	assert.Equal(t, TxCommitted, tx.State())

	_, err := tc.Insert(document.FromPairs("n", 1))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, tx.Commit(), ErrInvalidState)
	assert.NoError(t, tx.Rollback(), "rollback of a finished transaction is a no-op")

	tx2, tc2 := beginTx(t, eng, "people")
	require.NoError(t, tx2.Rollback())
	assert.Equal(t, TxAborted, tx2.State())
	_, err = tc2.Get(document.ID(1))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTxSnapshotStableReads(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	id := mustInsert(t, col, document.FromPairs("n", 1))

	tx, tc := beginTx(t, eng, "people")
	doc, err := tc.Get(id)
	require.NoError(t, err)
	v, _ := doc.Get("n")
	require.Equal(t, int64(1), v.I64)

	// Another writer commits an update.
	_, err = col.Update(id, document.FromPairs("n", 99))
	require.NoError(t, err)

	// The transaction re-reads the value it first saw.
	doc, err = tc.Get(id)
	require.NoError(t, err)
	v, _ = doc.Get("n")
	assert.Equal(t, int64(1), v.I64)

	// It read but never wrote, so it commits cleanly.
	assert.NoError(t, tx.Commit())
}

func TestTxConflictOnConcurrentUpdate(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	id := mustInsert(t, col, document.FromPairs("n", 0))

	tx1, tc1 := beginTx(t, eng, "people")
	tx2, tc2 := beginTx(t, eng, "people")

	_, err := tc1.Update(id, document.FromPairs("n", 1))
	require.NoError(t, err)
	_, err = tc2.Update(id, document.FromPairs("n", 2))
	require.NoError(t, err)

	require.NoError(t, tx1.Commit())
	err = tx2.Commit()
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, TxAborted, tx2.State())

	doc, err := col.Get(id)
	require.NoError(t, err)
	v, _ := doc.Get("n")
	assert.Equal(t, int64(1), v.I64, "the loser applied nothing")
}

func TestTxConflictOnReadModifiedDocument(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	watched := mustInsert(t, col, document.FromPairs("n", 0))

	tx, tc := beginTx(t, eng, "people")
	_, err := tc.Get(watched)
	require.NoError(t, err)
	_, err = tc.Insert(document.FromPairs("other", 1))
	require.NoError(t, err)

	// A concurrent writer changes the document the transaction read.
	_, err = col.Update(watched, document.FromPairs("n", 5))
	require.NoError(t, err)

	assert.ErrorIs(t, tx.Commit(), ErrConflict)
}

func TestTxUniqueInsertRace(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	require.NoError(t, col.CreateIndex([]string{"email"}, index.Unique))

	tx1, tc1 := beginTx(t, eng, "people")
	tx2, tc2 := beginTx(t, eng, "people")

	_, err := tc1.Insert(document.FromPairs("email", "ada@x.com"))
	require.NoError(t, err)
	_, err = tc2.Insert(document.FromPairs("email", "ada@x.com"))
	require.NoError(t, err, "neither transaction sees the other's staged write")

	require.NoError(t, tx1.Commit())
	err = tx2.Commit()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	cur, err := col.Find(filter.Field("email").Eq("ada@x.com"))
	require.NoError(t, err)
	n, err := cur.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "exactly one insert won")
}

func TestTxPhantomProtectionOnIndexProbe(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	require.NoError(t, col.CreateIndex([]string{"age"}, index.NonUnique))
	mustInsert(t, col, document.FromPairs("age", 30))

	tx, tc := beginTx(t, eng, "people")
	cur, err := tc.Find(filter.Field("age").Between(20, 40))
	require.NoError(t, err)
	n, err := cur.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = tc.Insert(document.FromPairs("marker", 1))
	require.NoError(t, err)

	// A concurrent insert lands inside the probed range.
	mustInsert(t, col, document.FromPairs("age", 35))

	assert.ErrorIs(t, tx.Commit(), ErrConflict)
}

func TestTxFullScanConflictsWithAnyWrite(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	mustInsert(t, col, document.FromPairs("n", 1))

	tx, tc := beginTx(t, eng, "people")
	cur, err := tc.Find(filter.Field("n").Gt(0))
	require.NoError(t, err)
	_, err = cur.Count()
	require.NoError(t, err)
	_, err = tc.Insert(document.FromPairs("n", 2))
	require.NoError(t, err)

	mustInsert(t, col, document.FromPairs("n", 3))

	assert.ErrorIs(t, tx.Commit(), ErrConflict)
}

func TestTxReadOnlyNeverConflicts(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	id := mustInsert(t, col, document.FromPairs("n", 1))

	tx, tc := beginTx(t, eng, "people")
	_, err := tc.Get(id)
	require.NoError(t, err)

	_, err = col.Update(id, document.FromPairs("n", 2))
	require.NoError(t, err)

	assert.NoError(t, tx.Commit(), "a transaction with no writes validates nothing")
}

func TestTxSpansCollectionsAtomically(t *testing.T) {
	eng := newTestEngine(t)
	accounts := mustCollection(t, eng, "accounts")
	audit := mustCollection(t, eng, "audit")
	from := mustInsert(t, accounts, document.FromPairs("balance", 100))
	to := mustInsert(t, accounts, document.FromPairs("balance", 0))

	tx, err := eng.Begin()
	require.NoError(t, err)
	txAccounts, err := tx.Collection("accounts")
	require.NoError(t, err)
	txAudit, err := tx.Collection("audit")
	require.NoError(t, err)

	_, err = txAccounts.Update(from, document.FromPairs("balance", 60))
	require.NoError(t, err)
	_, err = txAccounts.Update(to, document.FromPairs("balance", 40))
	require.NoError(t, err)
	_, err = txAudit.Insert(document.FromPairs("amount", 40))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	doc, err := accounts.Get(from)
	require.NoError(t, err)
	v, _ := doc.Get("balance")
	assert.Equal(t, int64(60), v.I64)
	n, err := audit.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTxUpdateThenRemoveCollapses(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	require.NoError(t, col.CreateIndex([]string{"n"}, index.NonUnique))
	id := mustInsert(t, col, document.FromPairs("n", 1))

	tx, tc := beginTx(t, eng, "people")
	_, err := tc.Update(id, document.FromPairs("n", 2))
	require.NoError(t, err)
	require.NoError(t, tc.Remove(id))
	require.NoError(t, tx.Commit())

	_, err = col.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, n := range []int{1, 2} {
		cur, err := col.Find(filter.Field("n").Eq(n))
		require.NoError(t, err)
		count, err := cur.Count()
		require.NoError(t, err)
		assert.Zero(t, count, "no index entry survives for n=%d", n)
	}
}

func TestTxInsertVisibleToOwnFind(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	require.NoError(t, col.CreateIndex([]string{"city"}, index.NonUnique))
	mustInsert(t, col, document.FromPairs("city", "Oslo"))

	tx, tc := beginTx(t, eng, "people")
	_, err := tc.Insert(document.FromPairs("city", "Oslo"))
	require.NoError(t, err)
	require.NoError(t, tc.Remove(mustFirstID(t, tc, filter.Field("city").Eq("Oslo"))))

	cur, err := tc.Find(filter.Field("city").Eq("Oslo"))
	require.NoError(t, err)
	n, err := cur.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "staged insert and staged remove both visible to the probe")

	require.NoError(t, tx.Rollback())
}

func mustFirstID(t *testing.T, tc *TxCollection, f filter.Filter) document.ID {
	t.Helper()
	cur, err := tc.Find(f)
	require.NoError(t, err)
	m, err := cur.First()
	require.NoError(t, err)
	return m.ID
}
