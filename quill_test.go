package quill

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/filter"
	"github.com/quilldb/quill/index"
)

func openDB(t *testing.T, optFns ...Option) *DB {
	t.Helper()
	db, err := Open(optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenInMemoryByDefault(t *testing.T) {
	db := openDB(t)

	col, err := db.Collection("people")
	require.NoError(t, err)
	id, err := col.Insert(document.FromPairs("name", "Ada"))
	require.NoError(t, err)

	doc, err := col.Get(id)
	require.NoError(t, err)
	v, _ := doc.Get("name")
	assert.Equal(t, "Ada", v.S)
}

func TestOpenWithFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.db")

	db, err := Open(WithFile(path))
	require.NoError(t, err)
	col, err := db.Collection("people")
	require.NoError(t, err)
	require.NoError(t, col.CreateIndex([]string{"name"}, index.Unique))
	id, err := col.Insert(document.FromPairs("name", "Ada"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = openDB(t, WithFile(path))
	require.True(t, db.HasCollection("people"))
	col, err = db.Collection("people")
	require.NoError(t, err)

	doc, err := col.Get(id)
	require.NoError(t, err)
	v, _ := doc.Get("name")
	assert.Equal(t, "Ada", v.S)
	assert.True(t, col.HasIndex([]string{"name"}))
}

func TestOpenWithNilLoggerDisablesLogging(t *testing.T) {
	db := openDB(t, WithLogger(nil))

	col, err := db.Collection("people")
	require.NoError(t, err)
	_, err = col.Insert(document.FromPairs("name", "Ada"))
	require.NoError(t, err)
}

func TestWithTxCommitsOnNil(t *testing.T) {
	db := openDB(t)
	col, err := db.Collection("people")
	require.NoError(t, err)

	err = db.WithTx(func(tx *Tx) error {
		tc, err := tx.Collection("people")
		if err != nil {
			return err
		}
		_, err = tc.Insert(document.FromPairs("n", 1))
		return err
	})
	require.NoError(t, err)

	n, err := col.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openDB(t)
	col, err := db.Collection("people")
	require.NoError(t, err)

	sentinel := assert.AnError
	err = db.WithTx(func(tx *Tx) error {
		tc, err := tx.Collection("people")
		if err != nil {
			return err
		}
		if _, err := tc.Insert(document.FromPairs("n", 1)); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	n, err := col.Size()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunTxRetriesConflicts(t *testing.T) {
	db := openDB(t)
	col, err := db.Collection("counters")
	require.NoError(t, err)
	id, err := col.Insert(document.FromPairs("value", 0))
	require.NoError(t, err)

	// The first attempt loses a race injected between its read and its
	// commit; the retry runs against fresh state and succeeds.
	raced := false
	err = db.RunTx(3, func(tx *Tx) error {
		tc, err := tx.Collection("counters")
		if err != nil {
			return err
		}
		doc, err := tc.Get(id)
		if err != nil {
			return err
		}
		v, _ := doc.Get("value")

		if !raced {
			raced = true
			if _, err := col.Update(id, document.FromPairs("value", 100)); err != nil {
				return err
			}
		}

		_, err = tc.Update(id, document.FromPairs("value", v.I64+1))
		return err
	})
	require.NoError(t, err)

	doc, err := col.Get(id)
	require.NoError(t, err)
	v, _ := doc.Get("value")
	assert.Equal(t, int64(101), v.I64, "the retry read the raced value")
}

func TestFindThroughFacade(t *testing.T) {
	db := openDB(t)
	col, err := db.Collection("people")
	require.NoError(t, err)
	require.NoError(t, col.CreateIndex([]string{"age"}, index.NonUnique))

	for i := 0; i < 10; i++ {
		_, err := col.Insert(document.FromPairs("age", 20+i))
		require.NoError(t, err)
	}

	cur, err := col.Find(filter.Field("age").Gte(25), &FindOptions{SortBy: "age"})
	require.NoError(t, err)
	matches, err := cur.ToSlice()
	require.NoError(t, err)
	require.Len(t, matches, 5)
	v, _ := matches[0].Doc.Get("age")
	assert.Equal(t, int64(25), v.I64)
}

func TestSentinelErrorsSurfaceAtRoot(t *testing.T) {
	db := openDB(t)
	col, err := db.Collection("people")
	require.NoError(t, err)

	_, err = col.Get(document.ID(404))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, col.CreateIndex([]string{"email"}, index.Unique))
	_, err = col.Insert(document.FromPairs("email", "x"))
	require.NoError(t, err)
	_, err = col.Insert(document.FromPairs("email", "x"))
	assert.ErrorIs(t, err, ErrConstraintViolation)

	require.NoError(t, db.Close())
	_, err = db.Collection("more")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestVersionVisibleThroughFacade(t *testing.T) {
	db := openDB(t)
	col, err := db.Collection("people")
	require.NoError(t, err)

	v0 := db.Version()
	_, err = col.Insert(document.FromPairs("n", 1))
	require.NoError(t, err)
	assert.Greater(t, db.Version(), v0)
	assert.NoError(t, db.Flush())
}
