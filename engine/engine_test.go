package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilldb/quill/codec"
	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/index"
	"github.com/quilldb/quill/store"
	"github.com/quilldb/quill/store/sqlitestore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := Open(Options{Store: store.NewMemoryStore()})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func mustCollection(t *testing.T, eng *Engine, name string) *Collection {
	t.Helper()
	col, err := eng.Collection(name)
	require.NoError(t, err)
	return col
}

func mustInsert(t *testing.T, col *Collection, doc *document.Document) document.ID {
	t.Helper()
	id, err := col.Insert(doc)
	require.NoError(t, err)
	return id
}

func TestOpenDefaults(t *testing.T) {
	eng := newTestEngine(t)
	assert.Zero(t, eng.Version())
	assert.Empty(t, eng.CollectionNames())
}

func TestCollectionCreateOnFirstUse(t *testing.T) {
	eng := newTestEngine(t)

	assert.False(t, eng.HasCollection("people"))
	col := mustCollection(t, eng, "people")
	assert.Equal(t, "people", col.Name())
	assert.True(t, eng.HasCollection("people"))

	again := mustCollection(t, eng, "people")
	assert.Same(t, col, again)
}

func TestCollectionNamesSorted(t *testing.T) {
	eng := newTestEngine(t)
	for _, name := range []string{"zoo", "ants", "mids"} {
		mustCollection(t, eng, name)
	}
	assert.Equal(t, []string{"ants", "mids", "zoo"}, eng.CollectionNames())
}

func TestCollectionNameValidation(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Collection("")
	assert.Error(t, err)
	_, err = eng.Collection("__internal")
	assert.Error(t, err)
}

func TestDropCollection(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	require.NoError(t, col.CreateIndex([]string{"name"}, index.NonUnique))
	mustInsert(t, col, document.FromPairs("name", "Ada"))

	before := eng.Version()
	require.NoError(t, eng.DropCollection("people"))
	assert.False(t, eng.HasCollection("people"))
	assert.Greater(t, eng.Version(), before)

	assert.ErrorIs(t, eng.DropCollection("people"), ErrNotFound)

	// Recreating starts empty.
	col = mustCollection(t, eng, "people")
	n, err := col.Size()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, col.ListIndexes())
}

func TestVersionAdvancesPerCommit(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")

	v0 := eng.Version()
	mustInsert(t, col, document.FromPairs("n", 1))
	v1 := eng.Version()
	assert.Equal(t, v0+1, v1)

	// A read-only transaction does not advance the version.
	tx, err := eng.Begin()
	require.NoError(t, err)
	tc, err := tx.Collection("people")
	require.NoError(t, err)
	_, err = tc.Find(nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, v1, eng.Version())
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	eng, err := Open(Options{Store: store.NewMemoryStore()})
	require.NoError(t, err)
	col := mustCollection(t, eng, "people")

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	_, err = eng.Collection("x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = eng.Begin()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, eng.Flush(), ErrClosed)
	assert.ErrorIs(t, col.CreateIndex([]string{"a"}, index.Unique), ErrClosed)
}

func TestReopenLoadsCatalogAndPinsCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.db")

	eng, err := Open(Options{Store: sqlitestore.New(path)})
	require.NoError(t, err)
	col := mustCollection(t, eng, "people")
	require.NoError(t, col.CreateIndex([]string{"name"}, index.Unique))
	id := mustInsert(t, col, document.FromPairs("name", "Ada"))
	require.NoError(t, eng.Close())

	eng, err = Open(Options{Store: sqlitestore.New(path)})
	require.NoError(t, err)
	defer eng.Close()

	assert.True(t, eng.HasCollection("people"))
	col = mustCollection(t, eng, "people")
	assert.True(t, col.HasIndex([]string{"name"}))

	doc, err := col.Get(id)
	require.NoError(t, err)
	v, _ := doc.Get("name")
	assert.Equal(t, "Ada", v.S)

	// The unique index survived the reopen.
	_, err = col.Insert(document.FromPairs("name", "Ada"))
	assert.ErrorIs(t, err, ErrConstraintViolation)

	// The catalog pins the codec the database was created with.
	require.NoError(t, eng.Close())
	_, err = Open(Options{Store: sqlitestore.New(path), Codec: codec.JSON{}})
	assert.Error(t, err)
}
