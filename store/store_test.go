package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *MemoryStore {
	t.Helper()
	st := NewMemoryStore()
	require.NoError(t, st.Open())
	t.Cleanup(func() { st.Close() })
	return st
}

func TestKeyspacePutGetDelete(t *testing.T) {
	st := openMemory(t)
	ks, err := st.Keyspace("data")
	require.NoError(t, err)

	require.NoError(t, ks.Put([]byte("k1"), []byte("v1")))

	v, ok, err := ks.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	has, err := ks.Has([]byte("k1"))
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, ks.Delete([]byte("k1")))
	_, ok, err = ks.Get([]byte("k1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanOrderAndBounds(t *testing.T) {
	st := openMemory(t)
	ks, err := st.Keyspace("data")
	require.NoError(t, err)

	for _, k := range []string{"d", "b", "e", "a", "c"} {
		require.NoError(t, ks.Put([]byte(k), []byte(k)))
	}

	var keys []string
	for entry, err := range ks.Scan(nil, nil) {
		require.NoError(t, err)
		keys = append(keys, string(entry.Key))
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)

	keys = keys[:0]
	for entry, err := range ks.Scan([]byte("b"), []byte("d")) {
		require.NoError(t, err)
		keys = append(keys, string(entry.Key))
	}
	assert.Equal(t, []string{"b", "c"}, keys, "lower inclusive, upper exclusive")
}

func TestScanEarlyBreak(t *testing.T) {
	st := openMemory(t)
	ks, err := st.Keyspace("data")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, ks.Put([]byte(fmt.Sprintf("k%02d", i)), nil))
	}

	n := 0
	for _, err := range ks.Scan(nil, nil) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestCount(t *testing.T) {
	st := openMemory(t)
	ks, err := st.Keyspace("data")
	require.NoError(t, err)

	n, err := ks.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 0; i < 5; i++ {
		require.NoError(t, ks.Put([]byte(fmt.Sprintf("k%d", i)), nil))
	}
	n, err = ks.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestApplyBatchSpansKeyspaces(t *testing.T) {
	st := openMemory(t)
	a, err := st.Keyspace("a")
	require.NoError(t, err)
	b, err := st.Keyspace("b")
	require.NoError(t, err)
	require.NoError(t, a.Put([]byte("old"), []byte("x")))

	batch := NewBatch()
	batch.Put("a", []byte("k"), []byte("va"))
	batch.Delete("a", []byte("old"))
	batch.Put("b", []byte("k"), []byte("vb"))
	require.NoError(t, st.Apply(batch))

	v, ok, err := a.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("va"), v)

	_, ok, err = a.Get([]byte("old"))
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = b.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("vb"), v)
}

func TestApplyBatchDropKeyspace(t *testing.T) {
	st := openMemory(t)
	ks, err := st.Keyspace("gone")
	require.NoError(t, err)
	require.NoError(t, ks.Put([]byte("k"), []byte("v")))

	batch := NewBatch()
	batch.DropKeyspace("gone")
	require.NoError(t, st.Apply(batch))

	ks, err = st.Keyspace("gone")
	require.NoError(t, err)
	n, err := ks.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKeyspacesListing(t *testing.T) {
	st := openMemory(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := st.Keyspace(name)
		require.NoError(t, err)
	}
	names, err := st.Keyspaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	st := NewMemoryStore()
	require.NoError(t, st.Open())
	require.NoError(t, st.Close())

	_, err := st.Keyspace("x")
	assert.Error(t, err)
	assert.Error(t, st.Apply(NewBatch()))
}

func TestPrefixSuccessor(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x03}, PrefixSuccessor([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x02}, PrefixSuccessor([]byte{0x01, 0xFF}))
	assert.Nil(t, PrefixSuccessor([]byte{0xFF, 0xFF}), "all-0xFF prefix has no successor")
}

func TestKeySuccessor(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x02, 0x00}, KeySuccessor([]byte{0x01, 0x02}))
}
