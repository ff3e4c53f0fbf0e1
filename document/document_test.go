package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDottedPaths(t *testing.T) {
	d := New()
	require.NoError(t, d.Put("name", String("Ada")))
	require.NoError(t, d.Put("address.city", String("London")))
	require.NoError(t, d.Put("address.geo.lat", Float(51.5)))

	v, ok := d.Get("name")
	require.True(t, ok)
	assert.Equal(t, "Ada", v.S)

	v, ok = d.Get("address.city")
	require.True(t, ok)
	assert.Equal(t, "London", v.S)

	v, ok = d.Get("address.geo.lat")
	require.True(t, ok)
	assert.InDelta(t, 51.5, v.F64, 1e-9)

	_, ok = d.Get("address.zip")
	assert.False(t, ok)
	_, ok = d.Get("name.sub")
	assert.False(t, ok)
}

func TestFromPairsPreservesOrder(t *testing.T) {
	d := FromPairs("b", 1, "a", 2, "c", 3)
	assert.Equal(t, []string{"b", "a", "c"}, d.Fields())
}

func TestPutOverwriteKeepsPosition(t *testing.T) {
	d := FromPairs("a", 1, "b", 2)
	require.NoError(t, d.Put("a", Int(9)))
	assert.Equal(t, []string{"a", "b"}, d.Fields())
	v, _ := d.Get("a")
	assert.Equal(t, int64(9), v.I64)
}

func TestRemove(t *testing.T) {
	d := FromPairs("a", 1, "b", 2)
	require.NoError(t, d.Put("nested.x", Int(1)))
	d.Remove("a")
	d.Remove("nested.x")

	assert.False(t, d.Has("a"))
	assert.False(t, d.Has("nested.x"))
	assert.True(t, d.Has("b"))
}

func TestMergeOverwritesAndAppends(t *testing.T) {
	base := FromPairs("name", "Ada", "age", 36)
	patch := FromPairs("age", 37, "city", "London")
	base.Merge(patch)

	v, _ := base.Get("age")
	assert.Equal(t, int64(37), v.I64)
	v, _ = base.Get("city")
	assert.Equal(t, "London", v.S)
	v, _ = base.Get("name")
	assert.Equal(t, "Ada", v.S)
}

func TestCloneIsIndependent(t *testing.T) {
	d := FromPairs("n", 1)
	require.NoError(t, d.Put("sub.x", Int(1)))

	c := d.Clone()
	require.NoError(t, c.Put("n", Int(2)))
	require.NoError(t, c.Put("sub.x", Int(9)))

	v, _ := d.Get("n")
	assert.Equal(t, int64(1), v.I64)
	v, _ = d.Get("sub.x")
	assert.Equal(t, int64(1), v.I64)
}

func TestCompareTotalOrder(t *testing.T) {
	// null < bool < number < string < bytes < id < doc < array
	ordered := []Value{
		Null(),
		Bool(false),
		Bool(true),
		Int(-5),
		Float(0.5),
		Int(3),
		String("a"),
		String("b"),
		Bytes([]byte{0x01}),
		Ref(ID(42)),
		Embed(FromPairs("x", 1)),
		Array(Int(1)),
	}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Negative(t, Compare(ordered[i], ordered[i+1]),
			"expected %v < %v", ordered[i], ordered[i+1])
	}
}

func TestCompareMixedNumbers(t *testing.T) {
	assert.Zero(t, Compare(Int(3), Float(3.0)))
	assert.Positive(t, Compare(Float(3.5), Int(3)))
	assert.Negative(t, Compare(Int(-1), Float(-0.5)))
}

func TestFromNative(t *testing.T) {
	v, err := FromNative([]any{1, "two", true})
	require.NoError(t, err)
	require.Equal(t, KindArray, v.Kind)
	require.Len(t, v.A, 3)
	assert.Equal(t, KindInt, v.A[0].Kind)
	assert.Equal(t, KindString, v.A[1].Kind)

	_, err = FromNative(struct{}{})
	assert.Error(t, err)
}

func TestIDGeneratorMonotonic(t *testing.T) {
	g := NewIDGenerator(1)
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		next := g.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestIDBytesRoundTrip(t *testing.T) {
	g := NewIDGenerator(7)
	id := g.Next()

	back, err := IDFromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, back)

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = IDFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestIDBytesOrderMatchesNumericOrder(t *testing.T) {
	g := NewIDGenerator(0)
	a := g.Next()
	b := g.Next()
	assert.Less(t, string(a.Bytes()), string(b.Bytes()))
}
