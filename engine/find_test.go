package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/filter"
	"github.com/quilldb/quill/index"
)

// seedPeople inserts a deterministic data set into two collections, one
// indexed and one not, so tests can compare planned and scanned results.
func seedPeople(t *testing.T, eng *Engine, n int) (indexed, plain *Collection) {
	t.Helper()
	indexed = mustCollection(t, eng, "indexed")
	require.NoError(t, indexed.CreateIndex([]string{"city"}, index.NonUnique))
	require.NoError(t, indexed.CreateIndex([]string{"age"}, index.NonUnique))
	plain = mustCollection(t, eng, "plain")

	cities := []string{"London", "Oslo", "Austin", "Zurich"}
	for i := 0; i < n; i++ {
		doc := document.FromPairs(
			"name", fmt.Sprintf("p%04d", i),
			"city", cities[i%len(cities)],
			"age", 20+i%50,
		)
		mustInsert(t, indexed, doc.Clone())
		mustInsert(t, plain, doc)
	}
	return indexed, plain
}

func findNames(t *testing.T, col *Collection, f filter.Filter, opts ...*FindOptions) []string {
	t.Helper()
	cur, err := col.Find(f, opts...)
	require.NoError(t, err)
	var names []string
	for m, err := range cur.All() {
		require.NoError(t, err)
		v, _ := m.Doc.Get("name")
		names = append(names, v.S)
	}
	return names
}

func TestFindIndexedMatchesFullScan(t *testing.T) {
	eng := newTestEngine(t)
	indexed, plain := seedPeople(t, eng, 1000)

	filters := []filter.Filter{
		filter.Field("city").Eq("Oslo"),
		filter.Field("age").Gt(60),
		filter.Field("age").Between(25, 30),
		filter.And(filter.Field("city").Eq("London"), filter.Field("age").Lt(30)),
		filter.Or(filter.Field("city").Eq("Austin"), filter.Field("city").Eq("Zurich")),
		filter.Not(filter.Field("city").Eq("London")),
	}
	for _, f := range filters {
		want := findNames(t, plain, f)
		got := findNames(t, indexed, f)
		assert.ElementsMatch(t, want, got, "filter %s", f)
	}
}

func TestFindAll(t *testing.T) {
	eng := newTestEngine(t)
	indexed, _ := seedPeople(t, eng, 10)

	assert.Len(t, findNames(t, indexed, filter.All()), 10)
	assert.Len(t, findNames(t, indexed, nil), 10, "nil filter matches everything")
}

func TestFindNoMatches(t *testing.T) {
	eng := newTestEngine(t)
	indexed, _ := seedPeople(t, eng, 10)

	assert.Empty(t, findNames(t, indexed, filter.Field("city").Eq("Atlantis")))
}

func TestFindCompoundIndexPrefix(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	require.NoError(t, col.CreateIndex([]string{"city", "age"}, index.NonUnique))

	for i := 0; i < 20; i++ {
		city := "A"
		if i%2 == 0 {
			city = "B"
		}
		mustInsert(t, col, document.FromPairs("city", city, "age", i))
	}

	// Equality on the first field plus a range on the second.
	cur, err := col.Find(filter.And(
		filter.Field("city").Eq("B"),
		filter.Field("age").Lt(10),
	))
	require.NoError(t, err)
	n, err := cur.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Equality on the prefix alone also uses the index.
	cur, err = col.Find(filter.Field("city").Eq("A"))
	require.NoError(t, err)
	n, err = cur.Count()
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestFindTextIndex(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "articles")
	require.NoError(t, col.CreateIndex([]string{"body"}, index.FullText))

	mustInsert(t, col, document.FromPairs("name", "a", "body", "The quick brown fox"))
	mustInsert(t, col, document.FromPairs("name", "b", "body", "Quick thinking saves time"))
	mustInsert(t, col, document.FromPairs("name", "c", "body", "Slow and steady"))

	assert.ElementsMatch(t, []string{"a", "b"},
		findNames(t, col, filter.Field("body").Text("quick")))
	assert.Empty(t, findNames(t, col, filter.Field("body").Text("qui")),
		"text matches whole tokens only")
}

func TestFindContainsIsResidual(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "articles")
	mustInsert(t, col, document.FromPairs("name", "a", "body", "hello world"))
	mustInsert(t, col, document.FromPairs("name", "b", "body", "goodbye"))

	assert.Equal(t, []string{"a"}, findNames(t, col, filter.Field("body").Contains("lo wor")))
}

func TestFindSort(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	for _, age := range []int{40, 20, 30} {
		mustInsert(t, col, document.FromPairs("name", fmt.Sprintf("a%d", age), "age", age))
	}

	names := findNames(t, col, filter.All(), &FindOptions{SortBy: "age"})
	assert.Equal(t, []string{"a20", "a30", "a40"}, names)

	names = findNames(t, col, filter.All(), &FindOptions{SortBy: "age", Desc: true})
	assert.Equal(t, []string{"a40", "a30", "a20"}, names)
}

func TestFindSortMissingFieldFirst(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	mustInsert(t, col, document.FromPairs("name", "with", "rank", 1))
	mustInsert(t, col, document.FromPairs("name", "without"))

	names := findNames(t, col, filter.All(), &FindOptions{SortBy: "rank"})
	assert.Equal(t, []string{"without", "with"}, names)
}

func TestFindSkipLimit(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	for i := 0; i < 10; i++ {
		mustInsert(t, col, document.FromPairs("name", fmt.Sprintf("p%d", i), "n", i))
	}

	names := findNames(t, col, filter.All(), &FindOptions{SortBy: "n", Skip: 2, Limit: 3})
	assert.Equal(t, []string{"p2", "p3", "p4"}, names)

	names = findNames(t, col, filter.All(), &FindOptions{Skip: 8, Limit: 5})
	assert.Len(t, names, 2, "limit past the end is truncated")

	names = findNames(t, col, filter.All(), &FindOptions{Skip: 50})
	assert.Empty(t, names)
}

func TestFindFirst(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	mustInsert(t, col, document.FromPairs("n", 1))

	cur, err := col.Find(filter.Field("n").Eq(1))
	require.NoError(t, err)
	m, err := cur.First()
	require.NoError(t, err)
	assert.NotNil(t, m.Doc)

	cur, err = col.Find(filter.Field("n").Eq(2))
	require.NoError(t, err)
	_, err = cur.First()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCursorSingleUse(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "people")
	mustInsert(t, col, document.FromPairs("n", 1))

	cur, err := col.Find(filter.All())
	require.NoError(t, err)
	_, err = cur.Count()
	require.NoError(t, err)

	for _, err := range cur.All() {
		assert.ErrorIs(t, err, ErrInvalidState)
	}
}

func TestFindOnNumericBoundaries(t *testing.T) {
	eng := newTestEngine(t)
	col := mustCollection(t, eng, "data")
	require.NoError(t, col.CreateIndex([]string{"v"}, index.NonUnique))

	values := []any{-10.5, -1, 0, 0.5, 1, 100}
	for _, v := range values {
		mustInsert(t, col, document.FromPairs("v", v, "name", fmt.Sprint(v)))
	}

	assert.ElementsMatch(t, []string{"-10.5", "-1"},
		findNames(t, col, filter.Field("v").Lt(0)))
	assert.ElementsMatch(t, []string{"0", "0.5", "1", "100"},
		findNames(t, col, filter.Field("v").Gte(0)))
	assert.ElementsMatch(t, []string{"0.5"},
		findNames(t, col, filter.Field("v").Between(0.1, 0.9)))
	assert.ElementsMatch(t, []string{"-1"},
		findNames(t, col, filter.Field("v").Eq(-1)))
}
