package engine

import (
	"fmt"
	"iter"
	"sort"

	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/filter"
)

// FindOptions shapes a find result: an optional sort field plus pagination.
type FindOptions struct {
	// SortBy orders results by the value at this field path; documents
	// missing the field sort first. Empty keeps candidate order.
	SortBy string
	// Desc reverses the sort order.
	Desc bool
	// Skip drops the first n results.
	Skip int
	// Limit caps the result count; zero means unlimited.
	Limit int
}

// Match is one find result.
type Match struct {
	ID  document.ID
	Doc *document.Document
}

// Cursor is a lazy, single-pass view over find results. Candidate documents
// are fetched and filtered during iteration, not up front. A cursor must be
// fully consumed or closed; until then it holds its read snapshot open.
type Cursor struct {
	tx   *Tx
	col  *Collection
	f    filter.Filter
	ids  []document.ID
	opts *FindOptions

	used   bool
	onDone func()
}

func newCursor(tx *Tx, col *Collection, f filter.Filter, ids []document.ID, opts *FindOptions) *Cursor {
	return &Cursor{tx: tx, col: col, f: f, ids: ids, opts: opts}
}

// Close releases the cursor's snapshot. Closing twice is a no-op.
func (c *Cursor) Close() {
	if c.onDone != nil {
		done := c.onDone
		c.onDone = nil
		done()
	}
}

// All iterates the matches. The cursor closes itself when iteration ends, by
// exhaustion or early break. A cursor iterates once; a second All yields
// only an error.
func (c *Cursor) All() iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		if c.used {
			yield(Match{}, fmt.Errorf("%w: cursor already consumed", ErrInvalidState))
			return
		}
		c.used = true
		defer c.Close()

		if c.opts != nil && c.opts.SortBy != "" {
			c.iterateSorted(yield)
			return
		}
		c.iterate(yield)
	}
}

// iterate streams matches in candidate order, applying skip and limit as it
// goes.
func (c *Cursor) iterate(yield func(Match, error) bool) {
	skip, limit := c.pagination()
	emitted := 0
	for _, id := range c.ids {
		m, ok, err := c.resolve(id)
		if err != nil {
			yield(Match{}, err)
			return
		}
		if !ok {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		if !yield(m, nil) {
			return
		}
		emitted++
		if limit > 0 && emitted == limit {
			return
		}
	}
}

// iterateSorted materializes all matches, orders them by the sort field and
// then pages through the ordered slice.
func (c *Cursor) iterateSorted(yield func(Match, error) bool) {
	var matches []Match
	for _, id := range c.ids {
		m, ok, err := c.resolve(id)
		if err != nil {
			yield(Match{}, err)
			return
		}
		if ok {
			matches = append(matches, m)
		}
	}

	field := c.opts.SortBy
	sort.SliceStable(matches, func(i, j int) bool {
		vi, _ := matches[i].Doc.Get(field)
		vj, _ := matches[j].Doc.Get(field)
		cmp := document.Compare(vi, vj)
		if c.opts.Desc {
			return cmp > 0
		}
		return cmp < 0
	})

	skip, limit := c.pagination()
	if skip >= len(matches) {
		return
	}
	matches = matches[skip:]
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	for _, m := range matches {
		if !yield(m, nil) {
			return
		}
	}
}

// resolve fetches one candidate through the transaction's view and applies
// the filter.
func (c *Cursor) resolve(id document.ID) (Match, bool, error) {
	rec, ok, err := c.tx.visibleDoc(c.col, id)
	if err != nil {
		return Match{}, false, err
	}
	if !ok || !c.f.Apply(rec.Doc) {
		return Match{}, false, nil
	}
	return Match{ID: rec.ID, Doc: rec.Doc}, true, nil
}

func (c *Cursor) pagination() (skip, limit int) {
	if c.opts == nil {
		return 0, 0
	}
	return c.opts.Skip, c.opts.Limit
}

// First returns the first match, consuming the cursor. It returns
// ErrNotFound when nothing matches.
func (c *Cursor) First() (Match, error) {
	for m, err := range c.All() {
		return m, err
	}
	return Match{}, fmt.Errorf("%w: no matching document", ErrNotFound)
}

// ToSlice drains the cursor into a slice.
func (c *Cursor) ToSlice() ([]Match, error) {
	var out []Match
	for m, err := range c.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Count drains the cursor and returns the number of matches.
func (c *Cursor) Count() (int, error) {
	n := 0
	for _, err := range c.All() {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
