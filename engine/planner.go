package engine

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/filter"
	"github.com/quilldb/quill/index"
	"github.com/quilldb/quill/store"
)

// The planner turns a filter into a candidate id list. It picks the index
// covering the longest equality prefix of the filter's field comparisons,
// optionally extended by one trailing range bound, and falls back to a full
// collection scan when no index applies. Candidates are a superset of the
// result: the full filter is re-applied to every candidate document, so
// planning never changes which documents match, only how many are fetched.
//
// Every probe records its key range in the transaction's read set; a full
// scan records the whole collection. Commit validation turns concurrent
// writes inside those ranges into conflicts.

// findTx plans f, overlays the transaction's staged documents and returns a
// lazy cursor over the matches.
func (c *Collection) findTx(tx *Tx, f filter.Filter, opts *FindOptions) (*Cursor, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if f == nil {
		f = filter.All()
	}

	ids, err := c.planCandidates(tx, f)
	if err != nil {
		return nil, err
	}

	// Documents this transaction staged join the candidate set; tombstoned
	// and non-matching ones fall out during the fetch below.
	if w, ok := tx.writes[c.name]; ok {
		seen := roaring64.New()
		for _, id := range ids {
			seen.Add(uint64(id))
		}
		for _, id := range w.docOrder {
			if seen.CheckedAdd(uint64(id)) {
				ids = append(ids, id)
			}
		}
	}

	return newCursor(tx, c, f, ids, opts), nil
}

// planCandidates produces committed candidate ids for f, deduplicated in
// first-seen order.
func (c *Collection) planCandidates(tx *Tx, f filter.Filter) ([]document.ID, error) {
	ids, planned, err := c.planFilter(tx, f)
	if err != nil {
		return nil, err
	}
	if planned {
		seen := roaring64.New()
		out := ids[:0]
		for _, id := range ids {
			if seen.CheckedAdd(uint64(id)) {
				out = append(out, id)
			}
		}
		return out, nil
	}

	// Full scan over the document keyspace, in primary key order.
	tx.recordRange(c.name, docScanIndexID, nil, nil)
	var out []document.ID
	for entry, err := range c.docs.Scan(nil, nil) {
		if err != nil {
			return nil, tx.fail(err)
		}
		id, err := document.IDFromBytes(entry.Key)
		if err != nil {
			return nil, fmt.Errorf("malformed document key in %q: %w", c.name, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// planFilter attempts an index-backed plan for f. The boolean result
// reports whether one was found; false means the caller must scan.
func (c *Collection) planFilter(tx *Tx, f filter.Filter) ([]document.ID, bool, error) {
	switch ft := f.(type) {
	case *filter.FieldFilter:
		return c.planConjuncts(tx, []*filter.FieldFilter{ft})
	case *filter.AndFilter:
		return c.planConjuncts(tx, flattenConjuncts(ft))
	case *filter.OrFilter:
		// An Or is index-backed only when every branch is; one unplannable
		// branch would force a scan anyway.
		var union []document.ID
		for _, child := range ft.Children {
			ids, planned, err := c.planFilter(tx, child)
			if err != nil || !planned {
				return nil, false, err
			}
			union = append(union, ids...)
		}
		return union, true, nil
	default:
		return nil, false, nil
	}
}

// flattenConjuncts collects the field comparisons of an And tree. Children
// that are not field comparisons stay residual predicates.
func flattenConjuncts(f *filter.AndFilter) []*filter.FieldFilter {
	var out []*filter.FieldFilter
	for _, child := range f.Children {
		switch ct := child.(type) {
		case *filter.FieldFilter:
			out = append(out, ct)
		case *filter.AndFilter:
			out = append(out, flattenConjuncts(ct)...)
		}
	}
	return out
}

// bound is one open or closed range endpoint on the field after the
// equality prefix.
type bound struct {
	value     document.Value
	inclusive bool
}

// probePlan is an index probe candidate: the values for the equality prefix
// plus at most one trailing range.
type probePlan struct {
	inst   *indexInstance
	eqVals []document.Value
	lo, hi *bound
	score  int
}

// planConjuncts picks the best index probe for a conjunct list, trying the
// full-text path when no ordered index applies.
func (c *Collection) planConjuncts(tx *Tx, conjuncts []*filter.FieldFilter) ([]document.ID, bool, error) {
	if len(conjuncts) == 0 {
		return nil, false, nil
	}

	var best *probePlan
	for _, inst := range c.indexSnapshot() {
		if inst.indexer.Kind() == index.FullText {
			continue
		}
		if p := matchIndex(inst, conjuncts); p != nil && (best == nil || p.score > best.score) {
			best = p
		}
	}
	if best != nil {
		ids, err := c.executeProbe(tx, best)
		if err != nil {
			if errors.Is(err, index.ErrUnsupportedField) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return ids, true, nil
	}

	for _, cj := range conjuncts {
		if cj.Op != filter.OpText {
			continue
		}
		if ids, ok, err := c.planTextProbe(tx, cj); err != nil || ok {
			return ids, ok, err
		}
	}
	return nil, false, nil
}

// matchIndex matches conjuncts against one index: equality comparisons must
// cover a prefix of the index fields, and the field right after the prefix
// may contribute range bounds.
func matchIndex(inst *indexInstance, conjuncts []*filter.FieldFilter) *probePlan {
	byPath := make(map[string][]*filter.FieldFilter)
	for _, cj := range conjuncts {
		byPath[cj.Path] = append(byPath[cj.Path], cj)
	}

	p := &probePlan{inst: inst}
	for _, field := range inst.desc.Fields {
		var eq *filter.FieldFilter
		for _, cj := range byPath[field] {
			if cj.Op == filter.OpEq {
				eq = cj
				break
			}
		}
		if eq != nil {
			p.eqVals = append(p.eqVals, eq.Value)
			p.score += 2
			continue
		}
		for _, cj := range byPath[field] {
			switch cj.Op {
			case filter.OpGt:
				p.lo = tighterLo(p.lo, &bound{value: cj.Value})
			case filter.OpGte:
				p.lo = tighterLo(p.lo, &bound{value: cj.Value, inclusive: true})
			case filter.OpLt:
				p.hi = tighterHi(p.hi, &bound{value: cj.Value})
			case filter.OpLte:
				p.hi = tighterHi(p.hi, &bound{value: cj.Value, inclusive: true})
			}
		}
		if p.lo != nil || p.hi != nil {
			p.score++
		}
		break
	}
	if p.score == 0 {
		return nil
	}
	return p
}

func tighterLo(cur, cand *bound) *bound {
	if cur == nil {
		return cand
	}
	c := document.Compare(cand.value, cur.value)
	if c > 0 || (c == 0 && !cand.inclusive) {
		return cand
	}
	return cur
}

func tighterHi(cur, cand *bound) *bound {
	if cur == nil {
		return cand
	}
	c := document.Compare(cand.value, cur.value)
	if c < 0 || (c == 0 && !cand.inclusive) {
		return cand
	}
	return cur
}

// executeProbe runs a probe plan against the index through the
// transaction's overlay view and records the probed range.
func (c *Collection) executeProbe(tx *Tx, p *probePlan) ([]document.ID, error) {
	prefix := []byte{}
	var err error
	for _, v := range p.eqVals {
		if prefix, err = index.AppendValue(prefix, v); err != nil {
			return nil, err
		}
	}

	reader := c.txReader(tx, p.inst)

	// Full equality across all index fields probes a single key.
	if len(p.eqVals) == len(p.inst.desc.Fields) {
		tx.recordRange(c.name, p.inst.desc.ID(), prefix, store.KeySuccessor(prefix))
		ids, err := p.inst.indexer.ProbeEqual(reader, prefix)
		if err != nil {
			return nil, tx.fail(err)
		}
		return ids, nil
	}

	lower := prefix
	if p.lo != nil {
		enc, err := index.AppendValue(append([]byte{}, prefix...), p.lo.value)
		if err != nil {
			return nil, err
		}
		if p.lo.inclusive {
			lower = enc
		} else {
			lower = store.PrefixSuccessor(enc)
		}
	}
	upper := store.PrefixSuccessor(prefix)
	if p.hi != nil {
		enc, err := index.AppendValue(append([]byte{}, prefix...), p.hi.value)
		if err != nil {
			return nil, err
		}
		if p.hi.inclusive {
			upper = store.PrefixSuccessor(enc)
		} else {
			upper = enc
		}
	}
	if len(lower) == 0 {
		lower = nil
	}

	tx.recordRange(c.name, p.inst.desc.ID(), lower, upper)
	ids, err := p.inst.indexer.ProbeRange(reader, lower, upper)
	if err != nil {
		return nil, tx.fail(err)
	}
	return ids, nil
}

// planTextProbe serves a token comparison from a full-text index on the same
// single field, when one exists.
func (c *Collection) planTextProbe(tx *Tx, cj *filter.FieldFilter) ([]document.ID, bool, error) {
	var inst *indexInstance
	for _, cand := range c.indexSnapshot() {
		if cand.indexer.Kind() == index.FullText &&
			len(cand.desc.Fields) == 1 && cand.desc.Fields[0] == cj.Path {
			inst = cand
			break
		}
	}
	if inst == nil {
		return nil, false, nil
	}

	tokens := filter.Tokenize(cj.Value.S)
	if len(tokens) == 0 {
		return nil, true, nil
	}

	reader := c.txReader(tx, inst)
	var result []document.ID
	for i, token := range tokens {
		key, err := index.TokenKey(token)
		if err != nil {
			return nil, false, err
		}
		tx.recordRange(c.name, inst.desc.ID(), key, store.KeySuccessor(key))
		ids, err := inst.indexer.ProbeEqual(reader, key)
		if err != nil {
			return nil, false, tx.fail(err)
		}
		if i == 0 {
			result = ids
		} else {
			result = intersectIDs(result, ids)
		}
		if len(result) == 0 {
			return nil, true, nil
		}
	}
	return result, true, nil
}

func intersectIDs(a, b []document.ID) []document.ID {
	in := make(map[document.ID]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	out := a[:0:0]
	for _, id := range a {
		if _, ok := in[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// txReader builds the overlay entry reader for an index, merging the
// transaction's staged deltas over committed entries.
func (c *Collection) txReader(tx *Tx, inst *indexInstance) index.EntryReader {
	var deltas []indexDelta
	if w, ok := tx.writes[c.name]; ok {
		deltas = w.deltas
	}
	return &txEntryReader{ks: inst.ks, deltas: deltas, indexID: inst.desc.ID()}
}
