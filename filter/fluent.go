package filter

import (
	"fmt"

	"github.com/quilldb/quill/document"
)

// FieldRef is the fluent entry point for building field comparisons:
//
//	filter.Field("name").Eq("John")
//	filter.Field("address.city").Gte("M")
type FieldRef struct {
	path string
}

// Field references a (possibly dotted) field path.
func Field(path string) FieldRef { return FieldRef{path: path} }

// Eq matches documents whose field equals v.
func (r FieldRef) Eq(v any) Filter { return r.cmp(OpEq, v) }

// Gt matches documents whose field is greater than v.
func (r FieldRef) Gt(v any) Filter { return r.cmp(OpGt, v) }

// Gte matches documents whose field is greater than or equal to v.
func (r FieldRef) Gte(v any) Filter { return r.cmp(OpGte, v) }

// Lt matches documents whose field is less than v.
func (r FieldRef) Lt(v any) Filter { return r.cmp(OpLt, v) }

// Lte matches documents whose field is less than or equal to v.
func (r FieldRef) Lte(v any) Filter { return r.cmp(OpLte, v) }

// Contains matches string fields containing the given substring.
func (r FieldRef) Contains(s string) Filter {
	return &FieldFilter{Path: r.path, Op: OpContains, Value: document.String(s)}
}

// Text matches string fields containing the given token, case-insensitively.
func (r FieldRef) Text(token string) Filter {
	return &FieldFilter{Path: r.path, Op: OpText, Value: document.String(token)}
}

// Between matches fields in the inclusive range [lo, hi].
func (r FieldRef) Between(lo, hi any) Filter {
	return And(r.cmp(OpGte, lo), r.cmp(OpLte, hi))
}

func (r FieldRef) cmp(op Op, v any) Filter {
	dv, err := document.FromNative(v)
	if err != nil {
		panic(fmt.Sprintf("filter: %v", err))
	}
	return &FieldFilter{Path: r.path, Op: op, Value: dv}
}

// And matches documents matching every child.
func And(children ...Filter) Filter { return &AndFilter{Children: children} }

// Or matches documents matching at least one child.
func Or(children ...Filter) Filter { return &OrFilter{Children: children} }

// Not inverts a filter.
func Not(child Filter) Filter { return &NotFilter{Child: child} }

// All matches every document.
func All() Filter { return allFilter{} }
