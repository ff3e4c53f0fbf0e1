package filter

import (
	"fmt"
	"strings"

	"github.com/quilldb/quill/document"
)

// Filter is a predicate over documents.
type Filter interface {
	// Apply reports whether the document matches.
	Apply(d *document.Document) bool
	// String renders the filter for debugging and log output.
	String() string
}

// Op identifies a field comparison operator.
type Op uint8

const (
	// OpEq matches values equal to the operand.
	OpEq Op = iota
	// OpGt matches values greater than the operand.
	OpGt
	// OpGte matches values greater than or equal to the operand.
	OpGte
	// OpLt matches values less than the operand.
	OpLt
	// OpLte matches values less than or equal to the operand.
	OpLte
	// OpContains matches string values containing the operand substring.
	OpContains
	// OpText matches string values containing the operand as a whole token,
	// case-insensitively.
	OpText
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	case OpContains:
		return "contains"
	case OpText:
		return "text"
	default:
		return "unknown"
	}
}

// FieldFilter compares the value at a field path against an operand.
type FieldFilter struct {
	Path  string
	Op    Op
	Value document.Value
}

// Apply implements Filter.
func (f *FieldFilter) Apply(d *document.Document) bool {
	v, ok := d.Get(f.Path)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return document.Equal(v, f.Value)
	case OpGt, OpGte, OpLt, OpLte:
		if !comparable(v, f.Value) {
			return false
		}
		c := document.Compare(v, f.Value)
		switch f.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case OpContains:
		return v.Kind == document.KindString && strings.Contains(v.S, f.Value.S)
	case OpText:
		return v.Kind == document.KindString && tokenMatch(v.S, f.Value.S)
	default:
		return false
	}
}

func (f *FieldFilter) String() string {
	return fmt.Sprintf("%s %s %s", f.Path, f.Op, formatOperand(f.Value))
}

// comparable restricts ordering comparisons to values of the same rank, so a
// string never orders against a number just because ranks are totally ordered.
func comparable(a, b document.Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return true
	}
	return a.Kind == b.Kind
}

func tokenMatch(s, token string) bool {
	for _, t := range Tokenize(s) {
		if t == token {
			return true
		}
	}
	return false
}

// Tokenize splits s into lower-cased alphanumeric tokens. It is shared with
// the full-text indexer so that filter evaluation and index probes agree.
func Tokenize(s string) []string {
	var out []string
	var sb strings.Builder
	flush := func() {
		if sb.Len() > 0 {
			out = append(out, sb.String())
			sb.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			sb.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}

func formatOperand(v document.Value) string {
	switch v.Kind {
	case document.KindString:
		return fmt.Sprintf("%q", v.S)
	case document.KindInt:
		return fmt.Sprintf("%d", v.I64)
	case document.KindFloat:
		return fmt.Sprintf("%g", v.F64)
	case document.KindBool:
		return fmt.Sprintf("%t", v.B)
	case document.KindNull:
		return "null"
	default:
		return v.Kind.String()
	}
}

// AndFilter matches documents matching every child filter.
type AndFilter struct {
	Children []Filter
}

// Apply implements Filter with per-document short-circuit evaluation.
func (f *AndFilter) Apply(d *document.Document) bool {
	for _, c := range f.Children {
		if !c.Apply(d) {
			return false
		}
	}
	return true
}

func (f *AndFilter) String() string { return combineString("and", f.Children) }

// OrFilter matches documents matching at least one child filter.
type OrFilter struct {
	Children []Filter
}

// Apply implements Filter.
func (f *OrFilter) Apply(d *document.Document) bool {
	for _, c := range f.Children {
		if c.Apply(d) {
			return true
		}
	}
	return false
}

func (f *OrFilter) String() string { return combineString("or", f.Children) }

// NotFilter inverts its child filter. It is always evaluated as a residual
// predicate, never turned into an index probe.
type NotFilter struct {
	Child Filter
}

// Apply implements Filter.
func (f *NotFilter) Apply(d *document.Document) bool { return !f.Child.Apply(d) }

func (f *NotFilter) String() string { return fmt.Sprintf("not(%s)", f.Child) }

type allFilter struct{}

func (allFilter) Apply(*document.Document) bool { return true }
func (allFilter) String() string                { return "all" }

func combineString(op string, children []Filter) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}
