package document

import (
	"fmt"
	"iter"
	"strings"
)

// FieldSeparator separates path components when addressing nested fields.
const FieldSeparator = "."

type field struct {
	name  string
	value Value
}

// Document is a schema-flexible record: an insertion-ordered mapping from
// field names to values. Nested fields are addressed with dotted paths, e.g.
// "address.city".
//
// Document is not safe for concurrent mutation; the engine never mutates a
// committed document in place.
type Document struct {
	fields []field
	index  map[string]int
}

// New returns an empty document.
func New() *Document {
	return &Document{index: make(map[string]int)}
}

// FromPairs builds a document from alternating name/value pairs, converting
// native Go values with FromNative. It panics on malformed input; it is meant
// for literals in application and test code.
func FromPairs(pairs ...any) *Document {
	if len(pairs)%2 != 0 {
		panic("document: FromPairs requires an even number of arguments")
	}
	d := New()
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("document: FromPairs field name must be string, got %T", pairs[i]))
		}
		v, err := FromNative(pairs[i+1])
		if err != nil {
			panic(err)
		}
		if err := d.Put(name, v); err != nil {
			panic(err)
		}
	}
	return d
}

// Len returns the number of top-level fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// IsEmpty reports whether the document has no fields.
func (d *Document) IsEmpty() bool { return d.Len() == 0 }

// Put sets the value at path, creating intermediate nested documents as
// needed. An existing scalar in the middle of the path is an error.
func (d *Document) Put(path string, v Value) error {
	if path == "" {
		return fmt.Errorf("document: empty field path")
	}
	head, rest, nested := strings.Cut(path, FieldSeparator)
	if head == "" {
		return fmt.Errorf("document: invalid field path %q", path)
	}
	if !nested {
		d.putLocal(head, v)
		return nil
	}

	if i, ok := d.index[head]; ok {
		cur := d.fields[i].value
		if cur.Kind != KindDoc || cur.D == nil {
			return fmt.Errorf("document: field %q is not a nested document", head)
		}
		return cur.D.Put(rest, v)
	}
	child := New()
	if err := child.Put(rest, v); err != nil {
		return err
	}
	d.putLocal(head, Embed(child))
	return nil
}

// PutAny converts v with FromNative and sets it at path.
func (d *Document) PutAny(path string, v any) error {
	dv, err := FromNative(v)
	if err != nil {
		return err
	}
	return d.Put(path, dv)
}

func (d *Document) putLocal(name string, v Value) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[name]; ok {
		d.fields[i].value = v
		return
	}
	d.index[name] = len(d.fields)
	d.fields = append(d.fields, field{name: name, value: v})
}

// Get returns the value at path, descending into nested documents.
func (d *Document) Get(path string) (Value, bool) {
	if d == nil || path == "" {
		return Value{}, false
	}
	head, rest, nested := strings.Cut(path, FieldSeparator)
	i, ok := d.index[head]
	if !ok {
		return Value{}, false
	}
	v := d.fields[i].value
	if !nested {
		return v, true
	}
	if v.Kind != KindDoc {
		return Value{}, false
	}
	return v.D.Get(rest)
}

// Has reports whether a value exists at path.
func (d *Document) Has(path string) bool {
	_, ok := d.Get(path)
	return ok
}

// Remove deletes the value at path. Removing a missing path is a no-op.
func (d *Document) Remove(path string) {
	if d == nil || path == "" {
		return
	}
	head, rest, nested := strings.Cut(path, FieldSeparator)
	i, ok := d.index[head]
	if !ok {
		return
	}
	if nested {
		if v := d.fields[i].value; v.Kind == KindDoc {
			v.D.Remove(rest)
		}
		return
	}
	d.fields = append(d.fields[:i], d.fields[i+1:]...)
	delete(d.index, head)
	for j := i; j < len(d.fields); j++ {
		d.index[d.fields[j].name] = j
	}
}

// Fields returns the top-level field names in insertion order.
func (d *Document) Fields() []string {
	out := make([]string, len(d.fields))
	for i, f := range d.fields {
		out[i] = f.name
	}
	return out
}

// FlatFields returns all dotted leaf paths, depth-first in insertion order.
func (d *Document) FlatFields() []string {
	var out []string
	d.flatFields("", &out)
	return out
}

func (d *Document) flatFields(prefix string, out *[]string) {
	for _, f := range d.fields {
		name := f.name
		if prefix != "" {
			name = prefix + FieldSeparator + name
		}
		if f.value.Kind == KindDoc && f.value.D.Len() > 0 {
			f.value.D.flatFields(name, out)
			continue
		}
		*out = append(*out, name)
	}
}

// All iterates top-level fields in insertion order.
func (d *Document) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		if d == nil {
			return
		}
		for _, f := range d.fields {
			if !yield(f.name, f.value) {
				return
			}
		}
	}
}

// Merge copies every top-level field of other into d, overwriting on name
// collision. Nested documents merge recursively.
func (d *Document) Merge(other *Document) {
	if other == nil {
		return
	}
	for name, v := range other.All() {
		if i, ok := d.index[name]; ok {
			cur := d.fields[i].value
			if cur.Kind == KindDoc && v.Kind == KindDoc {
				cur.D.Merge(v.D)
				continue
			}
		}
		d.putLocal(name, v)
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{
		fields: make([]field, len(d.fields)),
		index:  make(map[string]int, len(d.index)),
	}
	for i, f := range d.fields {
		c.fields[i] = field{name: f.name, value: f.value.Clone()}
		c.index[f.name] = i
	}
	return c
}

// Equal reports deep equality of two documents, field order included.
func (d *Document) Equal(other *Document) bool {
	return compareDocs(d, other) == 0
}

// String renders the document for debugging.
func (d *Document) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", f.name, formatValue(f.value))
	}
	sb.WriteByte('}')
	return sb.String()
}

func formatValue(v Value) string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindInt:
		return fmt.Sprintf("%d", v.I64)
	case KindFloat:
		return fmt.Sprintf("%g", v.F64)
	case KindString:
		return fmt.Sprintf("%q", v.S)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Raw))
	case KindID:
		return v.Ref.String()
	case KindDoc:
		return v.D.String()
	case KindArray:
		parts := make([]string, len(v.A))
		for i, e := range v.A {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "invalid"
	}
}
