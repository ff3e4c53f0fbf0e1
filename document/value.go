package document

import (
	"bytes"
	"fmt"
	"math"
	"strings"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindNull represents a null value.
	KindNull
	// KindBool represents a boolean value.
	KindBool
	// KindInt represents a 64-bit integer value.
	KindInt
	// KindFloat represents a 64-bit float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBytes represents a binary value.
	KindBytes
	// KindID represents a document reference.
	KindID
	// KindDoc represents a nested document.
	KindDoc
	// KindArray represents an array value.
	KindArray
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindID:
		return "id"
	case KindDoc:
		return "doc"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// Value is a small typed value used for documents and filters.
//
// The representation avoids reflection and fmt-based stringification so that
// filter evaluation and key derivation stay cheap and predictable.
type Value struct {
	Kind Kind
	B    bool
	I64  int64
	F64  float64
	S    string
	Raw  []byte
	Ref  ID
	D    *Document
	A    []Value
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, B: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{Kind: KindInt, I64: i} }

// Float returns a float value.
func Float(f float64) Value { return Value{Kind: KindFloat, F64: f} }

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, S: s} }

// Bytes returns a binary value. The slice is not copied.
func Bytes(b []byte) Value { return Value{Kind: KindBytes, Raw: b} }

// Ref returns a document-reference value.
func Ref(id ID) Value { return Value{Kind: KindID, Ref: id} }

// Embed returns a nested-document value.
func Embed(d *Document) Value { return Value{Kind: KindDoc, D: d} }

// Array returns an array value. The slice is not copied.
func Array(vs ...Value) Value { return Value{Kind: KindArray, A: vs} }

// FromNative converts a native Go value into a Value.
//
// Supported inputs: nil, bool, all integer widths, float32/64, string,
// []byte, ID, *Document, []any and []Value.
func FromNative(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Int(int64(x)), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case ID:
		return Ref(x), nil
	case *Document:
		return Embed(x), nil
	case []Value:
		return Array(x...), nil
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			ev, err := FromNative(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = ev
		}
		return Array(out...), nil
	default:
		return Value{}, fmt.Errorf("document: unsupported native type %T", v)
	}
}

// IsNumber reports whether the value is an int or a float.
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// AsFloat64 returns the numeric value widened to float64, or 0 for
// non-numeric kinds.
func (v Value) AsFloat64() float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.I64)
	case KindFloat:
		return v.F64
	default:
		return 0
	}
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindBytes:
		c := v
		c.Raw = append([]byte(nil), v.Raw...)
		return c
	case KindDoc:
		c := v
		c.D = v.D.Clone()
		return c
	case KindArray:
		c := v
		c.A = make([]Value, len(v.A))
		for i := range v.A {
			c.A[i] = v.A[i].Clone()
		}
		return c
	default:
		return v
	}
}

// kindRank places kinds into the documented total order:
// null < bool < number < string < bytes < reference < doc < array.
func kindRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	case KindString:
		return 3
	case KindBytes:
		return 4
	case KindID:
		return 5
	case KindDoc:
		return 6
	case KindArray:
		return 7
	default:
		return -1
	}
}

// Compare imposes a total order over values.
//
// Values of different kinds order by kind rank, except that ints and floats
// share one numeric rank and compare numerically.
func Compare(a, b Value) int {
	ra, rb := kindRank(a.Kind), kindRank(b.Kind)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch {
	case a.Kind == KindNull:
		return 0
	case a.Kind == KindBool:
		if a.B == b.B {
			return 0
		}
		if !a.B {
			return -1
		}
		return 1
	case a.IsNumber():
		return compareNumbers(a, b)
	case a.Kind == KindString:
		return strings.Compare(a.S, b.S)
	case a.Kind == KindBytes:
		return bytes.Compare(a.Raw, b.Raw)
	case a.Kind == KindID:
		switch {
		case a.Ref < b.Ref:
			return -1
		case a.Ref > b.Ref:
			return 1
		default:
			return 0
		}
	case a.Kind == KindDoc:
		return compareDocs(a.D, b.D)
	case a.Kind == KindArray:
		return compareArrays(a.A, b.A)
	default:
		return 0
	}
}

func compareNumbers(a, b Value) int {
	if a.Kind == KindInt && b.Kind == KindInt {
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		default:
			return 0
		}
	}
	af, bf := a.AsFloat64(), b.AsFloat64()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	case math.IsNaN(af) && !math.IsNaN(bf):
		return -1
	case !math.IsNaN(af) && math.IsNaN(bf):
		return 1
	default:
		return 0
	}
}

func compareArrays(a, b []Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareDocs(a, b *Document) int {
	if a == nil || b == nil {
		switch {
		case a == b:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	n := min(a.Len(), b.Len())
	for i := 0; i < n; i++ {
		if c := strings.Compare(a.fields[i].name, b.fields[i].name); c != 0 {
			return c
		}
		if c := Compare(a.fields[i].value, b.fields[i].value); c != 0 {
			return c
		}
	}
	switch {
	case a.Len() < b.Len():
		return -1
	case a.Len() > b.Len():
		return 1
	default:
		return 0
	}
}

// Equal reports whether two values are equal under Compare semantics.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }
