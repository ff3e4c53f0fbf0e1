package index

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/quilldb/quill/document"
)

// Type tags chosen so that encoded keys sort in the documented value order:
// null < bool < number < string < binary < reference.
const (
	tagNull   = 0x01
	tagBool   = 0x02
	tagNumber = 0x03
	tagString = 0x04
	tagBytes  = 0x05
	tagRef    = 0x06
)

// Variable-length payloads (strings, bytes) are escaped and terminated so
// that every field encoding is prefix-free: 0x00 inside the payload becomes
// 0x00 0xff, and the payload ends with 0x00 0x01. The terminator sorts below
// any escaped content, so "a" < "a\x00..." holds in encoded form too.
const (
	escByte  = 0x00
	escPad   = 0xff
	termByte = 0x01
)

// AppendValue appends the order-preserving encoding of v to dst.
//
// Ints and floats share one numeric keyspace (sign-flipped IEEE-754 bits), so
// int64 and float64 values compare numerically as index keys; integers beyond
// 2^53 collapse onto their nearest float64 in key order. Nested documents and
// arrays cannot be ordered into a key and yield ErrUnsupportedField.
func AppendValue(dst []byte, v document.Value) ([]byte, error) {
	switch v.Kind {
	case document.KindNull:
		return append(dst, tagNull), nil
	case document.KindBool:
		if v.B {
			return append(dst, tagBool, 1), nil
		}
		return append(dst, tagBool, 0), nil
	case document.KindInt, document.KindFloat:
		dst = append(dst, tagNumber)
		return appendSortableFloat(dst, v.AsFloat64()), nil
	case document.KindString:
		dst = append(dst, tagString)
		return appendEscaped(dst, []byte(v.S)), nil
	case document.KindBytes:
		dst = append(dst, tagBytes)
		return appendEscaped(dst, v.Raw), nil
	case document.KindID:
		dst = append(dst, tagRef)
		return append(dst, v.Ref.Bytes()...), nil
	case document.KindDoc, document.KindArray:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedField, v.Kind)
	default:
		return nil, fmt.Errorf("%w: invalid value", ErrUnsupportedField)
	}
}

// EncodeComposite encodes a sequence of field values into one composite key.
// Per-field encodings are prefix-free, so plain concatenation compares
// field-by-field in declared order with lexicographic tie-break.
func EncodeComposite(values ...document.Value) ([]byte, error) {
	var key []byte
	var err error
	for _, v := range values {
		key, err = AppendValue(key, v)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

func appendSortableFloat(dst []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], bits)
	return append(dst, b[:]...)
}

func appendEscaped(dst, payload []byte) []byte {
	for _, c := range payload {
		if c == escByte {
			dst = append(dst, escByte, escPad)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, escByte, termByte)
}
