package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/quilldb/quill/document"
)

// JSON encodes records as type-tagged JSON. Plain JSON cannot distinguish
// int from float or bytes from string, so every value carries its kind tag;
// the result is portable and diffable at the cost of size. BSON remains the
// default.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return "json" }

type jsonValue struct {
	K uint8        `json:"k"`
	B *bool        `json:"b,omitempty"`
	I *int64       `json:"i,omitempty"`
	F *float64     `json:"f,omitempty"`
	S *string      `json:"s,omitempty"`
	R *string      `json:"r,omitempty"` // base64 binary
	P *int64       `json:"p,omitempty"` // document reference
	D []jsonField  `json:"d,omitempty"`
	A []*jsonValue `json:"a,omitempty"`
}

type jsonField struct {
	N string     `json:"n"`
	V *jsonValue `json:"v"`
}

type jsonRecord struct {
	ID       int64       `json:"id"`
	Revision uint64      `json:"rev"`
	Doc      []jsonField `json:"doc"`
}

// MarshalRecord implements Codec.
func (JSON) MarshalRecord(r *Record) ([]byte, error) {
	doc, err := docToJSON(r.Doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonRecord{ID: r.ID.Int64(), Revision: r.Revision, Doc: doc})
}

// UnmarshalRecord implements Codec.
func (JSON) UnmarshalRecord(data []byte) (*Record, error) {
	var env jsonRecord
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("codec: json record: %w", err)
	}
	doc, err := jsonToDoc(env.Doc)
	if err != nil {
		return nil, err
	}
	return &Record{ID: document.ID(env.ID), Revision: env.Revision, Doc: doc}, nil
}

// Marshal implements Codec.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func docToJSON(d *document.Document) ([]jsonField, error) {
	out := make([]jsonField, 0, d.Len())
	for name, v := range d.All() {
		jv, err := valueToJSON(v)
		if err != nil {
			return nil, fmt.Errorf("codec: field %q: %w", name, err)
		}
		out = append(out, jsonField{N: name, V: jv})
	}
	return out, nil
}

func valueToJSON(v document.Value) (*jsonValue, error) {
	jv := &jsonValue{K: uint8(v.Kind)}
	switch v.Kind {
	case document.KindNull:
	case document.KindBool:
		jv.B = &v.B
	case document.KindInt:
		jv.I = &v.I64
	case document.KindFloat:
		jv.F = &v.F64
	case document.KindString:
		jv.S = &v.S
	case document.KindBytes:
		enc := base64.StdEncoding.EncodeToString(v.Raw)
		jv.R = &enc
	case document.KindID:
		n := v.Ref.Int64()
		jv.P = &n
	case document.KindDoc:
		d, err := docToJSON(v.D)
		if err != nil {
			return nil, err
		}
		jv.D = d
	case document.KindArray:
		jv.A = make([]*jsonValue, len(v.A))
		for i, e := range v.A {
			je, err := valueToJSON(e)
			if err != nil {
				return nil, err
			}
			jv.A[i] = je
		}
	default:
		return nil, fmt.Errorf("unsupported value kind %s", v.Kind)
	}
	return jv, nil
}

func jsonToDoc(fields []jsonField) (*document.Document, error) {
	out := document.New()
	for _, f := range fields {
		v, err := jsonToValue(f.V)
		if err != nil {
			return nil, fmt.Errorf("codec: field %q: %w", f.N, err)
		}
		if err := out.Put(f.N, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func jsonToValue(jv *jsonValue) (document.Value, error) {
	if jv == nil {
		return document.Null(), nil
	}
	switch document.Kind(jv.K) {
	case document.KindNull:
		return document.Null(), nil
	case document.KindBool:
		return document.Bool(jv.B != nil && *jv.B), nil
	case document.KindInt:
		if jv.I == nil {
			return document.Int(0), nil
		}
		return document.Int(*jv.I), nil
	case document.KindFloat:
		if jv.F == nil {
			return document.Float(0), nil
		}
		return document.Float(*jv.F), nil
	case document.KindString:
		if jv.S == nil {
			return document.String(""), nil
		}
		return document.String(*jv.S), nil
	case document.KindBytes:
		if jv.R == nil {
			return document.Bytes(nil), nil
		}
		raw, err := base64.StdEncoding.DecodeString(*jv.R)
		if err != nil {
			return document.Value{}, err
		}
		return document.Bytes(raw), nil
	case document.KindID:
		if jv.P == nil {
			return document.Ref(document.ZeroID), nil
		}
		return document.Ref(document.ID(*jv.P)), nil
	case document.KindDoc:
		d, err := jsonToDoc(jv.D)
		if err != nil {
			return document.Value{}, err
		}
		return document.Embed(d), nil
	case document.KindArray:
		arr := make([]document.Value, len(jv.A))
		for i, e := range jv.A {
			ev, err := jsonToValue(e)
			if err != nil {
				return document.Value{}, err
			}
			arr[i] = ev
		}
		return document.Array(arr...), nil
	default:
		return document.Value{}, fmt.Errorf("unknown value kind %d", jv.K)
	}
}
