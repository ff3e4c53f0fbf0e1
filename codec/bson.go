package codec

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/quilldb/quill/document"
)

// Binary subtype distinguishing document references from plain binary values.
const refBinarySubtype = 0x80

// BSON encodes records as BSON documents. Field order survives through
// bson.D, and the BSON type system covers the whole value union natively
// (int64 vs double, binary, null, nested documents, arrays); references use
// a user-defined binary subtype.
type BSON struct{}

// Name implements Codec.
func (BSON) Name() string { return "bson" }

type bsonRecord struct {
	ID       int64  `bson:"i"`
	Revision int64  `bson:"r"`
	Doc      bson.D `bson:"d"`
}

// MarshalRecord implements Codec.
func (BSON) MarshalRecord(r *Record) ([]byte, error) {
	doc, err := docToBSON(r.Doc)
	if err != nil {
		return nil, err
	}
	return bson.Marshal(bsonRecord{
		ID:       r.ID.Int64(),
		Revision: int64(r.Revision),
		Doc:      doc,
	})
}

// UnmarshalRecord implements Codec.
func (BSON) UnmarshalRecord(data []byte) (*Record, error) {
	var env bsonRecord
	if err := bson.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("codec: bson record: %w", err)
	}
	doc, err := bsonToDoc(env.Doc)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:       document.ID(env.ID),
		Revision: uint64(env.Revision),
		Doc:      doc,
	}, nil
}

// Marshal implements Codec.
func (BSON) Marshal(v any) ([]byte, error) { return bson.Marshal(v) }

// Unmarshal implements Codec.
func (BSON) Unmarshal(data []byte, v any) error { return bson.Unmarshal(data, v) }

// DocumentToBSON converts a document into an ordered bson.D, preserving
// field order and value kinds.
func DocumentToBSON(d *document.Document) (bson.D, error) { return docToBSON(d) }

// DocumentFromBSON converts an ordered bson.D back into a document.
func DocumentFromBSON(d bson.D) (*document.Document, error) { return bsonToDoc(d) }

func docToBSON(d *document.Document) (bson.D, error) {
	out := make(bson.D, 0, d.Len())
	for name, v := range d.All() {
		bv, err := valueToBSON(v)
		if err != nil {
			return nil, fmt.Errorf("codec: field %q: %w", name, err)
		}
		out = append(out, bson.E{Key: name, Value: bv})
	}
	return out, nil
}

func valueToBSON(v document.Value) (any, error) {
	switch v.Kind {
	case document.KindNull:
		return primitive.Null{}, nil
	case document.KindBool:
		return v.B, nil
	case document.KindInt:
		return v.I64, nil
	case document.KindFloat:
		return v.F64, nil
	case document.KindString:
		return v.S, nil
	case document.KindBytes:
		return primitive.Binary{Subtype: 0x00, Data: v.Raw}, nil
	case document.KindID:
		return primitive.Binary{Subtype: refBinarySubtype, Data: v.Ref.Bytes()}, nil
	case document.KindDoc:
		return docToBSON(v.D)
	case document.KindArray:
		arr := make(bson.A, len(v.A))
		for i, e := range v.A {
			be, err := valueToBSON(e)
			if err != nil {
				return nil, err
			}
			arr[i] = be
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %s", v.Kind)
	}
}

func bsonToDoc(d bson.D) (*document.Document, error) {
	out := document.New()
	for _, e := range d {
		v, err := bsonToValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("codec: field %q: %w", e.Key, err)
		}
		if err := out.Put(e.Key, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func bsonToValue(v any) (document.Value, error) {
	switch x := v.(type) {
	case nil, primitive.Null:
		return document.Null(), nil
	case bool:
		return document.Bool(x), nil
	case int32:
		return document.Int(int64(x)), nil
	case int64:
		return document.Int(x), nil
	case float64:
		return document.Float(x), nil
	case string:
		return document.String(x), nil
	case primitive.Binary:
		if x.Subtype == refBinarySubtype {
			id, err := document.IDFromBytes(x.Data)
			if err != nil {
				return document.Value{}, err
			}
			return document.Ref(id), nil
		}
		return document.Bytes(x.Data), nil
	case bson.D:
		d, err := bsonToDoc(x)
		if err != nil {
			return document.Value{}, err
		}
		return document.Embed(d), nil
	case bson.A:
		arr := make([]document.Value, len(x))
		for i, e := range x {
			ev, err := bsonToValue(e)
			if err != nil {
				return document.Value{}, err
			}
			arr[i] = ev
		}
		return document.Array(arr...), nil
	default:
		return document.Value{}, fmt.Errorf("unsupported bson type %T", v)
	}
}
