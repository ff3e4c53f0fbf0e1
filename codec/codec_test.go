package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilldb/quill/document"
)

func sampleRecord() *Record {
	doc := document.FromPairs(
		"name", "Ada",
		"age", 36,
		"score", 91.5,
		"active", true,
		"blob", []byte{0x01, 0x02},
	)
	doc.Put("nothing", document.Null())
	doc.Put("friend", document.Ref(document.ID(77)))
	doc.Put("address", document.Embed(document.FromPairs("city", "London")))
	doc.Put("tags", document.Array(document.String("a"), document.Int(2)))
	return &Record{ID: document.ID(42), Revision: 3, Doc: doc}
}

func assertRecordEqual(t *testing.T, want, got *Record) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Revision, got.Revision)
	require.True(t, want.Doc.Equal(got.Doc),
		"documents differ:\nwant %s\ngot  %s", want.Doc, got.Doc)
	assert.Equal(t, want.Doc.Fields(), got.Doc.Fields(), "field order survives")
}

func TestBSONRecordRoundTrip(t *testing.T) {
	rec := sampleRecord()
	raw, err := BSON{}.MarshalRecord(rec)
	require.NoError(t, err)

	got, err := BSON{}.UnmarshalRecord(raw)
	require.NoError(t, err)
	assertRecordEqual(t, rec, got)
}

func TestJSONRecordRoundTrip(t *testing.T) {
	rec := sampleRecord()
	raw, err := JSON{}.MarshalRecord(rec)
	require.NoError(t, err)

	got, err := JSON{}.UnmarshalRecord(raw)
	require.NoError(t, err)
	assertRecordEqual(t, rec, got)
}

func TestBSONKeepsIntAndFloatDistinct(t *testing.T) {
	doc := document.FromPairs("i", 3, "f", 3.0)
	rec := &Record{ID: 1, Revision: 1, Doc: doc}

	raw, err := BSON{}.MarshalRecord(rec)
	require.NoError(t, err)
	got, err := BSON{}.UnmarshalRecord(raw)
	require.NoError(t, err)

	v, _ := got.Doc.Get("i")
	assert.Equal(t, document.KindInt, v.Kind)
	v, _ = got.Doc.Get("f")
	assert.Equal(t, document.KindFloat, v.Kind)
}

func TestUnmarshalRecordRejectsGarbage(t *testing.T) {
	_, err := BSON{}.UnmarshalRecord([]byte{0xde, 0xad})
	assert.Error(t, err)
	_, err = JSON{}.UnmarshalRecord([]byte("{not json"))
	assert.Error(t, err)
}

func TestByName(t *testing.T) {
	c, ok := ByName("bson")
	require.True(t, ok)
	assert.Equal(t, "bson", c.Name())

	c, ok = ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestDocumentBSONConversion(t *testing.T) {
	doc := sampleRecord().Doc
	d, err := DocumentToBSON(doc)
	require.NoError(t, err)

	back, err := DocumentFromBSON(d)
	require.NoError(t, err)
	assert.True(t, doc.Equal(back))
}
