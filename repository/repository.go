// Package repository maps Go structs onto collections, so typed code can
// use the database without assembling documents by hand. Field mapping uses
// bson struct tags.
package repository

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/quilldb/quill/codec"
	"github.com/quilldb/quill/document"
	"github.com/quilldb/quill/engine"
	"github.com/quilldb/quill/filter"
	"github.com/quilldb/quill/index"
)

// Mapper converts between entity values and documents. The default mapper
// round-trips through BSON; implement Mapper for custom conversions.
type Mapper[T any] interface {
	ToDocument(v T) (*document.Document, error)
	FromDocument(d *document.Document) (T, error)
}

// Entity is one typed result with its document id.
type Entity[T any] struct {
	ID    document.ID
	Value T
}

// Repository is a typed view over one collection.
type Repository[T any] struct {
	col    *engine.Collection
	mapper Mapper[T]
}

// New returns a repository over col using the BSON tag mapper.
func New[T any](col *engine.Collection) *Repository[T] {
	return NewWithMapper[T](col, bsonMapper[T]{})
}

// NewWithMapper returns a repository over col using a custom mapper.
func NewWithMapper[T any](col *engine.Collection, mapper Mapper[T]) *Repository[T] {
	return &Repository[T]{col: col, mapper: mapper}
}

// Collection exposes the underlying collection.
func (r *Repository[T]) Collection() *engine.Collection { return r.col }

// Insert stores v as a new document and returns its id.
func (r *Repository[T]) Insert(v T) (document.ID, error) {
	doc, err := r.mapper.ToDocument(v)
	if err != nil {
		return document.ZeroID, err
	}
	return r.col.Insert(doc)
}

// Get loads the entity stored under id.
func (r *Repository[T]) Get(id document.ID) (T, error) {
	var zero T
	doc, err := r.col.Get(id)
	if err != nil {
		return zero, err
	}
	return r.mapper.FromDocument(doc)
}

// Update merges v's fields into the document under id and returns the new
// revision. Fields absent from v's document form stay untouched.
func (r *Repository[T]) Update(id document.ID, v T) (uint64, error) {
	doc, err := r.mapper.ToDocument(v)
	if err != nil {
		return 0, err
	}
	return r.col.Update(id, doc)
}

// Upsert merges v's fields like Update, inserting when id is absent.
func (r *Repository[T]) Upsert(id document.ID, v T) (uint64, error) {
	doc, err := r.mapper.ToDocument(v)
	if err != nil {
		return 0, err
	}
	return r.col.Upsert(id, doc)
}

// Remove deletes the document under id.
func (r *Repository[T]) Remove(id document.ID) error {
	return r.col.Remove(id)
}

// Find returns all entities matching f.
func (r *Repository[T]) Find(f filter.Filter, opts ...*engine.FindOptions) ([]Entity[T], error) {
	cursor, err := r.col.Find(f, opts...)
	if err != nil {
		return nil, err
	}
	var out []Entity[T]
	for m, err := range cursor.All() {
		if err != nil {
			return nil, err
		}
		v, err := r.mapper.FromDocument(m.Doc)
		if err != nil {
			return nil, err
		}
		out = append(out, Entity[T]{ID: m.ID, Value: v})
	}
	return out, nil
}

// FindFirst returns the first entity matching f, or ErrNotFound.
func (r *Repository[T]) FindFirst(f filter.Filter, opts ...*engine.FindOptions) (Entity[T], error) {
	cursor, err := r.col.Find(f, opts...)
	if err != nil {
		return Entity[T]{}, err
	}
	m, err := cursor.First()
	if err != nil {
		return Entity[T]{}, err
	}
	v, err := r.mapper.FromDocument(m.Doc)
	if err != nil {
		return Entity[T]{}, err
	}
	return Entity[T]{ID: m.ID, Value: v}, nil
}

// CreateIndex builds an index over the given field paths.
func (r *Repository[T]) CreateIndex(fields []string, kind index.Kind) error {
	return r.col.CreateIndex(fields, kind)
}

// bsonMapper converts through BSON, honoring bson struct tags.
type bsonMapper[T any] struct{}

func (bsonMapper[T]) ToDocument(v T) (*document.Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("repository: encode %T: %w", v, err)
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("repository: decode %T: %w", v, err)
	}
	return codec.DocumentFromBSON(d)
}

func (bsonMapper[T]) FromDocument(doc *document.Document) (T, error) {
	var v T
	d, err := codec.DocumentToBSON(doc)
	if err != nil {
		return v, err
	}
	raw, err := bson.Marshal(d)
	if err != nil {
		return v, fmt.Errorf("repository: encode document: %w", err)
	}
	if err := bson.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("repository: decode into %T: %w", v, err)
	}
	return v, nil
}
