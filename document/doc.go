// Package document defines the in-memory representation of a record: a
// schema-flexible, field-ordered mapping from names to typed values, plus the
// identity attached to every stored record.
//
// Values form a tagged union with a documented total order, which makes them
// usable both for filter evaluation and as components of index keys.
package document
