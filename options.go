package quill

import (
	"log/slog"

	"github.com/quilldb/quill/codec"
	"github.com/quilldb/quill/index"
	"github.com/quilldb/quill/store"
	"github.com/quilldb/quill/store/sqlitestore"
)

type options struct {
	store    store.Store
	codec    codec.Codec
	logger   *Logger
	registry *index.Registry
	idNode   uint16

	filePath string
}

// Option configures Open behavior.
type Option func(*options)

// WithStore configures the storage adapter. The default is a non-durable
// in-memory store.
func WithStore(st store.Store) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithFile configures durable SQLite-backed storage at the given path,
// created when missing. Mutually exclusive with WithStore.
func WithFile(path string) Option {
	return func(o *options) {
		o.filePath = path
	}
}

// WithCodec configures the document codec. A database is pinned to the codec
// it was created with; reopening with a different one fails.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithIndexRegistry configures the index kind registry, allowing custom
// index implementations to be plugged in.
func WithIndexRegistry(r *index.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithIDNode salts generated document ids. Give each instance a distinct
// node when several of them generate ids for the same logical data set.
func WithIDNode(node uint16) Option {
	return func(o *options) {
		o.idNode = node
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) (options, error) {
	o := options{
		logger: NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.store == nil && o.filePath != "" {
		o.store = sqlitestore.New(o.filePath)
	}
	return o, nil
}
