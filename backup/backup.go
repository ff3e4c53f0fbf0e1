// Package backup exports and imports full database snapshots as portable
// archive streams. An archive carries every keyspace of the storage adapter,
// so restoring one reproduces documents, indexes and catalog state exactly.
//
// Export reads committed state only. Run it against a quiescent database,
// or accept that transactions committing mid-export may be partially
// contained.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Compression selects the archive compression codec.
type Compression string

const (
	// Zstd compresses with zstandard, the default.
	Zstd Compression = "zstd"
	// LZ4 compresses with lz4, trading ratio for speed.
	LZ4 Compression = "lz4"
	// None stores the archive uncompressed.
	None Compression = "none"
)

// magic identifies an archive stream.
var magic = []byte("QBK1")

// ErrBadArchive is returned when a stream is not a valid archive.
var ErrBadArchive = errors.New("backup: invalid archive")

// header is the uncompressed JSON preamble of an archive.
type header struct {
	Compression Compression `json:"compression"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (h header) validate() error {
	switch h.Compression {
	case Zstd, LZ4, None:
		return nil
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrBadArchive, h.Compression)
	}
}

func encodeHeader(h header) ([]byte, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}

// Options configures export and import.
type Options struct {
	// Compression selects the archive codec on export. Import reads the
	// codec from the archive header.
	Compression Compression

	// Workers bounds how many keyspaces are read concurrently on export.
	Workers int

	// BytesPerSecond throttles archive output; zero means unthrottled.
	BytesPerSecond int

	// BatchSize is the number of entries applied per storage batch on
	// import.
	BatchSize int
}

// Option mutates Options.
type Option func(*Options)

// WithCompression selects the archive compression codec.
func WithCompression(c Compression) Option {
	return func(o *Options) { o.Compression = c }
}

// WithWorkers bounds concurrent keyspace reads during export.
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// WithRateLimit throttles archive output to roughly n bytes per second.
func WithRateLimit(n int) Option {
	return func(o *Options) { o.BytesPerSecond = n }
}

// WithBatchSize sets how many entries import applies per storage batch.
func WithBatchSize(n int) Option {
	return func(o *Options) { o.BatchSize = n }
}

func applyOptions(optFns []Option) Options {
	o := Options{
		Compression: Zstd,
		Workers:     4,
		BatchSize:   1024,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	return o
}

func (o Options) limiter() *rate.Limiter {
	if o.BytesPerSecond <= 0 {
		return nil
	}
	burst := o.BytesPerSecond
	if burst < 64*1024 {
		burst = 64 * 1024
	}
	return rate.NewLimiter(rate.Limit(o.BytesPerSecond), burst)
}
