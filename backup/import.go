package backup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/quilldb/quill/store"
)

// Import restores an archive produced by Export into st, replacing the
// content of every keyspace the archive carries. Keyspaces present in st but
// absent from the archive are left alone; import into an empty store for an
// exact restore.
func Import(ctx context.Context, st store.Store, r io.Reader, optFns ...Option) error {
	opts := applyOptions(optFns)

	br := bufio.NewReader(r)
	got := make([]byte, len(magic))
	if _, err := io.ReadFull(br, got); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	if !bytes.Equal(got, magic) {
		return fmt.Errorf("%w: bad magic", ErrBadArchive)
	}
	line, err := br.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("%w: truncated header", ErrBadArchive)
	}
	var hdr header
	if err := json.Unmarshal(line, &hdr); err != nil {
		return fmt.Errorf("%w: malformed header: %v", ErrBadArchive, err)
	}
	if err := hdr.validate(); err != nil {
		return err
	}

	cr, err := newDecompressor(br, hdr.Compression)
	if err != nil {
		return err
	}
	dec := bufio.NewReader(cr)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		nameLen, err := binary.ReadUvarint(dec)
		if err != nil {
			return fmt.Errorf("%w: truncated keyspace header", ErrBadArchive)
		}
		if nameLen == 0 {
			return nil
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(dec, name); err != nil {
			return fmt.Errorf("%w: truncated keyspace name", ErrBadArchive)
		}
		if err := importKeyspace(ctx, st, string(name), dec, opts.BatchSize); err != nil {
			return err
		}
	}
}

// importKeyspace drops the target keyspace and streams the archive's entries
// into it in bounded batches.
func importKeyspace(ctx context.Context, st store.Store, name string, dec *bufio.Reader, batchSize int) error {
	batch := store.NewBatch()
	batch.DropKeyspace(name)
	if _, err := st.Keyspace(name); err != nil {
		return fmt.Errorf("backup: open keyspace %q: %w", name, err)
	}

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := st.Apply(batch); err != nil {
			return fmt.Errorf("backup: restore keyspace %q: %w", name, err)
		}
		batch = store.NewBatch()
		return nil
	}

	for {
		keyLen, err := binary.ReadUvarint(dec)
		if err != nil {
			return fmt.Errorf("%w: truncated entry", ErrBadArchive)
		}
		if keyLen == 0 {
			return flush()
		}
		key := make([]byte, keyLen-1)
		if _, err := io.ReadFull(dec, key); err != nil {
			return fmt.Errorf("%w: truncated key", ErrBadArchive)
		}
		valLen, err := binary.ReadUvarint(dec)
		if err != nil {
			return fmt.Errorf("%w: truncated entry", ErrBadArchive)
		}
		val := make([]byte, valLen)
		if _, err := io.ReadFull(dec, val); err != nil {
			return fmt.Errorf("%w: truncated value", ErrBadArchive)
		}

		batch.Put(name, key, val)
		if batch.Len() >= batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func newDecompressor(r io.Reader, c Compression) (io.Reader, error) {
	switch c {
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("backup: init zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	case LZ4:
		return lz4.NewReader(r), nil
	case None:
		return r, nil
	default:
		return nil, fmt.Errorf("backup: unknown compression %q", c)
	}
}
