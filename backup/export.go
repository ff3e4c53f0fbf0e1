package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/quilldb/quill/store"
)

// Export writes a full archive of st to w. Keyspaces are read concurrently
// and written in sorted name order, so equal state produces equal archives.
func Export(ctx context.Context, st store.Store, w io.Writer, optFns ...Option) error {
	opts := applyOptions(optFns)

	names, err := st.Keyspaces()
	if err != nil {
		return fmt.Errorf("backup: list keyspaces: %w", err)
	}
	sort.Strings(names)

	if _, err := w.Write(magic); err != nil {
		return fmt.Errorf("backup: write archive: %w", err)
	}
	hdr, err := encodeHeader(header{Compression: opts.Compression, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("backup: encode header: %w", err)
	}
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("backup: write archive: %w", err)
	}

	out := io.Writer(w)
	if lim := opts.limiter(); lim != nil {
		out = &throttledWriter{ctx: ctx, w: out, lim: lim}
	}
	cw, closeCompressor, err := newCompressor(out, opts.Compression)
	if err != nil {
		return err
	}

	// Workers serialize keyspaces into buffers under a concurrency bound;
	// the writer drains the buffers in name order.
	sem := semaphore.NewWeighted(int64(opts.Workers))
	g, gctx := errgroup.WithContext(ctx)

	ready := make([]chan *bytes.Buffer, len(names))
	for i := range ready {
		ready[i] = make(chan *bytes.Buffer, 1)
	}

	for i, name := range names {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			buf, err := encodeKeyspace(st, name)
			if err != nil {
				return err
			}
			select {
			case ready[i] <- buf:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	g.Go(func() error {
		for i := range names {
			select {
			case buf := <-ready[i]:
				if _, err := cw.Write(buf.Bytes()); err != nil {
					return fmt.Errorf("backup: write archive: %w", err)
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		// Empty keyspace name terminates the archive.
		_, err := cw.Write(binary.AppendUvarint(nil, 0))
		return err
	})

	if err := g.Wait(); err != nil {
		closeCompressor()
		return err
	}
	return closeCompressor()
}

// encodeKeyspace serializes one keyspace: its name, then length-prefixed
// key-value entries, then a zero terminator.
func encodeKeyspace(st store.Store, name string) (*bytes.Buffer, error) {
	ks, err := st.Keyspace(name)
	if err != nil {
		return nil, fmt.Errorf("backup: open keyspace %q: %w", name, err)
	}

	buf := &bytes.Buffer{}
	buf.Write(binary.AppendUvarint(nil, uint64(len(name))))
	buf.WriteString(name)

	for entry, err := range ks.Scan(nil, nil) {
		if err != nil {
			return nil, fmt.Errorf("backup: scan keyspace %q: %w", name, err)
		}
		// Key lengths are offset by one so zero can terminate the keyspace.
		buf.Write(binary.AppendUvarint(nil, uint64(len(entry.Key))+1))
		buf.Write(entry.Key)
		buf.Write(binary.AppendUvarint(nil, uint64(len(entry.Value))))
		buf.Write(entry.Value)
	}
	buf.Write(binary.AppendUvarint(nil, 0))
	return buf, nil
}

func newCompressor(w io.Writer, c Compression) (io.Writer, func() error, error) {
	switch c {
	case Zstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("backup: init zstd: %w", err)
		}
		return zw, zw.Close, nil
	case LZ4:
		lw := lz4.NewWriter(w)
		return lw, lw.Close, nil
	case None:
		return w, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("backup: unknown compression %q", c)
	}
}

// throttledWriter paces writes through a token bucket, splitting large
// writes into burst-sized chunks.
type throttledWriter struct {
	ctx context.Context
	w   io.Writer
	lim *rate.Limiter
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > t.lim.Burst() {
			chunk = chunk[:t.lim.Burst()]
		}
		if err := t.lim.WaitN(t.ctx, len(chunk)); err != nil {
			return written, err
		}
		n, err := t.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[len(chunk):]
	}
	return written, nil
}
