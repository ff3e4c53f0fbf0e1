package document

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ID is the immutable identity of a document within a collection.
//
// IDs are snowflake-style 64-bit integers: 41 bits of milliseconds since a
// fixed epoch, 10 bits of node id and 12 bits of per-millisecond sequence.
// They are unique per generator, monotonically producible and comparable.
type ID int64

// ZeroID is the absent identity.
const ZeroID ID = 0

// Int64 returns the numeric form of the id.
func (id ID) Int64() int64 { return int64(id) }

// String returns the decimal form of the id.
func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// Bytes returns the 8-byte big-endian form of the id, which sorts in the same
// order as the numeric value for non-negative ids.
func (id ID) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

// IDFromBytes decodes an id produced by Bytes.
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != 8 {
		return ZeroID, fmt.Errorf("document: invalid id length %d", len(b))
	}
	return ID(binary.BigEndian.Uint64(b)), nil
}

// ParseID decodes the decimal form of an id.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ZeroID, fmt.Errorf("document: invalid id %q: %w", s, err)
	}
	return ID(n), nil
}

const (
	idEpochMillis  = int64(1288834974657)
	idNodeBits     = 10
	idSequenceBits = 12
	idMaxNode      = (1 << idNodeBits) - 1
	idSequenceMask = (1 << idSequenceBits) - 1
	idTimeShift    = idNodeBits + idSequenceBits
)

// IDGenerator produces unique IDs. Safe for concurrent use.
type IDGenerator struct {
	mu       sync.Mutex
	node     int64
	lastTime int64
	sequence int64
}

// NewIDGenerator returns a generator for the given node id. Node ids above
// the 10-bit range are masked.
func NewIDGenerator(node uint16) *IDGenerator {
	return &IDGenerator{node: int64(node) & idMaxNode}
}

// Next returns the next id. Within one millisecond ids differ by sequence;
// when the sequence overflows the generator spins to the next millisecond.
// A clock moving backwards never yields a smaller id: generation continues
// from the last observed time.
func (g *IDGenerator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastTime {
		now = g.lastTime
	}
	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & idSequenceMask
		if g.sequence == 0 {
			for now <= g.lastTime {
				now = time.Now().UnixMilli()
				if now < g.lastTime {
					now = g.lastTime + 1
				}
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	return ID(((now - idEpochMillis) << idTimeShift) | (g.node << idSequenceBits) | g.sequence)
}
