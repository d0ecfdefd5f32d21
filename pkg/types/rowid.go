package types

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// RowID-related errors.
var (
	// ErrInvalidRowIDLength is returned when a RowID string or byte slice has incorrect length
	ErrInvalidRowIDLength = errors.New("invalid RowID length")

	// ErrInvalidRowIDEncoding is returned when a RowID string is not valid hex
	ErrInvalidRowIDEncoding = errors.New("invalid RowID encoding")
)

// RowID is the stable, opaque identity of one row in a table. It is
// independent of the row's current position: deleting or inserting other
// rows never changes an existing RowID. IDs are 128 bits — a 48-bit
// millisecond timestamp followed by an 80-bit monotonic random component —
// so IDs assigned later compare greater and iterate in assignment order.
type RowID [16]byte

// ZeroRowID is the invalid, never-assigned identity.
var ZeroRowID RowID

// IsZero reports whether the identity is unassigned.
func (id RowID) IsZero() bool {
	return id == ZeroRowID
}

// Bytes returns the identity as a byte slice.
func (id RowID) Bytes() []byte {
	return id[:]
}

// Time returns the timestamp component of the identity.
func (id RowID) Time() time.Time {
	ms := uint64(id[0])<<40 | uint64(id[1])<<32 | uint64(id[2])<<24 |
		uint64(id[3])<<16 | uint64(id[4])<<8 | uint64(id[5])
	return time.UnixMilli(int64(ms))
}

// String returns the identity as a 32-character lowercase hex string.
// Hex of the big-endian bytes preserves lexicographic ordering.
func (id RowID) String() string {
	return hex.EncodeToString(id[:])
}

// Compare orders two identities lexicographically.
// Returns -1 if id < other, 0 if equal, 1 if id > other.
func (id RowID) Compare(other RowID) int {
	for i := 0; i < len(id); i++ {
		if id[i] < other[i] {
			return -1
		}
		if id[i] > other[i] {
			return 1
		}
	}
	return 0
}

// ParseRowID parses a 32-character hex string into a RowID.
func ParseRowID(s string) (RowID, error) {
	if len(s) != 32 {
		return RowID{}, ErrInvalidRowIDLength
	}
	var id RowID
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return RowID{}, ErrInvalidRowIDEncoding
	}
	return id, nil
}

// RowIDFromBytes builds a RowID from a 16-byte slice.
func RowIDFromBytes(b []byte) (RowID, error) {
	if len(b) != 16 {
		return RowID{}, ErrInvalidRowIDLength
	}
	var id RowID
	copy(id[:], b)
	return id, nil
}

// RowIDGenerator assigns time-ordered row identities with monotonic
// ordering within the same millisecond. Not safe for concurrent use; the
// owning table serializes access.
type RowIDGenerator struct {
	lastTimestamp uint64
	lastRandom    [10]byte
}

// NewRowIDGenerator creates a new generator.
func NewRowIDGenerator() *RowIDGenerator {
	return &RowIDGenerator{}
}

// Next assigns a new identity with the current timestamp.
func (g *RowIDGenerator) Next() (RowID, error) {
	return g.NextAt(time.Now())
}

// NextAt assigns a new identity with the given timestamp. Identities
// assigned within the same millisecond are strictly increasing.
func (g *RowIDGenerator) NextAt(t time.Time) (RowID, error) {
	timestamp := uint64(t.UnixMilli())

	var id RowID
	id[0] = byte(timestamp >> 40)
	id[1] = byte(timestamp >> 32)
	id[2] = byte(timestamp >> 24)
	id[3] = byte(timestamp >> 16)
	id[4] = byte(timestamp >> 8)
	id[5] = byte(timestamp)

	if timestamp == g.lastTimestamp {
		// Same millisecond: bump the random component so ordering holds.
		g.incrementRandom()
	} else {
		if _, err := rand.Read(g.lastRandom[:]); err != nil {
			return RowID{}, err
		}
		g.lastTimestamp = timestamp
	}
	copy(id[6:], g.lastRandom[:])

	return id, nil
}

// incrementRandom increments the random component as a big-endian 80-bit integer.
func (g *RowIDGenerator) incrementRandom() {
	for i := len(g.lastRandom) - 1; i >= 0; i-- {
		g.lastRandom[i]++
		if g.lastRandom[i] != 0 {
			break
		}
	}
}
