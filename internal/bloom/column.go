package bloom

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/tabulon/tabulon/pkg/types"
)

// ColumnFilter tests membership of typed column values. Values are encoded
// canonically (type tag plus a fixed encoding per type) so that equal
// values always hash identically regardless of the Go type they arrived as.
type ColumnFilter struct {
	filter *Filter
}

// NewColumnFilter creates a column filter sized for the expected row count.
func NewColumnFilter(expectedRows int, targetFPR float64) *ColumnFilter {
	return &ColumnFilter{filter: NewFilter(expectedRows, targetFPR)}
}

// Add inserts a column value. Non-canonical values are canonicalized first;
// values that cannot be canonicalized are ignored (they can never match an
// equality clause either).
func (c *ColumnFilter) Add(v interface{}) {
	enc, ok := encodeValue(v)
	if !ok {
		return
	}
	c.filter.Add(enc)
}

// MayContain reports whether the value might be present in the column.
// A false result proves the column holds no equal value.
func (c *ColumnFilter) MayContain(v interface{}) bool {
	enc, ok := encodeValue(v)
	if !ok {
		return true
	}
	return c.filter.MayContain(enc)
}

// Count returns the number of values added.
func (c *ColumnFilter) Count() uint64 {
	return c.filter.Count()
}

// encodeValue produces the canonical byte encoding of a value. Ints and
// floats that represent the same number encode identically so the filter
// agrees with the executor's numeric comparison.
func encodeValue(v interface{}) ([]byte, bool) {
	cv, t, err := types.Canonical(v)
	if err != nil {
		return nil, false
	}

	var buf []byte
	switch t {
	case types.TypeInt:
		n := cv.(int64)
		// Whole numbers encode as floats so 3 and 3.0 collide.
		buf = appendTagged('f', nil)
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(float64(n)))
	case types.TypeFloat:
		buf = appendTagged('f', nil)
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(cv.(float64)))
	case types.TypeString:
		buf = appendTagged('s', []byte(cv.(string)))
	case types.TypeBool:
		b := byte(0)
		if cv.(bool) {
			b = 1
		}
		buf = appendTagged('b', []byte{b})
	case types.TypeDate:
		buf = appendTagged('d', nil)
		buf = binary.BigEndian.AppendUint64(buf, uint64(cv.(time.Time).UnixNano()))
	case types.TypeBinary:
		buf = appendTagged('x', cv.([]byte))
	case types.TypeLink:
		id := cv.(types.RowID)
		buf = appendTagged('l', id.Bytes())
	default:
		return nil, false
	}
	return buf, true
}

func appendTagged(tag byte, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, tag)
	return append(buf, payload...)
}
