package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_RowIDOrdering validates that row identities assigned later
// always compare greater, both across milliseconds and within one, and that
// the string encoding preserves that ordering.
func TestProperty_RowIDOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("identities assigned at later times compare greater", prop.ForAll(
		func(t1Ms, t2Ms int64) bool {
			if t1Ms >= t2Ms {
				t1Ms, t2Ms = t2Ms, t1Ms+1
			}

			g := NewRowIDGenerator()
			a, err := g.NextAt(time.UnixMilli(t1Ms))
			if err != nil {
				return false
			}
			b, err := g.NextAt(time.UnixMilli(t2Ms))
			if err != nil {
				return false
			}
			return a.Compare(b) < 0 && a.String() < b.String()
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.Int64Range(1000000000000, 2000000000000),
	))

	properties.Property("identities within one millisecond are strictly increasing", prop.ForAll(
		func(timestampMs int64, count int) bool {
			g := NewRowIDGenerator()
			at := time.UnixMilli(timestampMs)

			var prev RowID
			for i := 0; i < count; i++ {
				curr, err := g.NextAt(at)
				if err != nil {
					return false
				}
				if i > 0 && prev.Compare(curr) >= 0 {
					return false
				}
				prev = curr
			}
			return true
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.IntRange(2, 200),
	))

	properties.Property("string round trip is lossless", prop.ForAll(
		func(timestampMs int64) bool {
			g := NewRowIDGenerator()
			id, err := g.NextAt(time.UnixMilli(timestampMs))
			if err != nil {
				return false
			}
			parsed, err := ParseRowID(id.String())
			return err == nil && parsed == id
		},
		gen.Int64Range(0, 281474976710655), // max 48-bit timestamp
	))

	properties.TestingRun(t)
}
