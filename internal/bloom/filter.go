// Package bloom provides probabilistic column-membership filters used by the
// query executor to prove the absence of an equality match without a scan.
package bloom

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter with murmur3 double hashing. It guarantees no
// false negatives: if an item was added, MayContain always returns true.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// NewFilter creates a filter sized for the expected number of items and
// target false positive rate.
func NewFilter(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := optimalParameters(expectedItems, targetFPR)
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// optimalParameters derives bit and hash counts from the standard formulas
// m = -n*ln(p)/ln(2)^2 and k = (m/n)*ln(2).
func optimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1024
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	k := (m / n) * math.Ln2

	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil(k))
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add inserts an item.
func (f *Filter) Add(item []byte) {
	h1, h2 := hash128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MayContain reports whether the item might have been added. A false
// result is definitive: the item was never added.
func (f *Filter) MayContain(item []byte) bool {
	h1, h2 := hash128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of items added.
func (f *Filter) Count() uint64 {
	return f.count
}

// FalsePositiveRate estimates the current false positive rate from the
// fill ratio: (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// hash128 computes a murmur3 128-bit hash as two 64-bit values for
// double hashing: h(i) = h1 + i*h2.
func hash128(item []byte) (uint64, uint64) {
	h := murmur3.New128()
	h.Write(item)
	return h.Sum128()
}
