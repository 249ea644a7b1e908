// Package optimization implements the storage-optimization algorithmic
// blocks: bloom filter, dictionary encoding, and statistics collector
// (spec §4.11). BloomFilter is also the shared bit-array implementation
// used internally by pkg/blocks/storage's LSM tree.
package optimization

import "math"

const ln2 = 0.6931471805599453

// BloomFilter is a bit array plus a set of independent hash functions,
// each derived by mixing the key with a distinct seed (spec §4.11
// Bloom: "each a mixing of (key + seed_i) producing a bit index").
type BloomFilter struct {
	Bits      []bool
	NumHashes int
}

// NewBloomFilter builds a filter with an explicit bit-array size and
// hash-function count, as configured on the standalone Bloom Filter
// block.
func NewBloomFilter(numBits, numHashFns int) *BloomFilter {
	if numBits < 1 {
		numBits = 1
	}
	if numHashFns < 1 {
		numHashFns = 1
	}
	return &BloomFilter{Bits: make([]bool, numBits), NumHashes: numHashFns}
}

// NewBloomFilterSized derives a bit-array size and hash-function count
// from an expected item count and target false-positive rate, the
// standard formulas m = -n*ln(p)/ln(2)^2 and k = (m/n)*ln(2). Used by
// the LSM tree to size a fresh SSTable's filter.
func NewBloomFilterSized(expectedItems int, falsePositiveRate float64) *BloomFilter {
	bitsCount := 64
	numHashes := 3
	if expectedItems > 0 {
		n := float64(expectedItems)
		m := -(n * math.Log(falsePositiveRate)) / (ln2 * ln2)
		if int(m) > bitsCount {
			bitsCount = int(m)
		}
		k := (float64(bitsCount) / n) * ln2
		numHashes = int(k)
		if numHashes < 1 {
			numHashes = 1
		}
		if numHashes > 10 {
			numHashes = 10
		}
	}
	return &BloomFilter{Bits: make([]bool, bitsCount), NumHashes: numHashes}
}

// hash is an FNV-1a variant seeded per hash function, matching the
// original implementation's "(key + seed_i)" mixing.
func (b *BloomFilter) hash(key string, seed int) int {
	h := uint64(14695981039346656037) + uint64(seed)*2654435761
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int(h % uint64(len(b.Bits)))
}

// Insert sets every bit key hashes to.
func (b *BloomFilter) Insert(key string) {
	for i := 0; i < b.NumHashes; i++ {
		b.Bits[b.hash(key, i)] = true
	}
}

// MightContain returns false only when it can prove key was never
// inserted (spec invariant: no false negatives).
func (b *BloomFilter) MightContain(key string) bool {
	for i := 0; i < b.NumHashes; i++ {
		if !b.Bits[b.hash(key, i)] {
			return false
		}
	}
	return true
}
