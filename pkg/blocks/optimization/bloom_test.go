package optimization

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(10000, 7)
	for i := 0; i < 100; i++ {
		bf.Insert(keyFor(i))
	}
	for i := 0; i < 100; i++ {
		assert.True(t, bf.MightContain(keyFor(i)), "key %d should be found", i)
	}
}

func TestBloomFilterFalsePositiveRateReasonable(t *testing.T) {
	bf := NewBloomFilter(100000, 7)
	for i := 0; i < 1000; i++ {
		bf.Insert(keyFor(i))
	}
	fp := 0
	for i := 10000; i < 11000; i++ {
		if bf.MightContain(keyFor(i)) {
			fp++
		}
	}
	assert.Less(t, fp, 50, "false positive rate too high: %d/1000", fp)
}

func TestBloomFilterBlockGroundTruthClassification(t *testing.T) {
	b := NewBloomFilterBlock("bf-1")
	require.NoError(t, b.Initialize(map[string]any{"num_bits": 10000, "num_hash_functions": 7}))

	b.Insert("present")
	assert.True(t, b.MightContain("present"))
	assert.Equal(t, 1, b.truePositives)

	b.MightContain("absent-1234567890")
	assert.GreaterOrEqual(t, b.trueNegatives+b.falsePositives, 1)
}

func TestBloomFilterBlockStateRoundTrip(t *testing.T) {
	b := NewBloomFilterBlock("bf-2")
	b.Insert("a")
	b.Insert("b")

	snap := b.GetState()
	b2 := NewBloomFilterBlock("bf-2")
	require.NoError(t, b2.SetState(snap))
	assert.True(t, b2.filter.MightContain("a"))
	assert.True(t, b2.filter.MightContain("b"))
}

func keyFor(i int) string {
	return "key_" + strconv.Itoa(i)
}
