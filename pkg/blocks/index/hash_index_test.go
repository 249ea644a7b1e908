package index

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockengine/pkg/record"
)

func TestHashIndexInsertAndLookup(t *testing.T) {
	h := NewHashIndex("hi-1")
	require.NoError(t, h.Initialize(map[string]any{"key_column": "id"}))

	for i := 0; i < 100; i++ {
		h.Insert(strconv.Itoa(i), record.TupleId{SlotID: i})
	}
	for i := 0; i < 100; i++ {
		tid, ok := h.Lookup(strconv.Itoa(i))
		require.True(t, ok)
		assert.Equal(t, i, tid.SlotID)
	}
	_, ok := h.Lookup("missing")
	assert.False(t, ok)
}

func TestHashIndexRehashesWhenOverLoadFactor(t *testing.T) {
	h := NewHashIndex("hi-2")
	require.NoError(t, h.Initialize(map[string]any{"initial_buckets": 4, "max_load_factor": 0.75}))

	for i := 0; i < 50; i++ {
		h.Insert(strconv.Itoa(i), record.TupleId{SlotID: i})
	}
	assert.Greater(t, h.rehashCount, 0)
	assert.Greater(t, len(h.buckets), 4)
	assert.LessOrEqual(t, h.LoadFactor(), h.maxLoadFactor+0.3)
}

func TestHashIndexNoRangeOrderingGuarantee(t *testing.T) {
	h := NewHashIndex("hi-3")
	h.Insert(5, record.TupleId{SlotID: 5})
	h.Insert(1, record.TupleId{SlotID: 1})
	assert.Equal(t, 2, h.totalKeys)
}

func TestHashIndexInvalidParameters(t *testing.T) {
	h := NewHashIndex("hi-4")
	assert.Error(t, h.Initialize(map[string]any{"initial_buckets": 2}))
	assert.Error(t, h.Initialize(map[string]any{"max_load_factor": 3.0}))
}

func TestHashIndexStateRoundTrip(t *testing.T) {
	h := NewHashIndex("hi-5")
	for i := 0; i < 20; i++ {
		h.Insert(strconv.Itoa(i), record.TupleId{SlotID: i})
	}
	snap := h.GetState()

	h2 := NewHashIndex("hi-5")
	require.NoError(t, h2.SetState(snap))
	tid, ok := h2.Lookup("10")
	assert.True(t, ok)
	assert.Equal(t, 10, tid.SlotID)
}
