package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockengine/pkg/record"
)

func TestBTreeIndexInsertAndLookup(t *testing.T) {
	tree := NewBTreeIndex("bt-1")
	require.NoError(t, tree.Initialize(map[string]any{"fanout": 4, "key_column": "id"}))

	for i := 0; i < 20; i++ {
		require.NoError(t, tree.Insert(i, record.TupleId{PageID: 0, SlotID: i}))
	}

	for i := 0; i < 20; i++ {
		tid, ok := tree.Lookup(i)
		require.True(t, ok, "key %d should be found", i)
		assert.Equal(t, i, tid.SlotID)
	}

	_, ok := tree.Lookup(999)
	assert.False(t, ok)
}

func TestBTreeIndexSplitsWithSmallFanout(t *testing.T) {
	tree := NewBTreeIndex("bt-2")
	require.NoError(t, tree.Initialize(map[string]any{"fanout": 3}))

	for i := 0; i < 20; i++ {
		require.NoError(t, tree.Insert(i, record.TupleId{SlotID: i}))
	}
	assert.Greater(t, tree.splitCount, 0, "inserting 20 keys with fanout 3 should cause splits")
}

func TestBTreeIndexDepthGrowsSlowlyWithFanout(t *testing.T) {
	tree := NewBTreeIndex("bt-3")
	require.NoError(t, tree.Initialize(map[string]any{"fanout": 4}))

	for i := 0; i < 10000; i++ {
		require.NoError(t, tree.Insert(i, record.TupleId{SlotID: i}))
	}
	assert.LessOrEqual(t, tree.Depth(), 9, "depth too large for 10K keys with fanout 4")
}

func TestBTreeIndexRangeScanOrdered(t *testing.T) {
	tree := NewBTreeIndex("bt-4")
	require.NoError(t, tree.Initialize(map[string]any{"fanout": 4}))

	for i := 0; i < 50; i++ {
		require.NoError(t, tree.Insert(i, record.TupleId{SlotID: i}))
	}

	results := tree.RangeScan(10, 20)
	require.Len(t, results, 11)
	for i, r := range results {
		assert.Equal(t, 10+i, r.Key)
	}
}

func TestBTreeIndexUniqueConstraint(t *testing.T) {
	tree := NewBTreeIndex("bt-5")
	require.NoError(t, tree.Initialize(map[string]any{"unique": true}))

	require.NoError(t, tree.Insert("a", record.TupleId{SlotID: 1}))
	err := tree.Insert("a", record.TupleId{SlotID: 2})
	assert.Error(t, err)
}

func TestBTreeIndexInvalidFanout(t *testing.T) {
	tree := NewBTreeIndex("bt-6")
	assert.Error(t, tree.Initialize(map[string]any{"fanout": 2}))
	assert.Error(t, tree.Initialize(map[string]any{"fanout": 2000}))
}

func TestBTreeIndexStateRoundTrip(t *testing.T) {
	tree := NewBTreeIndex("bt-7")
	require.NoError(t, tree.Initialize(map[string]any{"fanout": 4}))
	for i := 0; i < 30; i++ {
		require.NoError(t, tree.Insert(i, record.TupleId{SlotID: i}))
	}

	snap := tree.GetState()
	tree2 := NewBTreeIndex("bt-7")
	require.NoError(t, tree2.SetState(snap))

	tid, ok := tree2.Lookup(15)
	assert.True(t, ok)
	assert.Equal(t, 15, tid.SlotID)
	assert.Equal(t, tree.totalKeys, tree2.totalKeys)
}

