package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUBufferHitOnRepeatedAccess(t *testing.T) {
	b := NewLRUBuffer("lru-1")
	require.NoError(t, b.Initialize(map[string]any{"size": 2}))

	assert.False(t, b.GetPage(1))
	assert.True(t, b.GetPage(1))
	assert.Equal(t, 1, b.hits)
	assert.Equal(t, 1, b.misses)
}

func TestLRUBufferEvictsLeastRecentlyUsed(t *testing.T) {
	b := NewLRUBuffer("lru-2")
	require.NoError(t, b.Initialize(map[string]any{"size": 2}))

	b.GetPage(1)
	b.GetPage(2)
	b.GetPage(1) // touch 1, making 2 the LRU victim
	b.GetPage(3) // evicts 2

	assert.False(t, b.Contains(2))
	assert.True(t, b.Contains(1))
	assert.True(t, b.Contains(3))
	assert.Equal(t, 1, b.evictions)
}

func TestLRUBufferHitRatePct(t *testing.T) {
	b := NewLRUBuffer("lru-3")
	require.NoError(t, b.Initialize(map[string]any{"size": 10}))
	b.GetPage(1)
	b.GetPage(1)
	b.GetPage(1)
	assert.InDelta(t, 66.666, b.HitRatePct(), 0.01)
}

func TestLRUBufferInvalidSize(t *testing.T) {
	b := NewLRUBuffer("lru-4")
	assert.Error(t, b.Initialize(map[string]any{"size": 0}))
}

func TestLRUBufferStateRoundTrip(t *testing.T) {
	b := NewLRUBuffer("lru-5")
	require.NoError(t, b.Initialize(map[string]any{"size": 2}))
	b.GetPage(1)
	b.GetPage(2)

	snap := b.GetState()
	b2 := NewLRUBuffer("lru-5")
	require.NoError(t, b2.SetState(snap))

	assert.True(t, b2.Contains(1))
	assert.True(t, b2.Contains(2))
	assert.True(t, b2.GetPage(1))
}
