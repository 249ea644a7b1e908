package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockengine/pkg/record"
)

func TestClusteredStorageKeepsSortOrder(t *testing.T) {
	c := NewClusteredStorage("cs-1")
	require.NoError(t, c.Initialize(map[string]any{"cluster_key": "id", "page_size": 1000}))

	for _, id := range []string{"c", "a", "d", "b"} {
		c.Insert(record.Record{"id": id})
	}

	var got []string
	for _, r := range c.Scan() {
		got = append(got, r["id"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestClusteredStorageSplitsOnOverflow(t *testing.T) {
	c := NewClusteredStorage("cs-2")
	require.NoError(t, c.Initialize(map[string]any{"cluster_key": "id", "page_size": 4}))

	for i := 0; i < 20; i++ {
		c.Insert(record.Record{"id": string(rune('a' + i))})
	}

	assert.Greater(t, c.splits, 0)
	assert.Len(t, c.Scan(), 20)
}

func TestClusteredStorageStateRoundTrip(t *testing.T) {
	c := NewClusteredStorage("cs-3")
	c.Insert(record.Record{"id": "x"})
	c.Insert(record.Record{"id": "y"})

	snap := c.GetState()
	c2 := NewClusteredStorage("cs-3")
	require.NoError(t, c2.SetState(snap))
	assert.Equal(t, c.Scan(), c2.Scan())
}
