package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockengine/pkg/record"
)

func TestCoveringIndexBuildAndLookup(t *testing.T) {
	c := NewCoveringIndex("ci-1")
	require.NoError(t, c.Initialize(map[string]any{
		"key_column":       "id",
		"included_columns": "name, email",
	}))

	c.BuildIndex([]record.Record{
		{"id": "1", "name": "ada", "email": "ada@example.com", "age": 30},
		{"id": "2", "name": "grace", "email": "grace@example.com", "age": 40},
	})

	results := c.Lookup("1")
	require.Len(t, results, 1)
	assert.Equal(t, "ada", results[0]["name"])
	assert.Equal(t, "ada@example.com", results[0]["email"])
	assert.True(t, results[0]["_index_only"].(bool))
	_, hasAge := results[0]["age"]
	assert.False(t, hasAge, "non-included column must not appear in an index-only result")
}

func TestCoveringIndexLookupMissingKeyDoesNotCountAvoidedLookup(t *testing.T) {
	c := NewCoveringIndex("ci-2")
	c.BuildIndex([]record.Record{{"id": "1"}})

	results := c.Lookup("missing")
	assert.Empty(t, results)
	assert.Equal(t, 1, c.lookups)
	assert.Equal(t, 0, c.indexOnlyScans)
}

func TestCoveringIndexTracksTableLookupsAvoided(t *testing.T) {
	c := NewCoveringIndex("ci-3")
	c.BuildIndex([]record.Record{
		{"id": "1", "name": "a"},
		{"id": "1", "name": "b"},
	})
	c.Lookup("1")
	assert.Equal(t, 2, c.tableLookupsAvoided)
}

func TestCoveringIndexStateRoundTrip(t *testing.T) {
	c := NewCoveringIndex("ci-4")
	require.NoError(t, c.Initialize(map[string]any{"included_columns": "name"}))
	c.BuildIndex([]record.Record{{"id": "1", "name": "ada"}})

	snap := c.GetState()
	c2 := NewCoveringIndex("ci-4")
	require.NoError(t, c2.SetState(snap))

	results := c2.Lookup("1")
	require.Len(t, results, 1)
	assert.Equal(t, "ada", results[0]["name"])
}
