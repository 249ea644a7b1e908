package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockengine/pkg/record"
)

func TestColumnarStorageIngestAndProjectRoundTrip(t *testing.T) {
	c := NewColumnarStorage("col-1")

	c.Ingest(record.Record{"id": 1, "name": "Alice"})
	c.Ingest(record.Record{"id": 2, "name": "Bob"})

	rows := c.Project(nil)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0]["id"])
	assert.Equal(t, "Alice", rows[0]["name"])
	assert.Equal(t, "Bob", rows[1]["name"])
}

func TestColumnarStorageBackfillsNullForLateColumn(t *testing.T) {
	c := NewColumnarStorage("col-2")

	c.Ingest(record.Record{"id": 1})
	c.Ingest(record.Record{"id": 2, "extra": "new"})

	rows := c.Project(nil)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0]["extra"], "column discovered on row 2 must be null-backfilled for row 1")
	assert.Equal(t, "new", rows[1]["extra"])
}

func TestColumnarStorageMissingFieldIsNull(t *testing.T) {
	c := NewColumnarStorage("col-3")

	c.Ingest(record.Record{"id": 1, "name": "Alice"})
	c.Ingest(record.Record{"id": 2})

	rows := c.Project(nil)
	assert.Nil(t, rows[1]["name"])
}

func TestColumnarStorageCompressionRatio(t *testing.T) {
	c := NewColumnarStorage("col-4")

	for i := 0; i < 4; i++ {
		c.Ingest(record.Record{"status": "active"})
	}
	assert.InDelta(t, 4.0, c.CompressionRatio(), 0.001)
}

func TestColumnarStorageProjectSubset(t *testing.T) {
	c := NewColumnarStorage("col-5")
	c.Ingest(record.Record{"id": 1, "name": "Alice", "age": 30})

	rows := c.Project([]string{"name"})
	require.Len(t, rows, 1)
	_, hasID := rows[0]["id"]
	assert.False(t, hasID)
	assert.Equal(t, "Alice", rows[0]["name"])
}
