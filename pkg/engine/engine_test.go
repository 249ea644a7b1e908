package engine

import (
	"context"
	"testing"

	"github.com/cuemby/blockengine/pkg/blocks/buffer"
	"github.com/cuemby/blockengine/pkg/blocks/index"
	"github.com/cuemby/blockengine/pkg/blocks/storage"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
	"github.com/cuemby/blockengine/pkg/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conn(id, srcBlock, srcPort, tgtBlock, tgtPort string) port.Connection {
	return port.NewConnection(id, srcBlock, srcPort, tgtBlock, tgtPort)
}

func generateRecords(n int) []record.Record {
	recs := make([]record.Record, n)
	for i := 0; i < n; i++ {
		recs[i] = record.Record{"id": int64(i), "name": "user", "score": float64(i*7 % 100)}
	}
	return recs
}

func TestSingleBlockExecution(t *testing.T) {
	e := New()
	e.AddBlock("heap", storage.NewHeapFile("heap"))
	e.SetEntryPoint("heap")
	require.NoError(t, e.InitializeBlock("heap", nil))

	input := map[DataBusKey]record.PortValue{
		{BlockID: "heap", PortID: "records"}: record.NewStream(generateRecords(100)),
	}
	result := e.Execute(context.Background(), input)
	assert.True(t, result.Success, "errors: %v", result.Errors)
	assert.Len(t, result.BlockMetrics, 1)
	assert.GreaterOrEqual(t, result.DurationMs, 0.0)
	assert.Greater(t, result.Metrics.TotalOperations, 0)
}

func TestTwoBlockPipeline(t *testing.T) {
	e := New()
	e.AddBlock("heap", storage.NewHeapFile("heap"))
	e.AddBlock("btree", index.NewBTreeIndex("btree"))
	e.AddConnection(conn("c1", "heap", "inserted", "btree", "records"))
	e.SetEntryPoint("heap")

	require.NoError(t, e.InitializeBlock("heap", nil))
	require.NoError(t, e.InitializeBlock("btree", nil))

	input := map[DataBusKey]record.PortValue{
		{BlockID: "heap", PortID: "records"}: record.NewStream(generateRecords(200)),
	}
	result := e.Execute(context.Background(), input)
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Len(t, result.BlockMetrics, 2)

	var totalPct float64
	for _, bm := range result.BlockMetrics {
		assert.GreaterOrEqual(t, bm.ExecutionTimeMs, 0.0)
		assert.NotEmpty(t, bm.Counters, "block %s should have counters", bm.BlockID)
		totalPct += bm.Percentage
	}
	assert.Greater(t, totalPct, 50.0, "total percentage suspiciously low")
}

func TestThreeBlockPipeline(t *testing.T) {
	e := New()
	e.AddBlock("heap", storage.NewHeapFile("heap"))
	e.AddBlock("btree", index.NewBTreeIndex("btree"))
	e.AddBlock("buf", buffer.NewLRUBuffer("buf"))

	e.AddConnection(conn("c1", "heap", "inserted", "btree", "records"))
	e.AddConnection(conn("c2", "heap", "inserted", "buf", "requests"))
	e.SetEntryPoint("heap")

	require.NoError(t, e.InitializeBlock("heap", nil))
	require.NoError(t, e.InitializeBlock("btree", nil))
	require.NoError(t, e.InitializeBlock("buf", nil))

	input := map[DataBusKey]record.PortValue{
		{BlockID: "heap", PortID: "records"}: record.NewStream(generateRecords(100)),
	}
	result := e.Execute(context.Background(), input)
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Len(t, result.BlockMetrics, 3)
}

func TestValidateDetectsCycle(t *testing.T) {
	e := New()
	e.AddBlock("a", storage.NewHeapFile("a"))
	e.AddBlock("b", storage.NewHeapFile("b"))
	e.AddConnection(conn("c1", "a", "inserted", "b", "records"))
	e.AddConnection(conn("c2", "b", "inserted", "a", "records"))
	e.SetEntryPoint("a")
	e.SetEntryPoint("b")

	assert.False(t, e.Validate().Valid)
}

func TestExecuteRejectsInvalidGraph(t *testing.T) {
	e := New()
	e.AddBlock("a", storage.NewHeapFile("a"))
	e.AddBlock("b", storage.NewHeapFile("b"))
	e.AddConnection(conn("c1", "a", "inserted", "b", "records"))
	e.AddConnection(conn("c2", "b", "inserted", "a", "records"))
	e.SetEntryPoint("a")
	e.SetEntryPoint("b")

	result := e.Execute(context.Background(), nil)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
}

func TestCancellationResetAtExecuteStart(t *testing.T) {
	e := New()
	e.AddBlock("heap", storage.NewHeapFile("heap"))
	e.SetEntryPoint("heap")
	require.NoError(t, e.InitializeBlock("heap", nil))

	e.Cancel()

	input := map[DataBusKey]record.PortValue{
		{BlockID: "heap", PortID: "records"}: record.NewStream(generateRecords(100)),
	}
	result := e.Execute(context.Background(), input)
	assert.True(t, result.Success, "cancellation flag is reset at the start of Execute")
}

func TestCancelHandle(t *testing.T) {
	e := New()
	e.AddBlock("heap", storage.NewHeapFile("heap"))
	e.SetEntryPoint("heap")
	require.NoError(t, e.InitializeBlock("heap", nil))

	assert.False(t, e.IsCancelled())
	e.Cancel()
	assert.True(t, e.IsCancelled())
}

func TestEngineWithWorkload(t *testing.T) {
	e := New()
	e.AddBlock("heap", storage.NewHeapFile("heap"))
	e.AddBlock("btree", index.NewBTreeIndex("btree"))
	e.AddConnection(conn("c1", "heap", "inserted", "btree", "records"))
	e.SetEntryPoint("heap")

	require.NoError(t, e.InitializeBlock("heap", nil))
	require.NoError(t, e.InitializeBlock("btree", nil))

	cfg := workload.DefaultConfig()
	cfg.TotalOps = 500
	cfg.Seed = 42
	records := workload.GenerateRecords(cfg)

	input := map[DataBusKey]record.PortValue{
		{BlockID: "heap", PortID: "records"}: record.NewStream(records),
	}
	result := e.Execute(context.Background(), input)
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Len(t, result.BlockMetrics, 2)
	assert.Greater(t, result.Metrics.Throughput, 0.0)
}

func TestEmptyEngine(t *testing.T) {
	e := New()
	result := e.Execute(context.Background(), nil)
	assert.True(t, result.Success)
	assert.Empty(t, result.BlockMetrics)
}

func TestBlockCount(t *testing.T) {
	e := New()
	assert.Equal(t, 0, e.BlockCount())
	e.AddBlock("a", storage.NewHeapFile("a"))
	assert.Equal(t, 1, e.BlockCount())
	e.AddBlock("b", index.NewBTreeIndex("b"))
	assert.Equal(t, 2, e.BlockCount())
}

func TestAutoDetectEntryPoints(t *testing.T) {
	e := New()
	e.AddBlock("heap", storage.NewHeapFile("heap"))
	e.AddBlock("btree", index.NewBTreeIndex("btree"))
	e.AddConnection(conn("c1", "heap", "inserted", "btree", "records"))

	e.AutoDetectEntryPoints()
	assert.Equal(t, []string{"heap"}, e.EntryPoints())
}
