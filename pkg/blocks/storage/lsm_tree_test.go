package storage

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/blocks/optimization"
	"github.com/cuemby/blockengine/pkg/record"
)

func TestLSMTreeBasicPutGet(t *testing.T) {
	lsm := NewLSMTree("lsm-1")
	lsm.memtableSize = 100

	lsm.Put("key1", record.Record{"name": "Alice"})
	lsm.Put("key2", record.Record{"name": "Bob"})

	v, ok := lsm.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "Alice", v["name"])

	_, ok = lsm.Get("key3")
	assert.False(t, ok)
}

func TestLSMTreeMemtableFlush(t *testing.T) {
	lsm := NewLSMTree("lsm-2")
	lsm.memtableSize = 10

	for i := 0; i < 25; i++ {
		lsm.Put(keyN(i), record.Record{"n": i})
	}

	assert.Greater(t, lsm.flushCount, 0)
	for i := 0; i < 25; i++ {
		_, ok := lsm.Get(keyN(i))
		assert.True(t, ok, "key %d should remain readable after flush", i)
	}
}

func TestLSMTreeCompactionTriggered(t *testing.T) {
	lsm := NewLSMTree("lsm-3")
	lsm.memtableSize = 5
	lsm.level0CompactionTrigger = 3

	for i := 0; i < 50; i++ {
		lsm.Put(keyN(i), record.Record{"n": i})
	}
	lsm.flushMemtable()

	assert.Greater(t, lsm.compactionCount, 0)
}

func TestLSMTreeOverwriteKeepsLatest(t *testing.T) {
	lsm := NewLSMTree("lsm-4")
	lsm.memtableSize = 100

	lsm.Put("key1", record.Record{"version": 1})
	lsm.Put("key1", record.Record{"version": 2})

	v, ok := lsm.Get("key1")
	require.True(t, ok)
	assert.Equal(t, 2, v["version"])
}

func TestLSMTreeWriteAmplificationAtLeastOne(t *testing.T) {
	lsm := NewLSMTree("lsm-5")
	lsm.memtableSize = 10
	lsm.level0CompactionTrigger = 2

	for i := 0; i < 100; i++ {
		lsm.Put(keyN(i), record.Record{"n": i})
	}
	lsm.flushMemtable()

	assert.GreaterOrEqual(t, lsm.WriteAmplification(), 1.0)
}

func TestBloomFilterMembership(t *testing.T) {
	b := optimization.NewBloomFilterSized(100, 0.01)
	b.Insert("hello")
	b.Insert("world")

	assert.True(t, b.MightContain("hello"))
	assert.True(t, b.MightContain("world"))
}

func TestBloomFilterFalsePositiveRateBounded(t *testing.T) {
	n := 1000
	b := optimization.NewBloomFilterSized(n, 0.01)
	for i := 0; i < n; i++ {
		b.Insert(keyN(i))
	}

	falsePositives := 0
	testCount := 10000
	for i := n; i < n+testCount; i++ {
		if b.MightContain(keyN(i)) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(testCount)
	assert.Less(t, rate, 0.05)
}

func TestSSTableSortedLookup(t *testing.T) {
	sst := newSSTable([]lsmEntry{
		{Key: "c", Value: record.Record{"v": 3}},
		{Key: "a", Value: record.Record{"v": 1}},
		{Key: "b", Value: record.Record{"v": 2}},
	})

	v, ok := sst.lookup("a")
	require.True(t, ok)
	assert.Equal(t, 1, v["v"])

	_, ok = sst.lookup("d")
	assert.False(t, ok)
}

func TestLSMTreeExecuteRequiresKeyColumn(t *testing.T) {
	lsm := NewLSMTree("lsm-6")
	require.NoError(t, lsm.Initialize(map[string]any{"key_column": "id"}))

	ctx := &block.ExecutionContext{
		Context: context.Background(),
		Inputs: map[string]record.PortValue{
			"records": record.NewStream([]record.Record{
				{"id": "a", "v": 1},
				{"v": 2},
			}),
		},
		Metrics: block.NewMetricsRecorder(),
	}
	res, err := lsm.Execute(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Errors, 1, "record missing key column should surface as a non-fatal error")
}

func keyN(i int) string {
	return "key_" + strconv.Itoa(i)
}
