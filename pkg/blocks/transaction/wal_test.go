package transaction

import (
	"context"
	"testing"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWALBasicAppend(t *testing.T) {
	w := NewWAL("wal1")
	lsn1 := w.Append(logInsert, 100)
	lsn2 := w.Append(logInsert, 200)

	assert.Equal(t, 1, lsn1)
	assert.Equal(t, 2, lsn2)
	assert.Equal(t, 2, w.LogEntryCount())
	assert.Greater(t, w.totalBytes, 0)
}

func TestWALFsyncInterval(t *testing.T) {
	w := NewWAL("wal2")
	w.fsyncInterval = 3

	for i := 0; i < 9; i++ {
		w.Append(logInsert, 50)
	}

	assert.Equal(t, 3, w.fsyncCount)
}

func TestWALCheckpointInterval(t *testing.T) {
	w := NewWAL("wal3")
	w.checkpointInterval = 10

	for i := 0; i < 20; i++ {
		w.Append(logInsert, 50)
	}

	assert.Greater(t, w.checkpointCount, 0)
	assert.Greater(t, w.lastCheckpointLSN, 0)
}

func TestWALLSNMonotonic(t *testing.T) {
	w := NewWAL("wal4")
	w.checkpointInterval = 1000

	prev := 0
	for i := 0; i < 100; i++ {
		lsn := w.Append(logInsert, 10)
		assert.Greater(t, lsn, prev)
		prev = lsn
	}
}

func TestWALInvalidFsyncInterval(t *testing.T) {
	w := NewWAL("wal5")
	err := w.Initialize(map[string]any{"fsync_interval": 0})
	assert.Error(t, err)
}

func TestWALInvalidCheckpointInterval(t *testing.T) {
	w := NewWAL("wal6")
	err := w.Initialize(map[string]any{"checkpoint_interval": 5})
	assert.Error(t, err)
}

func TestWALExecuteLogsRecordsAndCommit(t *testing.T) {
	w := NewWAL("wal7")
	require.NoError(t, w.Initialize(map[string]any{"fsync_interval": 5}))

	records := make([]record.Record, 0, 20)
	for i := 0; i < 20; i++ {
		records = append(records, record.Record{"id": i, "data": "value"})
	}

	ctx := &block.ExecutionContext{
		Context: context.Background(),
		Inputs: map[string]record.PortValue{
			"records": record.NewStream(records),
		},
		Metrics: block.NewMetricsRecorder(),
	}

	res, err := w.Execute(ctx)
	require.NoError(t, err)

	logged, ok := res.Outputs["logged"]
	require.True(t, ok)
	assert.Len(t, logged.Records, 20)
	for _, r := range logged.Records {
		_, hasLSN := r["_lsn"]
		assert.True(t, hasLSN)
	}
	assert.Greater(t, w.fsyncCount, 0)
}

func TestWALStateRoundTrip(t *testing.T) {
	w := NewWAL("wal8")
	w.Append(logInsert, 100)
	w.Append(logInsert, 200)
	w.Checkpoint()

	snap := w.GetState()

	restored := NewWAL("wal8")
	require.NoError(t, restored.SetState(snap))
	assert.Equal(t, w.LogEntryCount(), restored.LogEntryCount())
	assert.Equal(t, w.CurrentLSN(), restored.CurrentLSN())
	assert.Equal(t, w.lastCheckpointLSN, restored.lastCheckpointLSN)
}
