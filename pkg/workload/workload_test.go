package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigGeneratesOps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 42
	ops := Generate(cfg)
	assert.Len(t, ops, 1000)
}

func TestDeterministicWithSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 123
	cfg.TotalOps = 100

	ops1 := Generate(cfg)
	ops2 := Generate(cfg)

	for i := range ops1 {
		assert.Equal(t, ops1[i].OpType, ops2[i].OpType)
		assert.Equal(t, ops1[i].Key, ops2[i].Key)
	}
}

func TestInsertOnlyWorkload(t *testing.T) {
	cfg := Config{
		Operations:   []OperationConfig{{OpType: OpInsert, Weight: 100}},
		TotalOps:     50,
		Seed:         1,
		Distribution: DistributionUniform,
	}
	ops := Generate(cfg)
	assert.Len(t, ops, 50)
	for i, op := range ops {
		assert.Equal(t, OpInsert, op.OpType)
		assert.Equal(t, i, op.Key)
	}
}

func TestSelectOnlyForcesInitialInsert(t *testing.T) {
	cfg := Config{
		Operations:   []OperationConfig{{OpType: OpSelect, Weight: 100}},
		TotalOps:     10,
		Seed:         1,
		Distribution: DistributionUniform,
	}
	ops := Generate(cfg)
	assert.Equal(t, OpInsert, ops[0].OpType)
}

func TestOperationWeightsRespected(t *testing.T) {
	cfg := Config{
		Operations: []OperationConfig{
			{OpType: OpInsert, Weight: 100},
			{OpType: OpSelect, Weight: 0},
		},
		TotalOps:     200,
		Seed:         42,
		Distribution: DistributionUniform,
	}
	ops := Generate(cfg)
	summary := Summarize(ops)
	assert.Equal(t, 200, summary[OpInsert])
	assert.Equal(t, 0, summary[OpSelect])
}

func TestToRecordHasExpectedFields(t *testing.T) {
	op := Operation{Seq: 5, OpType: OpInsert, Key: 42}
	rec := op.ToRecord()
	assert.Contains(t, rec, "_op_type")
	assert.Contains(t, rec, "_op_seq")
	assert.Contains(t, rec, "id")
	assert.Contains(t, rec, "name")
	assert.Contains(t, rec, "score")
	assert.Equal(t, 42, rec["id"])
	assert.Equal(t, "INSERT", rec["_op_type"])
}

func TestGenerateRecords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TotalOps = 20
	cfg.Seed = 7
	recs := GenerateRecords(cfg)
	assert.Len(t, recs, 20)
	for _, r := range recs {
		assert.Contains(t, r, "id")
	}
}

func TestZipfianDistributionSkew(t *testing.T) {
	cfg := Config{
		Operations: []OperationConfig{
			{OpType: OpInsert, Weight: 10},
			{OpType: OpSelect, Weight: 90},
		},
		TotalOps:     10000,
		Seed:         42,
		Distribution: DistributionZipfian,
	}
	ops := Generate(cfg)

	key0Count := 0
	selectCount := 0
	for _, op := range ops {
		if op.OpType == OpSelect {
			selectCount++
			if op.Key == 0 {
				key0Count++
			}
		}
	}

	assert.Greater(t, key0Count, 50, "zipfian should heavily favor key 0, got %d / %d", key0Count, selectCount)
}

func TestLatestDistributionSkew(t *testing.T) {
	base := Config{
		Operations: []OperationConfig{
			{OpType: OpInsert, Weight: 10},
			{OpType: OpSelect, Weight: 90},
		},
		TotalOps:     5000,
		Seed:         42,
		Distribution: DistributionUniform,
	}

	uniformOps := Generate(base)
	uniformAvg := avgSelectKey(uniformOps)

	latest := base
	latest.Distribution = DistributionLatest
	latestOps := Generate(latest)
	latestAvg := avgSelectKey(latestOps)

	assert.Greater(t, latestAvg, uniformAvg,
		"latest avg %.1f should exceed uniform avg %.1f", latestAvg, uniformAvg)
}

func avgSelectKey(ops []Operation) float64 {
	sum, count := 0, 0
	for _, op := range ops {
		if op.OpType == OpSelect {
			sum += op.Key
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

func TestEmptyOperationsReturnsEmpty(t *testing.T) {
	cfg := Config{Operations: nil, TotalOps: 100, Seed: 1, Distribution: DistributionUniform}
	ops := Generate(cfg)
	assert.Empty(t, ops)
}

func TestSummarize(t *testing.T) {
	ops := []Operation{
		{Seq: 0, OpType: OpInsert, Key: 0},
		{Seq: 1, OpType: OpInsert, Key: 1},
		{Seq: 2, OpType: OpSelect, Key: 0},
		{Seq: 3, OpType: OpDelete, Key: 0},
	}
	summary := Summarize(ops)
	assert.Equal(t, 2, summary[OpInsert])
	assert.Equal(t, 1, summary[OpSelect])
	assert.Equal(t, 1, summary[OpDelete])
	assert.Equal(t, 0, summary[OpUpdate])
}
