// Package workload generates streams of simulated database operations
// (INSERT, SELECT, UPDATE, DELETE) with configurable weights and key
// distributions, for feeding into entry-point blocks of a dataflow
// graph (spec §4.13).
package workload

import (
	"fmt"
	"math"

	"github.com/cuemby/blockengine/pkg/record"
)

// OperationType is a simulated database operation kind.
type OperationType string

const (
	OpInsert OperationType = "INSERT"
	OpSelect OperationType = "SELECT"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
)

// Distribution is a key access pattern strategy.
type Distribution string

const (
	DistributionUniform Distribution = "uniform"
	DistributionZipfian  Distribution = "zipfian"
	DistributionLatest   Distribution = "latest"
)

// OperationConfig pairs an operation type with its relative weight.
type OperationConfig struct {
	OpType OperationType `json:"op_type" yaml:"op_type"`
	Weight int           `json:"weight" yaml:"weight"`
}

// Config is the top-level workload generator configuration.
type Config struct {
	Operations   []OperationConfig `json:"operations" yaml:"operations"`
	Distribution Distribution      `json:"distribution" yaml:"distribution"`
	TotalOps     int               `json:"total_ops" yaml:"total_ops"`
	// Seed is the PRNG seed; 0 selects a fixed non-zero default seed
	// rather than true non-determinism, since this generator always
	// runs deterministically (see xorshift64 below).
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultConfig mirrors the mix a typical OLTP benchmark uses: mostly
// inserts and selects, fewer updates, rare deletes.
func DefaultConfig() Config {
	return Config{
		Operations: []OperationConfig{
			{OpType: OpInsert, Weight: 50},
			{OpType: OpSelect, Weight: 30},
			{OpType: OpUpdate, Weight: 15},
			{OpType: OpDelete, Weight: 5},
		},
		Distribution: DistributionUniform,
		TotalOps:     1000,
		Seed:         0,
	}
}

// Operation is a single generated database operation.
type Operation struct {
	Seq    int
	OpType OperationType
	Key    int
}

// ToRecord converts the operation into a Record suitable for feeding
// into a block's input port.
func (op Operation) ToRecord() record.Record {
	return record.Record{
		"_op_type": string(op.OpType),
		"_op_seq":  op.Seq,
		"id":       op.Key,
		"name":     fmt.Sprintf("user_%d", op.Key),
		"score":    float64((op.Key * 7) % 100),
	}
}

// rng is a minimal xorshift64 PRNG: no external dependency needed for
// a deterministic, seedable generator this small.
type rng struct {
	state uint64
}

func newRNG(seed uint64) *rng {
	if seed == 0 {
		seed = 0x853c49e6748fea9b
	}
	return &rng{state: seed}
}

func (r *rng) nextU64() uint64 {
	x := r.state
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	r.state = x
	return x
}

func (r *rng) nextN(n int) int {
	return int(r.nextU64() % uint64(n))
}

// Generate produces a sequence of operations from the config,
// deterministic for a given seed.
func Generate(cfg Config) []Operation {
	random := newRNG(cfg.Seed)

	opTable := buildOpTable(cfg.Operations)
	if len(opTable) == 0 {
		return nil
	}

	nextKey := 0
	ops := make([]Operation, 0, cfg.TotalOps)

	for seq := 0; seq < cfg.TotalOps; seq++ {
		opType := opTable[random.nextN(len(opTable))]

		var key int
		if opType == OpInsert {
			key = nextKey
			nextKey++
		} else if nextKey == 0 {
			k := nextKey
			nextKey++
			ops = append(ops, Operation{Seq: seq, OpType: OpInsert, Key: k})
			continue
		} else {
			key = pickKey(random, nextKey, cfg.Distribution)
		}

		ops = append(ops, Operation{Seq: seq, OpType: opType, Key: key})
	}

	return ops
}

// GenerateRecords runs Generate and converts every operation to a
// Record.
func GenerateRecords(cfg Config) []record.Record {
	ops := Generate(cfg)
	recs := make([]record.Record, len(ops))
	for i, op := range ops {
		recs[i] = op.ToRecord()
	}
	return recs
}

// Summarize counts operations by type.
func Summarize(ops []Operation) map[OperationType]int {
	counts := make(map[OperationType]int)
	for _, op := range ops {
		counts[op.OpType]++
	}
	return counts
}

func buildOpTable(configs []OperationConfig) []OperationType {
	table := make([]OperationType, 0)
	for _, c := range configs {
		for i := 0; i < c.Weight; i++ {
			table = append(table, c.OpType)
		}
	}
	return table
}

func pickKey(random *rng, keyCount int, dist Distribution) int {
	switch dist {
	case DistributionZipfian:
		return zipfianKey(random, keyCount)
	case DistributionLatest:
		return latestKey(random, keyCount)
	default:
		return random.nextN(keyCount)
	}
}

// zipfianKey biases heavily toward key 0 via a squared uniform draw.
func zipfianKey(random *rng, keyCount int) int {
	u := float64(random.nextU64()) / float64(math.MaxUint64)
	biased := u * u
	key := int(biased * float64(keyCount))
	if key > keyCount-1 {
		key = keyCount - 1
	}
	return key
}

// latestKey biases toward the highest (most recently inserted) key.
func latestKey(random *rng, keyCount int) int {
	u := float64(random.nextU64()) / float64(math.MaxUint64)
	offset := int(u * u * float64(keyCount))
	key := keyCount - 1 - offset
	if key < 0 {
		key = 0
	}
	return key
}
