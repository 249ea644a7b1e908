// Package partitioning implements the hash partitioning block (spec
// §4.12): distributing records across partitions by hashing a key, the
// technique every distributed database (Cassandra, DynamoDB,
// CockroachDB) uses to spread data across nodes.
package partitioning

import (
	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

// HashPartitioner assigns records to one of numPartitions buckets by
// mixing the record's `_key` field with a Murmur3-style finalizer and
// taking it modulo the partition count.
type HashPartitioner struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	numPartitions int

	partitionCounts    []int
	recordsPartitioned int
}

func NewHashPartitioner(id string) *HashPartitioner {
	return &HashPartitioner{
		meta: block.Metadata{
			ID: id, Type: "hash_partitioner", Name: "Hash Partitioner",
			Category: "partitioning", Version: "1.0.0",
			Description: "Distributes records across partitions by hashing a key",
			Tags:        []string{"category:Partitioning"},
		},
		metrics:         block.NewMetricsRecorder(),
		numPartitions:   4,
		partitionCounts: make([]int, 4),
	}
}

func (h *HashPartitioner) Metadata() block.Metadata        { return h.meta }
func (h *HashPartitioner) Metrics() *block.MetricsRecorder { return h.metrics }

func (h *HashPartitioner) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "num_partitions", Kind: "integer", Default: 4},
	}
}

func (h *HashPartitioner) Inputs() []port.Port {
	return []port.Port{
		{ID: "records", Name: "Records", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true,
			Description: "Records to partition. Uses `_key` field as the partition key."},
	}
}

func (h *HashPartitioner) Outputs() []port.Port {
	return []port.Port{
		{ID: "partitioned", Name: "Partitioned Records", Dir: port.DirectionOutput, Type: port.DataTypeStream,
			Description: "Records enriched with `_partition_id` field"},
	}
}

func (h *HashPartitioner) Initialize(params map[string]any) error {
	if v, ok := params["num_partitions"]; ok {
		n, ok := toInt(v)
		if !ok || n < 2 {
			return block.InvalidParameter("num_partitions must be an integer of at least 2")
		}
		h.numPartitions = n
		h.partitionCounts = make([]int, n)
	}
	return nil
}

func (h *HashPartitioner) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["records"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "records port expects Stream or Batch")
	}
	return v
}

// hashKey mixes key with a Murmur3-style finalizer and reduces it
// modulo the partition count.
func (h *HashPartitioner) hashKey(key uint64) int {
	x := key
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return int(x % uint64(h.numPartitions))
}

func (h *HashPartitioner) hottestPartitionPct() float64 {
	if h.recordsPartitioned == 0 {
		return 0
	}
	max := 0
	for _, c := range h.partitionCounts {
		if c > max {
			max = c
		}
	}
	return float64(max) / float64(h.recordsPartitioned) * 100
}

func (h *HashPartitioner) evennessScore() float64 {
	if h.recordsPartitioned == 0 || h.numPartitions == 0 {
		return 100
	}
	ideal := float64(h.recordsPartitioned) / float64(h.numPartitions)
	totalDeviation := 0.0
	for _, c := range h.partitionCounts {
		d := float64(c) - ideal
		if d < 0 {
			d = -d
		}
		totalDeviation += d
	}
	maxDeviation := float64(h.recordsPartitioned) * 2
	return (1 - totalDeviation/maxDeviation) * 100
}

func (h *HashPartitioner) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("records")
	if !ok {
		res.Outputs["partitioned"] = record.NewStream(nil)
		return res, nil
	}

	output := make([]record.Record, 0, len(pv.Records))
	for _, r := range pv.Records {
		key, _ := toInt(firstOr(r, "_key", 0))
		partition := h.hashKey(uint64(key))

		h.partitionCounts[partition]++
		h.recordsPartitioned++
		h.metrics.IncCounter("records_partitioned", 1)

		out := r.Clone()
		out["_partition_id"] = partition
		output = append(output, out)
	}

	partitionsUsed := 0
	for _, c := range h.partitionCounts {
		if c > 0 {
			partitionsUsed++
		}
	}

	h.metrics.SetGauge("partitions_used", float64(partitionsUsed))
	h.metrics.SetGauge("hottest_partition_pct", h.hottestPartitionPct())
	h.metrics.SetGauge("evenness_score", h.evennessScore())

	res.Outputs["partitioned"] = record.NewStream(output)
	res.Metrics = h.metrics.Snapshot()
	return res, nil
}

func firstOr(r record.Record, key string, def any) any {
	if v, ok := r.Get(key); ok {
		return v
	}
	return def
}

type hashPartitionerState struct {
	NumPartitions      int
	PartitionCounts    []int
	RecordsPartitioned int
}

func (h *HashPartitioner) GetState() block.Snapshot {
	return marshalState(hashPartitionerState{
		NumPartitions: h.numPartitions, PartitionCounts: h.partitionCounts,
		RecordsPartitioned: h.recordsPartitioned,
	})
}

func (h *HashPartitioner) SetState(s block.Snapshot) error {
	var st hashPartitionerState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	h.numPartitions, h.recordsPartitioned = st.NumPartitions, st.RecordsPartitioned
	h.partitionCounts = st.PartitionCounts
	if h.partitionCounts == nil {
		h.partitionCounts = make([]int, h.numPartitions)
	}
	return nil
}
