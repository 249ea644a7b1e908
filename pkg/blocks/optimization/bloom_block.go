package optimization

import (
	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

// BloomFilterBlock is the standalone Bloom filter block (spec §4.11
// Bloom): an explicitly sized bit array exposed as a Block, plus a
// ground-truth inserted-keys set used only to classify each query as a
// true/false positive/negative for the simulation's own metrics.
type BloomFilterBlock struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	numBits     int
	numHashFns  int

	filter       *BloomFilter
	insertedKeys map[string]struct{}

	checks         int
	truePositives  int
	falsePositives int
	trueNegatives  int
}

func NewBloomFilterBlock(id string) *BloomFilterBlock {
	b := &BloomFilterBlock{
		meta: block.Metadata{
			ID: id, Type: "bloom_filter", Name: "Bloom Filter",
			Category: "optimization", Version: "1.0.0",
			Description: "Probabilistic membership filter that avoids unnecessary reads.",
			Tags:        []string{"category:Optimization"},
		},
		metrics:      block.NewMetricsRecorder(),
		numBits:      10000,
		numHashFns:   7,
		insertedKeys: make(map[string]struct{}),
	}
	b.filter = NewBloomFilter(b.numBits, b.numHashFns)
	return b
}

func (b *BloomFilterBlock) Metadata() block.Metadata        { return b.meta }
func (b *BloomFilterBlock) Metrics() *block.MetricsRecorder { return b.metrics }

func (b *BloomFilterBlock) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "num_bits", Kind: "integer", Default: 10000},
		{Name: "num_hash_functions", Kind: "integer", Default: 7},
	}
}

func (b *BloomFilterBlock) Inputs() []port.Port {
	return []port.Port{
		{ID: "requests", Name: "Lookup Requests", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
	}
}

func (b *BloomFilterBlock) Outputs() []port.Port {
	return []port.Port{
		{ID: "filtered", Name: "Filtered Results", Dir: port.DirectionOutput, Type: port.DataTypeStream, Multiple: true},
	}
}

func (b *BloomFilterBlock) Initialize(params map[string]any) error {
	if v, ok := params["num_bits"]; ok {
		n, ok := toInt(v)
		if !ok || n < 64 || n > 1000000 {
			return block.InvalidParameter("num_bits must be an integer in [64, 1000000]")
		}
		b.numBits = n
	}
	if v, ok := params["num_hash_functions"]; ok {
		n, ok := toInt(v)
		if !ok || n < 1 || n > 20 {
			return block.InvalidParameter("num_hash_functions must be an integer in [1, 20]")
		}
		b.numHashFns = n
	}
	b.filter = NewBloomFilter(b.numBits, b.numHashFns)
	return nil
}

func (b *BloomFilterBlock) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["requests"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "requests input must be a Stream or Batch")
	}
	return v
}

// Insert adds key to both the filter and the ground-truth set.
func (b *BloomFilterBlock) Insert(key string) {
	b.insertedKeys[key] = struct{}{}
	b.filter.Insert(key)
}

// MightContain queries the filter and classifies the outcome against
// ground truth, returning the filter's own (possibly wrong) verdict.
func (b *BloomFilterBlock) MightContain(key string) bool {
	b.checks++
	hit := b.filter.MightContain(key)
	_, actuallyPresent := b.insertedKeys[key]

	switch {
	case hit && actuallyPresent:
		b.truePositives++
	case hit && !actuallyPresent:
		b.falsePositives++
	default:
		b.trueNegatives++
	}
	return hit
}

// FalsePositiveRate is false_positives / (false_positives + true_negatives) as a percentage.
func (b *BloomFilterBlock) FalsePositiveRate() float64 {
	negatives := b.falsePositives + b.trueNegatives
	if negatives == 0 {
		return 0
	}
	return float64(b.falsePositives) / float64(negatives) * 100
}

func (b *BloomFilterBlock) BitsUsed() int {
	used := 0
	for _, set := range b.filter.Bits {
		if set {
			used++
		}
	}
	return used
}

func (b *BloomFilterBlock) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("requests")
	if !ok {
		res.Outputs["filtered"] = record.NewStream(nil)
		return res, nil
	}

	var inserts, queries []record.Record
	for _, r := range pv.Records {
		op, _ := r.GetString("_op_type")
		if op == "INSERT" || op == "insert" {
			inserts = append(inserts, r)
		} else {
			queries = append(queries, r)
		}
	}

	var output []record.Record
	for _, r := range inserts {
		key, _ := r.GetString("_key")
		b.Insert(key)
		out := r.Clone()
		out["_bloom_hit"] = true
		output = append(output, out)
	}
	for _, r := range queries {
		key, _ := r.GetString("_key")
		hit := b.MightContain(key)
		out := r.Clone()
		out["_bloom_hit"] = hit
		output = append(output, out)
	}

	b.metrics.SetGauge("false_positive_rate", b.FalsePositiveRate())
	b.metrics.SetGauge("bits_used", float64(b.BitsUsed()))

	res.Outputs["filtered"] = record.NewStream(output)
	res.Metrics = b.metrics.Snapshot()
	res.Metrics["checks"] = float64(b.checks)
	res.Metrics["true_positives"] = float64(b.truePositives)
	res.Metrics["false_positives"] = float64(b.falsePositives)
	res.Metrics["true_negatives"] = float64(b.trueNegatives)
	return res, nil
}

type bloomFilterBlockState struct {
	NumBits      int
	NumHashFns   int
	Bits         []bool
	InsertedKeys []string
}

func (b *BloomFilterBlock) GetState() block.Snapshot {
	keys := make([]string, 0, len(b.insertedKeys))
	for k := range b.insertedKeys {
		keys = append(keys, k)
	}
	return marshalState(bloomFilterBlockState{
		NumBits: b.numBits, NumHashFns: b.numHashFns, Bits: b.filter.Bits, InsertedKeys: keys,
	})
}

func (b *BloomFilterBlock) SetState(s block.Snapshot) error {
	var st bloomFilterBlockState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	b.numBits, b.numHashFns = st.NumBits, st.NumHashFns
	b.filter = &BloomFilter{Bits: st.Bits, NumHashes: st.NumHashFns}
	b.insertedKeys = make(map[string]struct{}, len(st.InsertedKeys))
	for _, k := range st.InsertedKeys {
		b.insertedKeys[k] = struct{}{}
	}
	return nil
}
