package index

import (
	"hash/fnv"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

type hashEntry struct {
	Key any
	TID record.TupleId
}

// HashIndex is a chained hash index mapping key values to TupleIds,
// offering O(1) average point lookups but no range-scan support.
// Buckets double (and all entries rehash) when the load factor
// exceeds maxLoadFactor.
type HashIndex struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	initialBuckets int
	maxLoadFactor  float64
	keyColumn      string

	buckets        [][]hashEntry
	totalKeys      int
	collisionCount int
	rehashCount    int
	lookupCount    int
}

func NewHashIndex(id string) *HashIndex {
	const initial = 64
	return &HashIndex{
		meta: block.Metadata{
			ID: id, Type: "hash_index", Name: "Hash Index",
			Category: "index", Version: "1.0.0",
			Description: "Bucket-chained hash index for O(1) average point lookups.",
			Tags:        []string{"category:Index"},
		},
		metrics:        block.NewMetricsRecorder(),
		initialBuckets: initial,
		maxLoadFactor:  0.75,
		keyColumn:      "id",
		buckets:        make([][]hashEntry, initial),
	}
}

func (h *HashIndex) Metadata() block.Metadata        { return h.meta }
func (h *HashIndex) Metrics() *block.MetricsRecorder { return h.metrics }

func (h *HashIndex) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "initial_buckets", Kind: "integer", Default: 64},
		{Name: "max_load_factor", Kind: "number", Default: 0.75},
		{Name: "key_column", Kind: "string", Required: true, Default: "id"},
	}
}

func (h *HashIndex) Inputs() []port.Port {
	return []port.Port{
		{ID: "records", Name: "Records", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
	}
}

func (h *HashIndex) Outputs() []port.Port {
	return []port.Port{
		{ID: "indexed", Name: "Indexed", Dir: port.DirectionOutput, Type: port.DataTypeStream},
	}
}

func (h *HashIndex) Initialize(params map[string]any) error {
	if v, ok := params["initial_buckets"]; ok {
		n, ok := toInt(v)
		if !ok || n < 4 || n > 65536 {
			return block.InvalidParameter("initial_buckets must be an integer between 4 and 65536")
		}
		h.initialBuckets = n
		h.buckets = make([][]hashEntry, n)
	}
	if v, ok := params["max_load_factor"]; ok {
		f, ok := toFloat(v)
		if !ok || f < 0.1 || f > 2.0 {
			return block.InvalidParameter("max_load_factor must be a number between 0.1 and 2.0")
		}
		h.maxLoadFactor = f
	}
	if v, ok := params["key_column"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return block.InvalidParameter("key_column must be a non-empty string")
		}
		h.keyColumn = s
	}
	return nil
}

func (h *HashIndex) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["records"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "records input must be a Stream or Batch")
	}
	return v
}

func hashKey(key any) uint64 {
	h := fnv.New64a()
	h.Write([]byte(record.ValueToString(key)))
	return h.Sum64()
}

func (h *HashIndex) bucketIndex(key any) int {
	return int(hashKey(key) % uint64(len(h.buckets)))
}

// Insert adds key→tid, rehashing (doubling the bucket count) if the
// load factor afterward exceeds maxLoadFactor.
func (h *HashIndex) Insert(key any, tid record.TupleId) {
	idx := h.bucketIndex(key)
	if len(h.buckets[idx]) > 0 {
		h.collisionCount++
	}
	h.buckets[idx] = append(h.buckets[idx], hashEntry{Key: key, TID: tid})
	h.totalKeys++

	if h.LoadFactor() > h.maxLoadFactor {
		h.rehash()
	}
}

// Lookup returns the first TupleId stored for key.
func (h *HashIndex) Lookup(key any) (record.TupleId, bool) {
	h.lookupCount++
	idx := h.bucketIndex(key)
	for _, e := range h.buckets[idx] {
		if record.CompareValues(e.Key, key) == 0 {
			return e.TID, true
		}
	}
	return record.TupleId{}, false
}

// LoadFactor is total keys divided by bucket count.
func (h *HashIndex) LoadFactor() float64 {
	return float64(h.totalKeys) / float64(len(h.buckets))
}

// MaxChainLength is the longest bucket chain, an indicator of hash
// distribution quality.
func (h *HashIndex) MaxChainLength() int {
	max := 0
	for _, b := range h.buckets {
		if len(b) > max {
			max = len(b)
		}
	}
	return max
}

func (h *HashIndex) rehash() {
	newSize := len(h.buckets) * 2
	old := h.buckets
	h.buckets = make([][]hashEntry, newSize)
	for _, bucket := range old {
		for _, e := range bucket {
			idx := int(hashKey(e.Key) % uint64(newSize))
			h.buckets[idx] = append(h.buckets[idx], e)
		}
	}
	h.rehashCount++
}

func (h *HashIndex) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("records")
	if !ok {
		res.Outputs["indexed"] = record.NewStream(nil)
		return res, nil
	}

	for _, r := range pv.Records {
		key, present := r.Get(h.keyColumn)
		if !present {
			key = nil
		}
		pageID, _ := toInt(firstOr(r, "_page_id", 0))
		slotID, _ := toInt(firstOr(r, "_slot_id", 0))
		h.Insert(key, record.TupleId{PageID: pageID, SlotID: slotID})
	}

	h.metrics.SetGauge("total_keys", float64(h.totalKeys))
	h.metrics.SetGauge("bucket_count", float64(len(h.buckets)))
	h.metrics.SetGauge("load_factor", h.LoadFactor())
	h.metrics.SetGauge("lookups", float64(h.lookupCount))
	h.metrics.SetGauge("collisions", float64(h.collisionCount))
	h.metrics.SetGauge("rehashes", float64(h.rehashCount))
	h.metrics.SetGauge("max_chain_len", float64(h.MaxChainLength()))

	res.Outputs["indexed"] = record.NewStream(pv.Records)
	res.Metrics = h.metrics.Snapshot()
	return res, nil
}

type hashIndexState struct {
	InitialBuckets int
	MaxLoadFactor  float64
	KeyColumn      string
	Buckets        [][]hashEntry
	TotalKeys      int
	CollisionCount int
	RehashCount    int
	LookupCount    int
}

func (h *HashIndex) GetState() block.Snapshot {
	return marshalState(hashIndexState{
		InitialBuckets: h.initialBuckets, MaxLoadFactor: h.maxLoadFactor, KeyColumn: h.keyColumn,
		Buckets: h.buckets, TotalKeys: h.totalKeys, CollisionCount: h.collisionCount,
		RehashCount: h.rehashCount, LookupCount: h.lookupCount,
	})
}

func (h *HashIndex) SetState(s block.Snapshot) error {
	var st hashIndexState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	h.initialBuckets, h.maxLoadFactor, h.keyColumn = st.InitialBuckets, st.MaxLoadFactor, st.KeyColumn
	h.buckets = st.Buckets
	if h.buckets == nil {
		h.buckets = make([][]hashEntry, h.initialBuckets)
	}
	h.totalKeys, h.collisionCount, h.rehashCount, h.lookupCount = st.TotalKeys, st.CollisionCount, st.RehashCount, st.LookupCount
	return nil
}
