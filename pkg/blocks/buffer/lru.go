// Package buffer implements the buffer-pool algorithmic blocks: an LRU
// page cache and a CLOCK (second-chance) page cache (spec §4.7).
package buffer

import (
	"container/list"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

// LRUBuffer is a fixed-capacity page cache evicting the least recently
// used page on a miss. The LRU order is kept as a doubly linked list
// (front = least recent, back = most recent) with an index from
// page id to its list element for O(1) touch/evict.
type LRUBuffer struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	capacity int
	pageSize int

	order *list.List
	elems map[int]*list.Element

	hits, misses, evictions int
}

func NewLRUBuffer(id string) *LRUBuffer {
	return &LRUBuffer{
		meta: block.Metadata{
			ID: id, Type: "lru_buffer", Name: "LRU Buffer Pool",
			Category: "buffer", Version: "1.0.0",
			Description: "Fixed-size page cache with least-recently-used eviction.",
			Tags:        []string{"category:Buffer"},
		},
		metrics:  block.NewMetricsRecorder(),
		capacity: 1024,
		pageSize: 8192,
		order:    list.New(),
		elems:    make(map[int]*list.Element),
	}
}

func (b *LRUBuffer) Metadata() block.Metadata        { return b.meta }
func (b *LRUBuffer) Metrics() *block.MetricsRecorder { return b.metrics }

func (b *LRUBuffer) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "size", Kind: "integer", Default: 1024},
		{Name: "page_size", Kind: "integer", Default: 8192},
	}
}

func (b *LRUBuffer) Inputs() []port.Port {
	return []port.Port{
		{ID: "requests", Name: "Page Requests", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
	}
}

func (b *LRUBuffer) Outputs() []port.Port {
	return []port.Port{
		{ID: "pages", Name: "Served Pages", Dir: port.DirectionOutput, Type: port.DataTypeStream},
	}
}

func (b *LRUBuffer) Initialize(params map[string]any) error {
	if v, ok := params["size"]; ok {
		n, ok := toInt(v)
		if !ok || n < 1 || n > 1_000_000 {
			return block.InvalidParameter("size must be an integer between 1 and 1,000,000")
		}
		b.capacity = n
	}
	if v, ok := params["page_size"]; ok {
		n, ok := toInt(v)
		if !ok || n < 512 || n > 65536 {
			return block.InvalidParameter("page_size must be an integer between 512 and 65536")
		}
		b.pageSize = n
	}
	return nil
}

func (b *LRUBuffer) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["requests"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "requests input must be a Stream or Batch")
	}
	return v
}

// GetPage requests pageID, returning true on a cache hit.
func (b *LRUBuffer) GetPage(pageID int) bool {
	if el, ok := b.elems[pageID]; ok {
		b.order.MoveToBack(el)
		b.hits++
		return true
	}

	if b.order.Len() >= b.capacity {
		b.evict()
	}
	el := b.order.PushBack(pageID)
	b.elems[pageID] = el
	b.misses++
	return false
}

func (b *LRUBuffer) evict() {
	victim := b.order.Front()
	if victim == nil {
		return
	}
	b.order.Remove(victim)
	delete(b.elems, victim.Value.(int))
	b.evictions++
}

// CurrentSize is the number of pages presently cached.
func (b *LRUBuffer) CurrentSize() int { return b.order.Len() }

// HitRatePct is the cache hit rate as a percentage in [0, 100].
func (b *LRUBuffer) HitRatePct() float64 {
	total := b.hits + b.misses
	if total == 0 {
		return 0
	}
	return float64(b.hits) / float64(total) * 100
}

// MemoryUsed is the total simulated byte footprint of cached pages.
func (b *LRUBuffer) MemoryUsed() int { return b.order.Len() * b.pageSize }

func (b *LRUBuffer) Contains(pageID int) bool {
	_, ok := b.elems[pageID]
	return ok
}

func (b *LRUBuffer) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("requests")
	if !ok {
		res.Outputs["pages"] = record.NewStream(nil)
		return res, nil
	}

	out := make([]record.Record, 0, len(pv.Records))
	for _, r := range pv.Records {
		pageID, _ := toInt(firstOr(r, "_page_id", 0))
		hit := b.GetPage(pageID)

		clone := r.Clone()
		clone["_cache_hit"] = hit
		clone["_page_data_size"] = b.pageSize
		out = append(out, clone)
	}

	b.metrics.SetGauge("cache_hits", float64(b.hits))
	b.metrics.SetGauge("cache_misses", float64(b.misses))
	b.metrics.SetGauge("hit_rate_pct", b.HitRatePct())
	b.metrics.SetGauge("evictions", float64(b.evictions))
	b.metrics.SetGauge("current_size", float64(b.CurrentSize()))

	res.Outputs["pages"] = record.NewStream(out)
	res.Metrics = b.metrics.Snapshot()
	return res, nil
}

func firstOr(r record.Record, key string, def any) any {
	if v, ok := r.Get(key); ok {
		return v
	}
	return def
}

type lruBufferState struct {
	Capacity  int
	PageSize  int
	Order     []int
	Hits      int
	Misses    int
	Evictions int
}

func (b *LRUBuffer) GetState() block.Snapshot {
	order := make([]int, 0, b.order.Len())
	for el := b.order.Front(); el != nil; el = el.Next() {
		order = append(order, el.Value.(int))
	}
	return marshalState(lruBufferState{
		Capacity: b.capacity, PageSize: b.pageSize, Order: order,
		Hits: b.hits, Misses: b.misses, Evictions: b.evictions,
	})
}

func (b *LRUBuffer) SetState(s block.Snapshot) error {
	var st lruBufferState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	b.capacity, b.pageSize = st.Capacity, st.PageSize
	b.hits, b.misses, b.evictions = st.Hits, st.Misses, st.Evictions
	b.order = list.New()
	b.elems = make(map[int]*list.Element)
	for _, pageID := range st.Order {
		el := b.order.PushBack(pageID)
		b.elems[pageID] = el
	}
	return nil
}
