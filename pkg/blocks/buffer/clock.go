package buffer

import (
	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

type clockEntry struct {
	PageID       int
	ReferenceBit bool
}

// ClockBuffer is a fixed-size page cache using the CLOCK (second
// chance) eviction algorithm: a circular array of slots with a
// sweeping hand that clears reference bits before evicting the first
// unreferenced slot it finds.
type ClockBuffer struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	capacity int
	pageSize int

	slots     []*clockEntry
	pageMap   map[int]int
	clockHand int

	hits, misses, evictions, clockHandSweeps int
}

func NewClockBuffer(id string) *ClockBuffer {
	const capacity = 1024
	return &ClockBuffer{
		meta: block.Metadata{
			ID: id, Type: "clock_buffer", Name: "CLOCK Buffer Pool",
			Category: "buffer", Version: "1.0.0",
			Description: "Fixed-size page cache using second-chance (CLOCK) eviction.",
			Tags:        []string{"category:Buffer"},
		},
		metrics:  block.NewMetricsRecorder(),
		capacity: capacity,
		pageSize: 8192,
		slots:    make([]*clockEntry, capacity),
		pageMap:  make(map[int]int),
	}
}

func (c *ClockBuffer) Metadata() block.Metadata        { return c.meta }
func (c *ClockBuffer) Metrics() *block.MetricsRecorder { return c.metrics }

func (c *ClockBuffer) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "size", Kind: "integer", Default: 1024},
		{Name: "page_size", Kind: "integer", Default: 8192},
	}
}

func (c *ClockBuffer) Inputs() []port.Port {
	return []port.Port{
		{ID: "requests", Name: "Page Requests", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
	}
}

func (c *ClockBuffer) Outputs() []port.Port {
	return []port.Port{
		{ID: "pages", Name: "Served Pages", Dir: port.DirectionOutput, Type: port.DataTypeStream},
	}
}

func (c *ClockBuffer) Initialize(params map[string]any) error {
	if v, ok := params["size"]; ok {
		n, ok := toInt(v)
		if !ok || n < 1 || n > 1_000_000 {
			return block.InvalidParameter("size must be an integer between 1 and 1,000,000")
		}
		c.capacity = n
		c.slots = make([]*clockEntry, n)
		c.pageMap = make(map[int]int)
		c.clockHand = 0
	}
	if v, ok := params["page_size"]; ok {
		n, ok := toInt(v)
		if !ok || n < 512 || n > 65536 {
			return block.InvalidParameter("page_size must be an integer between 512 and 65536")
		}
		c.pageSize = n
	}
	return nil
}

func (c *ClockBuffer) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["requests"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "requests input must be a Stream or Batch")
	}
	return v
}

// GetPage requests pageID, returning true on a cache hit.
func (c *ClockBuffer) GetPage(pageID int) bool {
	if slot, ok := c.pageMap[pageID]; ok {
		c.slots[slot].ReferenceBit = true
		c.hits++
		return true
	}

	if len(c.pageMap) >= c.capacity {
		c.evictOne()
	}
	slot := c.findEmptySlot()
	c.slots[slot] = &clockEntry{PageID: pageID, ReferenceBit: true}
	c.pageMap[pageID] = slot
	c.misses++
	return false
}

func (c *ClockBuffer) evictOne() {
	n := len(c.slots)
	for {
		if e := c.slots[c.clockHand]; e != nil {
			if e.ReferenceBit {
				e.ReferenceBit = false
			} else {
				delete(c.pageMap, e.PageID)
				c.slots[c.clockHand] = nil
				c.evictions++
				c.advanceHand(n)
				return
			}
		}
		c.advanceHand(n)
	}
}

func (c *ClockBuffer) advanceHand(n int) {
	c.clockHand = (c.clockHand + 1) % n
	if c.clockHand == 0 {
		c.clockHandSweeps++
	}
}

func (c *ClockBuffer) findEmptySlot() int {
	for i, e := range c.slots {
		if e == nil {
			return i
		}
	}
	return 0
}

// CurrentSize is the number of pages presently cached.
func (c *ClockBuffer) CurrentSize() int { return len(c.pageMap) }

// HitRatePct is the cache hit rate as a percentage in [0, 100].
func (c *ClockBuffer) HitRatePct() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total) * 100
}

func (c *ClockBuffer) Contains(pageID int) bool {
	_, ok := c.pageMap[pageID]
	return ok
}

func (c *ClockBuffer) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("requests")
	if !ok {
		res.Outputs["pages"] = record.NewStream(nil)
		return res, nil
	}

	out := make([]record.Record, 0, len(pv.Records))
	for _, r := range pv.Records {
		pageID, _ := toInt(firstOr(r, "_page_id", 0))
		hit := c.GetPage(pageID)

		clone := r.Clone()
		clone["_cache_hit"] = hit
		clone["_page_data_size"] = c.pageSize
		out = append(out, clone)
	}

	c.metrics.SetGauge("cache_hits", float64(c.hits))
	c.metrics.SetGauge("cache_misses", float64(c.misses))
	c.metrics.SetGauge("hit_rate_pct", c.HitRatePct())
	c.metrics.SetGauge("evictions", float64(c.evictions))
	c.metrics.SetGauge("clock_hand_sweeps", float64(c.clockHandSweeps))
	c.metrics.SetGauge("current_size", float64(c.CurrentSize()))

	res.Outputs["pages"] = record.NewStream(out)
	res.Metrics = c.metrics.Snapshot()
	return res, nil
}

type clockSlotState struct {
	PageID       int
	ReferenceBit bool
	Empty        bool
}

type clockBufferState struct {
	Capacity        int
	PageSize        int
	Slots           []clockSlotState
	ClockHand       int
	Hits            int
	Misses          int
	Evictions       int
	ClockHandSweeps int
}

func (c *ClockBuffer) GetState() block.Snapshot {
	slots := make([]clockSlotState, len(c.slots))
	for i, e := range c.slots {
		if e == nil {
			slots[i] = clockSlotState{Empty: true}
			continue
		}
		slots[i] = clockSlotState{PageID: e.PageID, ReferenceBit: e.ReferenceBit}
	}
	return marshalState(clockBufferState{
		Capacity: c.capacity, PageSize: c.pageSize, Slots: slots, ClockHand: c.clockHand,
		Hits: c.hits, Misses: c.misses, Evictions: c.evictions, ClockHandSweeps: c.clockHandSweeps,
	})
}

func (c *ClockBuffer) SetState(s block.Snapshot) error {
	var st clockBufferState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	c.capacity, c.pageSize, c.clockHand = st.Capacity, st.PageSize, st.ClockHand
	c.hits, c.misses, c.evictions, c.clockHandSweeps = st.Hits, st.Misses, st.Evictions, st.ClockHandSweeps

	c.slots = make([]*clockEntry, len(st.Slots))
	c.pageMap = make(map[int]int)
	for i, s := range st.Slots {
		if s.Empty {
			continue
		}
		c.slots[i] = &clockEntry{PageID: s.PageID, ReferenceBit: s.ReferenceBit}
		c.pageMap[s.PageID] = i
	}
	return nil
}
