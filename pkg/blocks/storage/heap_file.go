// Package storage implements the storage-layer algorithmic blocks: heap
// file, LSM tree, clustered storage, and columnar storage (spec §4.2–§4.4).
package storage

import (
	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

const (
	slotHeaderBytes = 16
	pageOverhead    = 24
)

// HeapSlot is one slotted-page entry: the stored record, whether it has
// been soft-deleted, and its cached serialized size.
type HeapSlot struct {
	Rec    record.Record
	IsDead bool
	Size   int
}

// HeapPage is an ordered list of slots plus a running used-bytes count.
type HeapPage struct {
	Slots     []HeapSlot
	UsedBytes int
}

// HeapFile implements the slotted-page heap file block (spec §4.2).
type HeapFile struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	pageSize   int
	fillFactor float64

	pages []HeapPage
}

// NewHeapFile constructs an uninitialized heap file block.
func NewHeapFile(id string) *HeapFile {
	return &HeapFile{
		meta: block.Metadata{
			ID: id, Type: "heap_file", Name: "Heap File",
			Category: "storage", Version: "1.0.0",
			Description: "Slotted-page heap file with soft deletes and a free-space scan.",
			Tags:        []string{"category:Storage"},
		},
		metrics:    block.NewMetricsRecorder(),
		pageSize:   4096,
		fillFactor: 0.9,
	}
}

func (h *HeapFile) Metadata() block.Metadata       { return h.meta }
func (h *HeapFile) Metrics() *block.MetricsRecorder { return h.metrics }

func (h *HeapFile) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "page_size", Kind: "integer", Default: 4096},
		{Name: "fill_factor", Kind: "number", Default: 0.9},
	}
}

func (h *HeapFile) Inputs() []port.Port {
	return []port.Port{
		{ID: "records", Name: "Records", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
		{ID: "deletes", Name: "Deletes", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: false},
	}
}

func (h *HeapFile) Outputs() []port.Port {
	return []port.Port{
		{ID: "inserted", Name: "Inserted", Dir: port.DirectionOutput, Type: port.DataTypeStream},
		{ID: "scanned", Name: "Scanned", Dir: port.DirectionOutput, Type: port.DataTypeStream},
	}
}

func (h *HeapFile) Initialize(params map[string]any) error {
	if v, ok := params["page_size"]; ok {
		ps, ok := toInt(v)
		if !ok || ps <= pageOverhead {
			return block.InvalidParameter("page_size must be an integer greater than %d", pageOverhead)
		}
		h.pageSize = ps
	}
	if v, ok := params["fill_factor"]; ok {
		ff, ok := toFloat(v)
		if !ok || ff < 0.1 || ff > 1.0 {
			return block.InvalidParameter("fill_factor must be a number in [0.1, 1.0]")
		}
		h.fillFactor = ff
	}
	return nil
}

func (h *HeapFile) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["records"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "records input must be a Stream or Batch")
	}
	return v
}

func (h *HeapFile) capacity() int {
	return int(float64(h.pageSize-pageOverhead) * h.fillFactor)
}

// Insert finds the first page with room for rec and appends it,
// allocating a new page at the tail if none fits (spec §4.2 Insert).
func (h *HeapFile) Insert(rec record.Record) record.TupleId {
	size := rec.JSONSize() + slotHeaderBytes
	cap := h.capacity()

	for pi := range h.pages {
		p := &h.pages[pi]
		if p.UsedBytes+size <= cap {
			slotIdx := len(p.Slots)
			p.Slots = append(p.Slots, HeapSlot{Rec: rec.Clone(), Size: size})
			p.UsedBytes += size
			h.metrics.IncCounter("total_live_records", 1)
			return record.TupleId{PageID: pi, SlotID: slotIdx}
		}
	}

	h.pages = append(h.pages, HeapPage{
		Slots:     []HeapSlot{{Rec: rec.Clone(), Size: size}},
		UsedBytes: size,
	})
	h.metrics.IncCounter("total_live_records", 1)
	return record.TupleId{PageID: len(h.pages) - 1, SlotID: 0}
}

// Get returns the record at tid, if live.
func (h *HeapFile) Get(tid record.TupleId) (record.Record, bool) {
	if tid.PageID < 0 || tid.PageID >= len(h.pages) {
		return nil, false
	}
	p := &h.pages[tid.PageID]
	if tid.SlotID < 0 || tid.SlotID >= len(p.Slots) {
		return nil, false
	}
	s := p.Slots[tid.SlotID]
	if s.IsDead {
		return nil, false
	}
	return s.Rec, true
}

// Delete soft-deletes the slot at tid; space is not reclaimed (spec
// §4.2 Soft delete). Returns whether anything changed.
func (h *HeapFile) Delete(tid record.TupleId) bool {
	if tid.PageID < 0 || tid.PageID >= len(h.pages) {
		return false
	}
	p := &h.pages[tid.PageID]
	if tid.SlotID < 0 || tid.SlotID >= len(p.Slots) {
		return false
	}
	if p.Slots[tid.SlotID].IsDead {
		return false
	}
	p.Slots[tid.SlotID].IsDead = true
	h.metrics.IncCounter("total_live_records", -1)
	h.metrics.IncCounter("total_dead_slots", 1)
	return true
}

// ScanEntry is one live record yielded by Scan, paired with its TupleId.
type ScanEntry struct {
	TID record.TupleId
	Rec record.Record
}

// Scan enumerates all live records in insertion order across pages
// (spec §4.2 Scan).
func (h *HeapFile) Scan() []ScanEntry {
	var out []ScanEntry
	for pi := range h.pages {
		for si, s := range h.pages[pi].Slots {
			if !s.IsDead {
				out = append(out, ScanEntry{TID: record.TupleId{PageID: pi, SlotID: si}, Rec: s.Rec})
			}
		}
	}
	return out
}

// Fragmentation returns dead_slots / total_slots * 100 (spec §4.2).
func (h *HeapFile) Fragmentation() float64 {
	total, dead := 0, 0
	for _, p := range h.pages {
		for _, s := range p.Slots {
			total++
			if s.IsDead {
				dead++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(dead) / float64(total) * 100
}

func (h *HeapFile) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	if pv, ok := ctx.Input("records"); ok {
		var inserted []record.Record
		for _, r := range pv.Records {
			tid := h.Insert(r)
			out := r.Clone()
			out["_page_id"] = tid.PageID
			out["_slot_id"] = tid.SlotID
			inserted = append(inserted, out)
		}
		res.Outputs["inserted"] = record.NewStream(inserted)
	}

	if pv, ok := ctx.Input("deletes"); ok {
		for _, r := range pv.Records {
			pid, _ := toInt(r["_page_id"])
			sid, _ := toInt(r["_slot_id"])
			if !h.Delete(record.TupleId{PageID: pid, SlotID: sid}) {
				res.AddError("delete target not live or out of range")
			}
		}
	}

	var scanned []record.Record
	for _, e := range h.Scan() {
		out := e.Rec.Clone()
		out["_page_id"] = e.TID.PageID
		out["_slot_id"] = e.TID.SlotID
		scanned = append(scanned, out)
	}
	res.Outputs["scanned"] = record.NewStream(scanned)
	h.metrics.SetGauge("fragmentation_pct", h.Fragmentation())
	res.Metrics = h.metrics.Snapshot()
	return res, nil
}

// heapFileState is the JSON-serializable snapshot shape for GetState/SetState.
type heapFileState struct {
	PageSize   int
	FillFactor float64
	Pages      []HeapPage
}

func (h *HeapFile) GetState() block.Snapshot {
	return marshalState(heapFileState{
		PageSize: h.pageSize, FillFactor: h.fillFactor, Pages: h.pages,
	})
}

func (h *HeapFile) SetState(s block.Snapshot) error {
	var st heapFileState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	h.pageSize, h.fillFactor, h.pages = st.PageSize, st.FillFactor, st.Pages
	return nil
}
