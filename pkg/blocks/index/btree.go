// Package index implements the index-category algorithmic blocks: a
// node-arena B-tree, a chained hash index, and a covering index (spec
// §4.5, §4.6).
package index

import (
	"sort"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

// btreeNode is either an internal node (Keys = separator keys, Children
// = node-arena indices, len(Children) = len(Keys)+1) or a leaf (Keys
// parallel to TupleIDs, NextLeaf chains leaves left-to-right for range
// scans; NextLeaf is -1 at the rightmost leaf).
type btreeNode struct {
	IsLeaf   bool
	Keys     []any
	Children []int
	TupleIDs []record.TupleId
	NextLeaf int
}

// BTreeIndex is a node-arena B-tree index mapping key values to
// TupleIds, supporting point lookups and ordered range scans.
type BTreeIndex struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	fanout    int
	keyColumn string
	unique    bool

	nodes           []*btreeNode
	root            int
	totalKeys       int
	splitCount      int
	comparisonCount int
	lookupCount     int
	rangeScanCount  int
}

func NewBTreeIndex(id string) *BTreeIndex {
	t := &BTreeIndex{
		meta: block.Metadata{
			ID: id, Type: "btree_index", Name: "B-Tree Index",
			Category: "index", Version: "1.0.0",
			Description: "Sorted, fanout-bounded tree index supporting point lookups and ordered range scans.",
			Tags:        []string{"category:Index"},
		},
		metrics:   block.NewMetricsRecorder(),
		fanout:    128,
		keyColumn: "id",
		nodes:     []*btreeNode{{IsLeaf: true, NextLeaf: -1}},
		root:      0,
	}
	return t
}

func (t *BTreeIndex) Metadata() block.Metadata        { return t.meta }
func (t *BTreeIndex) Metrics() *block.MetricsRecorder { return t.metrics }

func (t *BTreeIndex) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "fanout", Kind: "integer", Default: 128},
		{Name: "key_column", Kind: "string", Required: true, Default: "id"},
		{Name: "unique", Kind: "boolean", Default: false},
	}
}

func (t *BTreeIndex) Inputs() []port.Port {
	return []port.Port{
		{ID: "records", Name: "Records", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
	}
}

func (t *BTreeIndex) Outputs() []port.Port {
	return []port.Port{
		{ID: "indexed", Name: "Indexed", Dir: port.DirectionOutput, Type: port.DataTypeStream},
	}
}

func (t *BTreeIndex) Initialize(params map[string]any) error {
	if v, ok := params["fanout"]; ok {
		f, ok := toInt(v)
		if !ok || f < 3 || f > 1024 {
			return block.InvalidParameter("fanout must be an integer between 3 and 1024")
		}
		t.fanout = f
	}
	if v, ok := params["key_column"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return block.InvalidParameter("key_column must be a non-empty string")
		}
		t.keyColumn = s
	}
	if v, ok := params["unique"]; ok {
		b, ok := v.(bool)
		if !ok {
			return block.InvalidParameter("unique must be a boolean")
		}
		t.unique = b
	}
	return nil
}

func (t *BTreeIndex) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["records"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "records input must be a Stream or Batch")
	}
	return v
}

// Depth walks the leftmost spine from the root and returns the number
// of levels, leaf inclusive.
func (t *BTreeIndex) Depth() int {
	d := 1
	idx := t.root
	for {
		n := t.nodes[idx]
		if n.IsLeaf {
			return d
		}
		d++
		idx = n.Children[0]
	}
}

func (t *BTreeIndex) KeyCount() int { return t.totalKeys }

// Insert adds key→tid. It returns an error if unique is set and key
// already exists.
func (t *BTreeIndex) Insert(key any, tid record.TupleId) error {
	if t.unique {
		if _, found := t.Lookup(key); found {
			return block.ExecutionError("duplicate key: %v", key)
		}
	}

	median, newChild, split := t.insertRecursive(t.root, key, tid)
	if split {
		oldRoot := t.root
		newRoot := &btreeNode{
			IsLeaf:   false,
			Keys:     []any{median},
			Children: []int{oldRoot, newChild},
		}
		t.nodes = append(t.nodes, newRoot)
		t.root = len(t.nodes) - 1
		t.splitCount++
	}
	t.totalKeys++
	return nil
}

// insertRecursive inserts into the subtree rooted at nodeIdx, returning
// (medianKey, newNodeIdx, true) if the node split.
func (t *BTreeIndex) insertRecursive(nodeIdx int, key any, tid record.TupleId) (any, int, bool) {
	n := t.nodes[nodeIdx]

	if n.IsLeaf {
		pos := sort.Search(len(n.Keys), func(i int) bool {
			t.comparisonCount++
			return record.CompareValues(n.Keys[i], key) >= 0
		})
		n.Keys = insertAny(n.Keys, pos, key)
		n.TupleIDs = insertTID(n.TupleIDs, pos, tid)

		if len(n.Keys) <= t.fanout {
			return nil, 0, false
		}

		mid := len(n.Keys) / 2
		rightKeys := append([]any(nil), n.Keys[mid:]...)
		rightTIDs := append([]record.TupleId(nil), n.TupleIDs[mid:]...)
		median := rightKeys[0]

		newLeafIdx := len(t.nodes)
		oldNext := n.NextLeaf
		n.Keys = n.Keys[:mid]
		n.TupleIDs = n.TupleIDs[:mid]
		n.NextLeaf = newLeafIdx

		t.nodes = append(t.nodes, &btreeNode{
			IsLeaf: true, Keys: rightKeys, TupleIDs: rightTIDs, NextLeaf: oldNext,
		})
		t.splitCount++
		return median, newLeafIdx, true
	}

	childPos := len(n.Keys)
	for i, k := range n.Keys {
		t.comparisonCount++
		if record.CompareValues(key, k) < 0 {
			childPos = i
			break
		}
	}

	childIdx := n.Children[childPos]
	median, newChildIdx, split := t.insertRecursive(childIdx, key, tid)
	if !split {
		return nil, 0, false
	}

	n = t.nodes[nodeIdx]
	n.Keys = insertAny(n.Keys, childPos, median)
	n.Children = insertInt(n.Children, childPos+1, newChildIdx)

	if len(n.Keys) <= t.fanout {
		return nil, 0, false
	}

	mid := len(n.Keys) / 2
	upKey := n.Keys[mid]
	rightKeys := append([]any(nil), n.Keys[mid+1:]...)
	leftChildren := append([]int(nil), n.Children[:mid+1]...)
	rightChildren := append([]int(nil), n.Children[mid+1:]...)

	n.Keys = n.Keys[:mid]
	n.Children = leftChildren

	newInternalIdx := len(t.nodes)
	t.nodes = append(t.nodes, &btreeNode{IsLeaf: false, Keys: rightKeys, Children: rightChildren})
	t.splitCount++
	return upKey, newInternalIdx, true
}

// Lookup returns the first TupleId stored for key.
func (t *BTreeIndex) Lookup(key any) (record.TupleId, bool) {
	t.lookupCount++
	idx := t.root
	for {
		n := t.nodes[idx]
		if n.IsLeaf {
			for i, k := range n.Keys {
				t.comparisonCount++
				if record.CompareValues(k, key) == 0 {
					return n.TupleIDs[i], true
				}
			}
			return record.TupleId{}, false
		}
		childPos := len(n.Keys)
		for i, k := range n.Keys {
			t.comparisonCount++
			if record.CompareValues(key, k) < 0 {
				childPos = i
				break
			}
		}
		idx = n.Children[childPos]
	}
}

// RangeEntry is a single (key, TupleId) pair returned from RangeScan.
type RangeEntry struct {
	Key any
	TID record.TupleId
}

// RangeScan returns all entries with start <= key <= end, in key order.
func (t *BTreeIndex) RangeScan(start, end any) []RangeEntry {
	t.rangeScanCount++
	var results []RangeEntry

	idx := t.root
	for {
		n := t.nodes[idx]
		if n.IsLeaf {
			break
		}
		childPos := len(n.Keys)
		for i, k := range n.Keys {
			t.comparisonCount++
			if record.CompareValues(start, k) < 0 {
				childPos = i
				break
			}
		}
		idx = n.Children[childPos]
	}

	for idx != -1 {
		n := t.nodes[idx]
		for i, k := range n.Keys {
			t.comparisonCount++
			if record.CompareValues(k, start) < 0 {
				continue
			}
			if record.CompareValues(k, end) > 0 {
				return results
			}
			results = append(results, RangeEntry{Key: k, TID: n.TupleIDs[i]})
		}
		idx = n.NextLeaf
	}
	return results
}

func (t *BTreeIndex) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("records")
	if !ok {
		res.Outputs["indexed"] = record.NewStream(nil)
		return res, nil
	}

	indexed := make([]record.Record, 0, len(pv.Records))
	for _, r := range pv.Records {
		key, present := r.Get(t.keyColumn)
		if !present {
			key = nil
		}
		pageID, _ := toInt(firstOr(r, "_page_id", 0))
		slotID, _ := toInt(firstOr(r, "_slot_id", 0))

		if err := t.Insert(key, record.TupleId{PageID: pageID, SlotID: slotID}); err != nil {
			res.AddError(err.Error())
			continue
		}
		indexed = append(indexed, r)
	}

	t.metrics.SetGauge("tree_depth", float64(t.Depth()))
	t.metrics.SetGauge("total_keys", float64(t.totalKeys))
	t.metrics.SetGauge("splits", float64(t.splitCount))
	t.metrics.SetGauge("comparisons", float64(t.comparisonCount))

	res.Outputs["indexed"] = record.NewStream(indexed)
	res.Metrics = t.metrics.Snapshot()
	return res, nil
}

func firstOr(r record.Record, key string, def any) any {
	if v, ok := r.Get(key); ok {
		return v
	}
	return def
}

func insertAny(s []any, pos int, v any) []any {
	s = append(s, nil)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func insertTID(s []record.TupleId, pos int, v record.TupleId) []record.TupleId {
	s = append(s, record.TupleId{})
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func insertInt(s []int, pos int, v int) []int {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

type btreeSerialNode struct {
	IsLeaf   bool
	Keys     []any
	Children []int
	TupleIDs []record.TupleId
	NextLeaf int
}

type btreeIndexState struct {
	Fanout    int
	KeyColumn string
	Unique    bool
	Nodes     []btreeSerialNode
	Root      int
	TotalKeys int
}

// GetState persists the full node arena. (The original implementation
// this is ported from only persisted configuration and summary
// counters, dropping the tree on every restart; this port preserves
// the index contents like the other storage/index blocks in this
// package family.)
func (t *BTreeIndex) GetState() block.Snapshot {
	nodes := make([]btreeSerialNode, len(t.nodes))
	for i, n := range t.nodes {
		nodes[i] = btreeSerialNode{
			IsLeaf: n.IsLeaf, Keys: n.Keys, Children: n.Children,
			TupleIDs: n.TupleIDs, NextLeaf: n.NextLeaf,
		}
	}
	return marshalState(btreeIndexState{
		Fanout: t.fanout, KeyColumn: t.keyColumn, Unique: t.unique,
		Nodes: nodes, Root: t.root, TotalKeys: t.totalKeys,
	})
}

func (t *BTreeIndex) SetState(s block.Snapshot) error {
	var st btreeIndexState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	t.fanout, t.keyColumn, t.unique = st.Fanout, st.KeyColumn, st.Unique
	t.root, t.totalKeys = st.Root, st.TotalKeys
	t.nodes = make([]*btreeNode, len(st.Nodes))
	for i, n := range st.Nodes {
		t.nodes[i] = &btreeNode{
			IsLeaf: n.IsLeaf, Keys: n.Keys, Children: n.Children,
			TupleIDs: n.TupleIDs, NextLeaf: n.NextLeaf,
		}
	}
	if len(t.nodes) == 0 {
		t.nodes = []*btreeNode{{IsLeaf: true, NextLeaf: -1}}
	}
	return nil
}
