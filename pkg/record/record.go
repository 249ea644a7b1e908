// Package record defines the single data unit that flows between blocks
// in the dataflow graph: an ordered, dynamically-typed field map plus the
// tagged-variant wrapper (PortValue) that carries collections of them
// across ports.
package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Record is a dynamic name to value map. Values are JSON-shaped: nil,
// bool, a number (int, int64 or float64), string, []any, or
// map[string]any; numbers come back as float64 after a JSON round trip.
// Fields whose name starts with "_" are system-reserved metadata such as
// _op_type and _key.
type Record map[string]any

// Clone returns a deep value-copy of r. Records are value-copied whenever
// they are routed through the graph; no two blocks may observe aliased
// mutations of the same underlying map.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// Get returns the value at key and whether it was present.
func (r Record) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// GetString returns the value at key coerced to its string form. This
// backs the "mixed types fall back to string form" comparison rule used
// throughout the index blocks.
func (r Record) GetString(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	return ValueToString(v), true
}

// ValueToString renders a dynamic value the way key comparisons and hash
// inputs need it: numbers in a stable decimal form, strings verbatim,
// everything else via its JSON encoding.
func ValueToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// CompareValues orders two dynamic values for key comparison: numbers
// numerically, strings lexicographically, mixed types fall back to
// string form (spec §4.5).
func CompareValues(a, b any) int {
	af, aIsNum := asFloat(a)
	bf, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := ValueToString(a), ValueToString(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// JSONSize returns the serialized byte length of r, used by storage
// blocks for page-capacity accounting.
func (r Record) JSONSize() int {
	b, err := json.Marshal(r)
	if err != nil {
		return 0
	}
	return len(b)
}

// SortedKeys returns r's field names in ascending order, for callers
// that need deterministic iteration (columnar projection, snapshotting).
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TupleId identifies a record's physical location as a (page, slot)
// pair. Used by storage blocks to return insertion locations and by
// index blocks to point back at storage.
type TupleId struct {
	PageID int `json:"page_id"`
	SlotID int `json:"slot_id"`
}

func (t TupleId) String() string {
	return fmt.Sprintf("%d:%d", t.PageID, t.SlotID)
}
