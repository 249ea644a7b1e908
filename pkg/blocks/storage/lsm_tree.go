package storage

import (
	"sort"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/blocks/optimization"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

// lsmEntry is one key/value pair inside a memtable or SSTable.
type lsmEntry struct {
	Key   string
	Value record.Record
}

// SSTable is an immutable, key-sorted run with a bloom filter for fast
// negative lookups (spec §4.3 SSTable).
type SSTable struct {
	Entries   []lsmEntry
	Bloom     *optimization.BloomFilter
	SizeBytes int
}

func newSSTable(entries []lsmEntry) *SSTable {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	bloom := optimization.NewBloomFilterSized(len(entries), 0.01)
	size := 0
	for _, e := range entries {
		bloom.Insert(e.Key)
		size += len(e.Key) + e.Value.JSONSize() + 16
	}
	return &SSTable{Entries: entries, Bloom: bloom, SizeBytes: size}
}

func (s *SSTable) lookup(key string) (record.Record, bool) {
	i := sort.Search(len(s.Entries), func(i int) bool { return s.Entries[i].Key >= key })
	if i < len(s.Entries) && s.Entries[i].Key == key {
		return s.Entries[i].Value, true
	}
	return nil, false
}

// LSMTree implements the log-structured merge-tree storage block (spec
// §4.3): writes buffer in a sorted memtable, flush to Level-0 SSTables,
// and compaction cascades sorted runs upward.
type LSMTree struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	memtableSize           int
	level0CompactionTrigger int
	sizeRatio              int
	keyColumn              string

	memtableKeys []string
	memtable     map[string]record.Record
	levels       [][]*SSTable

	flushCount           int
	compactionCount      int
	bloomTrueNegatives   int
	bloomFalsePositives  int
	totalBytesWritten    int
	userBytesWritten     int
}

func NewLSMTree(id string) *LSMTree {
	return &LSMTree{
		meta: block.Metadata{
			ID: id, Type: "lsm_tree", Name: "LSM Tree",
			Category: "storage", Version: "1.0.0",
			Description: "Log-structured merge-tree with memtable, SSTables, and compaction.",
			Tags:        []string{"category:Storage"},
		},
		metrics:                 block.NewMetricsRecorder(),
		memtableSize:            1000,
		level0CompactionTrigger: 4,
		sizeRatio:               10,
		keyColumn:               "id",
		memtable:                make(map[string]record.Record),
		levels:                  make([][]*SSTable, 4),
	}
}

func (l *LSMTree) Metadata() block.Metadata        { return l.meta }
func (l *LSMTree) Metrics() *block.MetricsRecorder { return l.metrics }

func (l *LSMTree) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "memtable_size", Kind: "integer", Default: 1000},
		{Name: "level0_compaction_trigger", Kind: "integer", Default: 4},
		{Name: "size_ratio", Kind: "integer", Default: 10},
		{Name: "key_column", Kind: "string", Required: true, Default: "id"},
	}
}

func (l *LSMTree) Inputs() []port.Port {
	return []port.Port{
		{ID: "records", Name: "Records", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
	}
}

func (l *LSMTree) Outputs() []port.Port {
	return []port.Port{
		{ID: "stored", Name: "Stored Records", Dir: port.DirectionOutput, Type: port.DataTypeStream, Multiple: true},
	}
}

func (l *LSMTree) Initialize(params map[string]any) error {
	if v, ok := params["memtable_size"]; ok {
		n, ok := toInt(v)
		if !ok || n < 10 || n > 100000 {
			return block.InvalidParameter("memtable_size must be an integer in [10, 100000]")
		}
		l.memtableSize = n
	}
	if v, ok := params["level0_compaction_trigger"]; ok {
		n, ok := toInt(v)
		if !ok || n < 2 || n > 20 {
			return block.InvalidParameter("level0_compaction_trigger must be an integer in [2, 20]")
		}
		l.level0CompactionTrigger = n
	}
	if v, ok := params["size_ratio"]; ok {
		n, ok := toInt(v)
		if !ok || n < 2 || n > 20 {
			return block.InvalidParameter("size_ratio must be an integer in [2, 20]")
		}
		l.sizeRatio = n
	}
	if v, ok := params["key_column"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return block.InvalidParameter("key_column must be a non-empty string")
		}
		l.keyColumn = s
	}
	return nil
}

func (l *LSMTree) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["records"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "records input must be a Stream or Batch")
	}
	return v
}

// Put inserts or overwrites key with rec in the memtable, flushing to
// Level 0 once the memtable reaches its configured size.
func (l *LSMTree) Put(key string, rec record.Record) {
	entrySize := len(key) + rec.JSONSize() + 16
	l.userBytesWritten += entrySize
	if _, exists := l.memtable[key]; !exists {
		l.memtableKeys = append(l.memtableKeys, key)
	}
	l.memtable[key] = rec

	if len(l.memtable) >= l.memtableSize {
		l.flushMemtable()
	}
}

// Get performs a point lookup: memtable first, then each level
// newest-SSTable-first, consulting each table's bloom filter before a
// binary search (spec §4.3 Read).
func (l *LSMTree) Get(key string) (record.Record, bool) {
	if v, ok := l.memtable[key]; ok {
		return v, true
	}
	for _, level := range l.levels {
		for i := len(level) - 1; i >= 0; i-- {
			sst := level[i]
			if !sst.Bloom.MightContain(key) {
				l.bloomTrueNegatives++
				continue
			}
			if v, ok := sst.lookup(key); ok {
				return v, true
			}
			l.bloomFalsePositives++
		}
	}
	return nil, false
}

func (l *LSMTree) flushMemtable() {
	if len(l.memtable) == 0 {
		return
	}
	entries := make([]lsmEntry, 0, len(l.memtable))
	for _, k := range l.memtableKeys {
		entries = append(entries, lsmEntry{Key: k, Value: l.memtable[k]})
	}
	l.memtable = make(map[string]record.Record)
	l.memtableKeys = nil

	sst := newSSTable(entries)
	l.totalBytesWritten += sst.SizeBytes
	l.levels[0] = append(l.levels[0], sst)
	l.flushCount++

	if len(l.levels[0]) >= l.level0CompactionTrigger {
		l.compactLevel(0)
	}
}

// compactLevel merges every SSTable at level into level+1: concatenate
// level before level+1, newest table first within each level,
// stable-sort by key, and dedup keeping the first occurrence — i.e. the
// most recently flushed version of a key wins, and level beats level+1
// for the same key (spec §9 Open Question resolution).
func (l *LSMTree) compactLevel(level int) {
	if level+1 >= len(l.levels) {
		l.levels = append(l.levels, nil)
	}

	var all []lsmEntry
	for i := len(l.levels[level]) - 1; i >= 0; i-- {
		all = append(all, l.levels[level][i].Entries...)
	}
	for i := len(l.levels[level+1]) - 1; i >= 0; i-- {
		all = append(all, l.levels[level+1][i].Entries...)
	}
	l.levels[level] = nil
	l.levels[level+1] = nil

	sort.SliceStable(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	deduped := all[:0]
	seen := make(map[string]bool, len(all))
	for _, e := range all {
		if !seen[e.Key] {
			seen[e.Key] = true
			deduped = append(deduped, e)
		}
	}

	sst := newSSTable(deduped)
	l.totalBytesWritten += sst.SizeBytes
	l.levels[level+1] = append(l.levels[level+1], sst)
	l.compactionCount++

	maxTables := l.level0CompactionTrigger
	for i := 0; i < level+1; i++ {
		maxTables *= l.sizeRatio
	}
	nextTotalEntries := 0
	for _, s := range l.levels[level+1] {
		nextTotalEntries += len(s.Entries)
	}
	if nextTotalEntries > maxTables*l.memtableSize {
		l.compactLevel(level + 1)
	}
}

func (l *LSMTree) TotalSSTables() int {
	total := 0
	for _, lvl := range l.levels {
		total += len(lvl)
	}
	return total
}

func (l *LSMTree) NonEmptyLevels() int {
	n := 0
	for _, lvl := range l.levels {
		if len(lvl) > 0 {
			n++
		}
	}
	return n
}

func (l *LSMTree) TotalEntries() int {
	total := len(l.memtable)
	for _, lvl := range l.levels {
		for _, s := range lvl {
			total += len(s.Entries)
		}
	}
	return total
}

// WriteAmplification returns total bytes physically written divided by
// user bytes requested, the core LSM cost metric (spec §4.3).
func (l *LSMTree) WriteAmplification() float64 {
	if l.userBytesWritten == 0 {
		return 1.0
	}
	return float64(l.totalBytesWritten) / float64(l.userBytesWritten)
}

func (l *LSMTree) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("records")
	if !ok {
		res.Outputs["stored"] = record.NewStream(nil)
		return res, nil
	}

	var stored []record.Record
	for _, r := range pv.Records {
		key, ok := r.GetString(l.keyColumn)
		if !ok {
			res.AddError("record missing key column " + l.keyColumn)
			continue
		}
		l.Put(key, r)
		l.metrics.IncCounter("records_written", 1)
		stored = append(stored, r)
	}

	l.flushMemtable()

	l.metrics.SetGauge("memtable_entries", float64(len(l.memtable)))
	l.metrics.SetGauge("total_sstables", float64(l.TotalSSTables()))
	l.metrics.SetGauge("level_count", float64(l.NonEmptyLevels()))
	l.metrics.SetGauge("bloom_true_negatives", float64(l.bloomTrueNegatives))
	l.metrics.SetGauge("bloom_false_positives", float64(l.bloomFalsePositives))
	l.metrics.SetGauge("write_amplification", l.WriteAmplification())

	res.Outputs["stored"] = record.NewStream(stored)
	res.Metrics = l.metrics.Snapshot()
	res.Metrics["flushes"] = float64(l.flushCount)
	res.Metrics["compactions"] = float64(l.compactionCount)
	return res, nil
}

type lsmTreeState struct {
	MemtableSize            int
	Level0CompactionTrigger int
	SizeRatio               int
	KeyColumn               string
	MemtableKeys            []string
	Memtable                map[string]record.Record
}

func (l *LSMTree) GetState() block.Snapshot {
	return marshalState(lsmTreeState{
		MemtableSize: l.memtableSize, Level0CompactionTrigger: l.level0CompactionTrigger,
		SizeRatio: l.sizeRatio, KeyColumn: l.keyColumn,
		MemtableKeys: l.memtableKeys, Memtable: l.memtable,
	})
}

func (l *LSMTree) SetState(s block.Snapshot) error {
	var st lsmTreeState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	l.memtableSize, l.level0CompactionTrigger, l.sizeRatio, l.keyColumn = st.MemtableSize, st.Level0CompactionTrigger, st.SizeRatio, st.KeyColumn
	l.memtableKeys, l.memtable = st.MemtableKeys, st.Memtable
	if l.memtable == nil {
		l.memtable = make(map[string]record.Record)
	}
	return nil
}
