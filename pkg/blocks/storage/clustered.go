package storage

import (
	"sort"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

// ClusteredPage holds records in cluster-key order plus the [low, high]
// key range that page currently covers.
type ClusteredPage struct {
	Records []record.Record
	LowKey  string
	HighKey string
}

// ClusteredStorage implements the clustered-file storage block (spec
// §4.4): records are kept sorted by a cluster key across pages, each
// page tracking the key range it covers so a point insert can binary
// search page metadata before splitting a full page.
type ClusteredStorage struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	pageSize   int
	clusterKey string

	pages []*ClusteredPage
	splits int
}

func NewClusteredStorage(id string) *ClusteredStorage {
	return &ClusteredStorage{
		meta: block.Metadata{
			ID: id, Type: "clustered_storage", Name: "Clustered Storage",
			Category: "storage", Version: "1.0.0",
			Description: "Records kept sorted by a cluster key across pages, split on overflow.",
			Tags:        []string{"category:Storage"},
		},
		metrics:    block.NewMetricsRecorder(),
		pageSize:   100,
		clusterKey: "id",
	}
}

func (c *ClusteredStorage) Metadata() block.Metadata        { return c.meta }
func (c *ClusteredStorage) Metrics() *block.MetricsRecorder { return c.metrics }

func (c *ClusteredStorage) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "page_size", Kind: "integer", Default: 100},
		{Name: "cluster_key", Kind: "string", Required: true, Default: "id"},
	}
}

func (c *ClusteredStorage) Inputs() []port.Port {
	return []port.Port{
		{ID: "records", Name: "Records", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
	}
}

func (c *ClusteredStorage) Outputs() []port.Port {
	return []port.Port{
		{ID: "inserted", Name: "Inserted", Dir: port.DirectionOutput, Type: port.DataTypeStream},
	}
}

func (c *ClusteredStorage) Initialize(params map[string]any) error {
	if v, ok := params["page_size"]; ok {
		n, ok := toInt(v)
		if !ok || n < 2 {
			return block.InvalidParameter("page_size must be an integer >= 2")
		}
		c.pageSize = n
	}
	if v, ok := params["cluster_key"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return block.InvalidParameter("cluster_key must be a non-empty string")
		}
		c.clusterKey = s
	}
	return nil
}

func (c *ClusteredStorage) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["records"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "records input must be a Stream or Batch")
	}
	return v
}

// pageFor returns the index of the page whose range should hold key,
// found via binary search over page high keys.
func (c *ClusteredStorage) pageFor(key string) int {
	i := sort.Search(len(c.pages), func(i int) bool { return c.pages[i].HighKey >= key })
	if i >= len(c.pages) {
		return len(c.pages) - 1
	}
	return i
}

// Insert places rec in cluster-key order, splitting the target page in
// half when it overflows pageSize (spec §4.4 Clustered).
func (c *ClusteredStorage) Insert(rec record.Record) {
	key, _ := rec.GetString(c.clusterKey)

	if len(c.pages) == 0 {
		c.pages = append(c.pages, &ClusteredPage{Records: []record.Record{rec}, LowKey: key, HighKey: key})
		return
	}

	pi := c.pageFor(key)
	p := c.pages[pi]

	idx := sort.Search(len(p.Records), func(i int) bool {
		k, _ := p.Records[i].GetString(c.clusterKey)
		return k >= key
	})
	p.Records = append(p.Records, nil)
	copy(p.Records[idx+1:], p.Records[idx:])
	p.Records[idx] = rec

	if key < p.LowKey {
		p.LowKey = key
	}
	if key > p.HighKey {
		p.HighKey = key
	}

	if len(p.Records) > c.pageSize {
		c.splitPage(pi)
	}
}

func (c *ClusteredStorage) splitPage(pi int) {
	p := c.pages[pi]
	mid := len(p.Records) / 2
	left := p.Records[:mid]
	right := p.Records[mid:]

	leftLow, _ := left[0].GetString(c.clusterKey)
	leftHigh, _ := left[len(left)-1].GetString(c.clusterKey)
	rightLow, _ := right[0].GetString(c.clusterKey)
	rightHigh, _ := right[len(right)-1].GetString(c.clusterKey)

	newLeft := &ClusteredPage{Records: append([]record.Record(nil), left...), LowKey: leftLow, HighKey: leftHigh}
	newRight := &ClusteredPage{Records: append([]record.Record(nil), right...), LowKey: rightLow, HighKey: rightHigh}

	c.pages = append(c.pages, nil)
	copy(c.pages[pi+2:], c.pages[pi+1:])
	c.pages[pi] = newLeft
	c.pages[pi+1] = newRight
	c.splits++
}

// Scan returns every record in cluster-key order across all pages.
func (c *ClusteredStorage) Scan() []record.Record {
	var out []record.Record
	for _, p := range c.pages {
		out = append(out, p.Records...)
	}
	return out
}

func (c *ClusteredStorage) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()
	if pv, ok := ctx.Input("records"); ok {
		for _, r := range pv.Records {
			c.Insert(r.Clone())
		}
	}
	c.metrics.SetGauge("total_pages", float64(len(c.pages)))
	c.metrics.IncCounter("splits", 0)
	c.metrics.SetGauge("splits_total", float64(c.splits))
	res.Outputs["inserted"] = record.NewStream(c.Scan())
	res.Metrics = c.metrics.Snapshot()
	return res, nil
}

type clusteredStorageState struct {
	PageSize   int
	ClusterKey string
	Pages      []*ClusteredPage
	Splits     int
}

func (c *ClusteredStorage) GetState() block.Snapshot {
	return marshalState(clusteredStorageState{
		PageSize: c.pageSize, ClusterKey: c.clusterKey, Pages: c.pages, Splits: c.splits,
	})
}

func (c *ClusteredStorage) SetState(s block.Snapshot) error {
	var st clusteredStorageState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	c.pageSize, c.clusterKey, c.pages, c.splits = st.PageSize, st.ClusterKey, st.Pages, st.Splits
	return nil
}
