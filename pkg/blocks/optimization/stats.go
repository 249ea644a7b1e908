package optimization

import (
	"math"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

// StatsCollector implements the statistics-collector block (spec
// §4.11): stride-samples records at step ceil(1/sample_rate), and for
// each sampled record tracks a distinct-value set, min, max, null
// count, and a running row-width estimate over the key field.
type StatsCollector struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	column     string
	sampleRate float64
	stride     int

	seen         int
	sampled      int
	distinct     map[string]struct{}
	min, max     string
	haveBounds   bool
	nullCount    int
	widthTotal   int
}

func NewStatsCollector(id string) *StatsCollector {
	s := &StatsCollector{
		meta: block.Metadata{
			ID: id, Type: "statistics_collector", Name: "Statistics Collector",
			Category: "optimization", Version: "1.0.0",
			Description: "Stride-samples a stream to estimate cardinality, range, and row width.",
			Tags:        []string{"category:Optimization"},
		},
		metrics:    block.NewMetricsRecorder(),
		column:     "id",
		sampleRate: 1.0,
		distinct:   make(map[string]struct{}),
	}
	s.stride = s.computeStride()
	return s
}

func (s *StatsCollector) computeStride() int {
	if s.sampleRate <= 0 {
		return 1
	}
	return int(math.Ceil(1.0 / s.sampleRate))
}

func (s *StatsCollector) Metadata() block.Metadata        { return s.meta }
func (s *StatsCollector) Metrics() *block.MetricsRecorder { return s.metrics }

func (s *StatsCollector) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "column", Kind: "string", Required: true, Default: "id"},
		{Name: "sample_rate", Kind: "number", Default: 1.0},
	}
}

func (s *StatsCollector) Inputs() []port.Port {
	return []port.Port{
		{ID: "records", Name: "Records", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
	}
}

func (s *StatsCollector) Outputs() []port.Port {
	return []port.Port{
		{ID: "passthrough", Name: "Passthrough", Dir: port.DirectionOutput, Type: port.DataTypeStream},
	}
}

func (s *StatsCollector) Initialize(params map[string]any) error {
	if v, ok := params["column"]; ok {
		c, ok := v.(string)
		if !ok || c == "" {
			return block.InvalidParameter("column must be a non-empty string")
		}
		s.column = c
	}
	if v, ok := params["sample_rate"]; ok {
		r, ok := toFloat(v)
		if !ok || r <= 0 || r > 1 {
			return block.InvalidParameter("sample_rate must be a number in (0, 1]")
		}
		s.sampleRate = r
	}
	s.stride = s.computeStride()
	return nil
}

func (s *StatsCollector) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["records"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "records input must be a Stream or Batch")
	}
	return v
}

// Observe advances the stride counter and, when it lands on a sample
// boundary, folds rec's key-field value into the running statistics.
func (s *StatsCollector) Observe(rec record.Record) {
	s.seen++
	if s.stride < 1 {
		s.stride = 1
	}
	if s.seen%s.stride != 0 {
		return
	}
	s.sampled++

	v, present := rec.Get(s.column)
	if !present || v == nil {
		s.nullCount++
		s.widthTotal += rec.JSONSize()
		return
	}
	str := record.ValueToString(v)
	s.distinct[str] = struct{}{}
	if !s.haveBounds {
		s.min, s.max = str, str
		s.haveBounds = true
	} else {
		if str < s.min {
			s.min = str
		}
		if str > s.max {
			s.max = str
		}
	}
	s.widthTotal += rec.JSONSize()
}

// AvgRowWidth returns the running mean serialized-byte width across
// sampled records.
func (s *StatsCollector) AvgRowWidth() float64 {
	if s.sampled == 0 {
		return 0
	}
	return float64(s.widthTotal) / float64(s.sampled)
}

func (s *StatsCollector) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("records")
	if !ok {
		res.Outputs["passthrough"] = record.NewStream(nil)
		return res, nil
	}

	for _, r := range pv.Records {
		s.Observe(r)
	}

	s.metrics.SetGauge("sampled_count", float64(s.sampled))
	s.metrics.SetGauge("distinct_count", float64(len(s.distinct)))
	s.metrics.SetGauge("null_count", float64(s.nullCount))
	s.metrics.SetGauge("avg_row_width", s.AvgRowWidth())

	res.Outputs["passthrough"] = record.NewStream(pv.Records)
	res.Metrics = s.metrics.Snapshot()
	return res, nil
}

type statsCollectorState struct {
	Column     string
	SampleRate float64
	Seen       int
	Sampled    int
	Distinct   []string
	Min, Max   string
	HaveBounds bool
	NullCount  int
	WidthTotal int
}

func (s *StatsCollector) GetState() block.Snapshot {
	distinct := make([]string, 0, len(s.distinct))
	for v := range s.distinct {
		distinct = append(distinct, v)
	}
	return marshalState(statsCollectorState{
		Column: s.column, SampleRate: s.sampleRate, Seen: s.seen, Sampled: s.sampled,
		Distinct: distinct, Min: s.min, Max: s.max, HaveBounds: s.haveBounds,
		NullCount: s.nullCount, WidthTotal: s.widthTotal,
	})
}

func (s *StatsCollector) SetState(snap block.Snapshot) error {
	var st statsCollectorState
	if err := unmarshalState(snap, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	s.column, s.sampleRate, s.seen, s.sampled = st.Column, st.SampleRate, st.Seen, st.Sampled
	s.min, s.max, s.haveBounds, s.nullCount, s.widthTotal = st.Min, st.Max, st.HaveBounds, st.NullCount, st.WidthTotal
	s.distinct = make(map[string]struct{}, len(st.Distinct))
	for _, v := range st.Distinct {
		s.distinct[v] = struct{}{}
	}
	s.stride = s.computeStride()
	return nil
}
