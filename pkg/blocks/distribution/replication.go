// Package distribution implements the replication block (spec §4.12):
// simulated writes to multiple replicas under a configurable
// consistency level, the core trade-off behind the CAP theorem.
package distribution

import (
	"strings"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

type consistencyLevel int

const (
	consistencyOne consistencyLevel = iota
	consistencyQuorum
	consistencyAll
)

// Replication writes every incoming record to replicationFactor
// replicas and checks the ack count against the configured
// consistency level, without modeling actual replica failures.
type Replication struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	replicationFactor int
	consistency       consistencyLevel
	asyncReplication  bool

	writesReplicated     int
	acksReceived         int
	consistencyMet       int
	consistencyViolation int
}

func NewReplication(id string) *Replication {
	return &Replication{
		meta: block.Metadata{
			ID: id, Type: "replication", Name: "Replication",
			Category: "distribution", Version: "1.0.0",
			Description: "Writes data to multiple replicas with configurable consistency",
			Tags:        []string{"category:Distribution"},
		},
		metrics:           block.NewMetricsRecorder(),
		replicationFactor: 3,
		consistency:       consistencyQuorum,
	}
}

func (r *Replication) Metadata() block.Metadata        { return r.meta }
func (r *Replication) Metrics() *block.MetricsRecorder { return r.metrics }

func (r *Replication) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "replication_factor", Kind: "integer", Default: 3},
		{Name: "consistency_level", Kind: "string", Default: "quorum"},
		{Name: "async_replication", Kind: "boolean", Default: false},
	}
}

func (r *Replication) Inputs() []port.Port {
	return []port.Port{
		{ID: "requests", Name: "Write Requests", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true,
			Description: "Records to replicate across nodes"},
	}
}

func (r *Replication) Outputs() []port.Port {
	return []port.Port{
		{ID: "replicated", Name: "Replicated Records", Dir: port.DirectionOutput, Type: port.DataTypeStream,
			Description: "Records enriched with `_replicas` and `_acks` fields"},
	}
}

func (r *Replication) Initialize(params map[string]any) error {
	if v, ok := params["replication_factor"]; ok {
		n, ok := toInt(v)
		if !ok || n < 1 {
			return block.InvalidParameter("replication_factor must be a positive integer")
		}
		r.replicationFactor = n
	}
	if v, ok := params["consistency_level"]; ok {
		s, ok := v.(string)
		if !ok {
			return block.InvalidParameter("consistency_level must be a string")
		}
		switch strings.ToLower(s) {
		case "one", "1":
			r.consistency = consistencyOne
		case "quorum":
			r.consistency = consistencyQuorum
		case "all":
			r.consistency = consistencyAll
		default:
			return block.InvalidParameter("consistency_level must be one of one, quorum, all")
		}
	}
	if v, ok := params["async_replication"]; ok {
		b, ok := v.(bool)
		if !ok {
			return block.InvalidParameter("async_replication must be a boolean")
		}
		r.asyncReplication = b
	}
	return nil
}

func (r *Replication) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["requests"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "requests port expects Stream or Batch")
	}
	return v
}

// RequiredAcks returns the acknowledgment count needed to satisfy the
// configured consistency level: ONE=1, QUORUM=floor(R/2)+1, ALL=R.
func (r *Replication) RequiredAcks() int {
	switch r.consistency {
	case consistencyOne:
		return 1
	case consistencyAll:
		return r.replicationFactor
	default:
		return r.replicationFactor/2 + 1
	}
}

// SimulatedLag returns the synthetic replication lag (ms) for async
// mode: ~5ms per replica beyond the first.
func (r *Replication) SimulatedLag() float64 {
	if !r.asyncReplication {
		return 0
	}
	return float64(r.replicationFactor-1) * 5
}

func (r *Replication) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("requests")
	if !ok {
		res.Outputs["replicated"] = record.NewStream(nil)
		return res, nil
	}

	requiredAcks := r.RequiredAcks()
	output := make([]record.Record, 0, len(pv.Records))

	for _, rec := range pv.Records {
		r.writesReplicated++

		acks := r.replicationFactor
		r.acksReceived += acks

		meetsConsistency := acks >= requiredAcks
		if meetsConsistency {
			r.consistencyMet++
		} else {
			r.consistencyViolation++
		}

		r.metrics.IncCounter("writes_replicated", 1)

		out := rec.Clone()
		out["_replicas"] = r.replicationFactor
		out["_acks"] = acks
		out["_consistency_met"] = meetsConsistency
		output = append(output, out)
	}

	lag := r.SimulatedLag()
	r.metrics.SetGauge("replication_lag_ms", lag)
	r.metrics.SetGauge("consistency_met", float64(r.consistencyMet))
	r.metrics.SetGauge("consistency_violations", float64(r.consistencyViolation))
	r.metrics.SetGauge("acks_received", float64(r.acksReceived))

	res.Outputs["replicated"] = record.NewStream(output)
	res.Metrics = r.metrics.Snapshot()
	return res, nil
}

type replicationState struct {
	ReplicationFactor    int
	Consistency          consistencyLevel
	AsyncReplication     bool
	WritesReplicated     int
	AcksReceived         int
	ConsistencyMet       int
	ConsistencyViolation int
}

func (r *Replication) GetState() block.Snapshot {
	return marshalState(replicationState{
		ReplicationFactor: r.replicationFactor, Consistency: r.consistency, AsyncReplication: r.asyncReplication,
		WritesReplicated: r.writesReplicated, AcksReceived: r.acksReceived,
		ConsistencyMet: r.consistencyMet, ConsistencyViolation: r.consistencyViolation,
	})
}

func (r *Replication) SetState(s block.Snapshot) error {
	var st replicationState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	r.replicationFactor, r.consistency, r.asyncReplication = st.ReplicationFactor, st.Consistency, st.AsyncReplication
	r.writesReplicated, r.acksReceived = st.WritesReplicated, st.AcksReceived
	r.consistencyMet, r.consistencyViolation = st.ConsistencyMet, st.ConsistencyViolation
	return nil
}
