package block

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

// Metadata is a block's immutable identity: id, category, and the
// catalog information the registry searches over.
type Metadata struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Tags        []string `json:"tags"`
}

// Parameter describes one entry in a block's parameter schema: name,
// kind, and whether it must be supplied at Initialize.
type Parameter struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"` // "integer" | "number" | "string" | "boolean"
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// Validation is the read-only outcome of Validate(inputs): whether the
// supplied inputs would be accepted, plus any explanatory errors.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Snapshot is an opaque, block-defined blob capturing internal state for
// GetState/SetState round-trips (used by pkg/snapshot for ambient
// persistence, and by tests exercising round-trip idempotence).
type Snapshot []byte

// ExecutionContext carries everything Execute needs: the current input
// port values keyed by local port id, a metrics recorder, and a logger
// handle. It is constructed fresh by the engine for every block
// invocation.
type ExecutionContext struct {
	Context context.Context
	Inputs  map[string]record.PortValue
	Metrics *MetricsRecorder
	Logger  zerolog.Logger
}

// Input returns the PortValue delivered to the named input port, or
// the zero PortValue (Kind "") if nothing was routed there.
func (c *ExecutionContext) Input(portID string) (record.PortValue, bool) {
	pv, ok := c.Inputs[portID]
	return pv, ok
}

// ExecutionResult carries a block's output port values keyed by local
// port id, a metrics summary, and any non-fatal errors accumulated
// during this call to Execute.
type ExecutionResult struct {
	Outputs map[string]record.PortValue
	Metrics map[string]float64
	Errors  []string
}

// NewExecutionResult returns an empty result ready for a block to
// populate.
func NewExecutionResult() *ExecutionResult {
	return &ExecutionResult{Outputs: make(map[string]record.PortValue)}
}

// AddError appends a non-fatal, per-record error to the result. These
// do not fail the block's Execute call; the engine later prefixes them
// with "[block_id]" when assembling the aggregate error list.
func (r *ExecutionResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// TotalRecordCount sums the record counts across every output
// PortValue, used by the engine to account total_ops (spec §4.15 step
// 5e).
func (r *ExecutionResult) TotalRecordCount() int {
	total := 0
	for _, pv := range r.Outputs {
		total += pv.Len()
	}
	return total
}

// Block is the uniform interface every algorithm implements (spec
// §4.1). The engine only ever sees this interface; each algorithm's
// internal data structures are private to its implementation.
type Block interface {
	Metadata() Metadata
	Inputs() []port.Port
	Outputs() []port.Port
	Parameters() []Parameter
	Metrics() *MetricsRecorder

	Initialize(params map[string]any) error
	Execute(ctx *ExecutionContext) (*ExecutionResult, error)
	SetState(snapshot Snapshot) error

	Validate(inputs map[string]record.PortValue) Validation
	GetState() Snapshot
}

// FindPort returns the port with the given id from a port list, used by
// both the validator and the engine to look up declared ports by id.
func FindPort(ports []port.Port, id string) (port.Port, bool) {
	for _, p := range ports {
		if p.ID == id {
			return p, true
		}
	}
	return port.Port{}, false
}
