// Package engine wires blocks and connections into a runnable pipeline:
// it validates the graph, computes a topological execution order, and
// drives each block in turn, routing output port values to connected
// input ports over an in-memory data bus (spec §4.15).
package engine

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/graph"
	"github.com/cuemby/blockengine/pkg/log"
	"github.com/cuemby/blockengine/pkg/metrics"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
	"github.com/rs/zerolog"
)

// BlockMetrics is the per-block timing and counter summary collected
// during one Execute call.
type BlockMetrics struct {
	BlockID         string
	BlockType       string
	BlockName       string
	ExecutionTimeMs float64
	Percentage      float64
	Counters        map[string]float64
}

// LatencyMetrics holds linear-interpolated percentiles over the
// per-block execution-time vector.
type LatencyMetrics struct {
	Avg float64
	P50 float64
	P95 float64
	P99 float64
}

// ExecutionMetrics is the aggregate summary of one Execute call.
type ExecutionMetrics struct {
	Throughput          float64
	Latency             LatencyMetrics
	TotalOperations      int
	SuccessfulOperations int
	FailedOperations     int
}

// ExecutionResult is the complete outcome of one Execute call.
type ExecutionResult struct {
	Success      bool
	DurationMs   float64
	Metrics      ExecutionMetrics
	BlockMetrics []BlockMetrics
	Errors       []string
}

// DataBusKey addresses one output port value on the engine's internal
// data bus.
type DataBusKey struct {
	BlockID string
	PortID  string
}

// Engine holds a set of blocks, the connections wiring them together,
// and the entry points that receive external input. An Engine is
// single-owner: it is not safe to drive Execute from multiple
// goroutines concurrently (spec §5).
type Engine struct {
	blocks      map[string]block.Block
	connections []port.Connection
	entryPoints []string
	cancelled   atomic.Bool
	logger      zerolog.Logger
}

// New returns an empty engine.
func New() *Engine {
	metrics.RegisterComponent("engine", true, "initialized")
	return &Engine{
		blocks: make(map[string]block.Block),
		logger: log.WithComponent("engine"),
	}
}

// AddBlock registers a block under the given id.
func (e *Engine) AddBlock(id string, b block.Block) {
	e.blocks[id] = b
}

// AddConnection wires one output port to one input port.
func (e *Engine) AddConnection(c port.Connection) {
	e.connections = append(e.connections, c)
}

// SetEntryPoint marks a block as a recipient of external workload data.
func (e *Engine) SetEntryPoint(blockID string) {
	e.entryPoints = append(e.entryPoints, blockID)
}

// ClearEntryPoints removes every configured entry point.
func (e *Engine) ClearEntryPoints() {
	e.entryPoints = nil
}

// AutoDetectEntryPoints replaces the entry-point list with every block
// that has no incoming connection.
func (e *Engine) AutoDetectEntryPoints() {
	targets := make(map[string]bool)
	for _, c := range e.connections {
		targets[c.TargetBlockID] = true
	}
	var ids []string
	for id := range e.blocks {
		if !targets[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	e.entryPoints = ids
}

// EntryPoints returns the current entry-point block ids.
func (e *Engine) EntryPoints() []string {
	return e.entryPoints
}

// BlockCount returns the number of registered blocks.
func (e *Engine) BlockCount() int {
	return len(e.blocks)
}

// Blocks returns the engine's registered blocks keyed by id, for
// callers that need to checkpoint or restore block state directly
// (e.g. pkg/host's snapshot integration).
func (e *Engine) Blocks() map[string]block.Block {
	return e.blocks
}

// InitializeBlock initializes a registered block with parameters.
func (e *Engine) InitializeBlock(blockID string, params map[string]any) error {
	b, found := e.blocks[blockID]
	if !found {
		return block.InitializationError("block '" + blockID + "' not found")
	}
	return b.Initialize(params)
}

// Cancel requests that the running Execute call stop after its
// currently-running block (spec §5, cooperative cancellation). Execute
// clears the flag when it starts, so a Cancel made while no Execute is
// running does not affect the next one.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// IsCancelled reports the current cancellation flag value.
func (e *Engine) IsCancelled() bool {
	return e.cancelled.Load()
}

// Validate runs the graph validator over the engine's current blocks,
// connections, and entry points.
func (e *Engine) Validate() graph.GraphValidationResult {
	return graph.Validate(e.blocks, e.connections, e.entryPoints)
}

// Execute runs the pipeline to completion. externalInputs seeds the
// data bus with values addressed directly to specific (block, port)
// pairs before any block runs — this is how workload records reach
// entry-point blocks (spec §4.15).
func (e *Engine) Execute(ctx context.Context, externalInputs map[DataBusKey]record.PortValue, onBlockStart ...func(blockID string)) ExecutionResult {
	pipelineStart := time.Now()
	timer := metrics.NewTimer()
	e.cancelled.Store(false)

	validation := e.Validate()
	metrics.ValidationRunsTotal.WithLabelValues(validationOutcome(validation.Valid)).Inc()
	if !validation.Valid {
		var errs []string
		for _, verr := range validation.Errors {
			errs = append(errs, verr.Message)
		}
		metrics.ExecutionsTotal.WithLabelValues("invalid_graph").Inc()
		metrics.UpdateComponent("engine", false, "last execution had an invalid graph")
		return ExecutionResult{
			Success:    false,
			DurationMs: elapsedMs(pipelineStart),
			Errors:     errs,
		}
	}

	blockIDs := make([]string, 0, len(e.blocks))
	for id := range e.blocks {
		blockIDs = append(blockIDs, id)
	}
	sort.Strings(blockIDs)

	order, ok := graph.TopologicalSort(blockIDs, e.connections)
	if !ok {
		metrics.ExecutionsTotal.WithLabelValues("cycle").Inc()
		metrics.UpdateComponent("engine", false, "last execution's graph contained a cycle")
		return ExecutionResult{
			Success:    false,
			DurationMs: elapsedMs(pipelineStart),
			Errors:     []string{"graph contains a cycle"},
		}
	}

	dataBus := make(map[DataBusKey]record.PortValue, len(externalInputs))
	for k, v := range externalInputs {
		dataBus[k] = v
	}

	var (
		errs                                []string
		blockMetricsList                    []BlockMetrics
		blockTimes                          []float64
		totalOps, successfulOps, failedOps int
	)

	for _, blockID := range order {
		if e.cancelled.Load() {
			metrics.ExecutionsCancelledTotal.Inc()
			errs = append(errs, "Execution cancelled")
			break
		}
		for _, hook := range onBlockStart {
			hook(blockID)
		}

		b := e.blocks[blockID]
		inputs := e.assembleInputs(blockID, dataBus)

		execCtx := &block.ExecutionContext{
			Context: ctx,
			Inputs:  inputs,
			Metrics: b.Metrics(),
			Logger:  log.WithBlockID(blockID),
		}

		blockStart := time.Now()
		result, err := b.Execute(execCtx)
		blockElapsedMs := elapsedMs(blockStart)
		blockTimes = append(blockTimes, blockElapsedMs)
		metrics.BlockExecutionDuration.WithLabelValues(b.Metadata().Type).Observe(blockElapsedMs / 1000.0)

		meta := b.Metadata()
		if err != nil {
			failedOps++
			errs = append(errs, "["+blockID+"] Fatal: "+err.Error())
			metrics.BlockFatalErrorsTotal.WithLabelValues(meta.Type).Inc()
			blockMetricsList = append(blockMetricsList, BlockMetrics{
				BlockID: blockID, BlockType: meta.Type, BlockName: meta.Name,
				ExecutionTimeMs: blockElapsedMs, Counters: map[string]float64{},
			})
			continue
		}

		opCount := result.TotalRecordCount()
		totalOps += opCount
		successfulOps += opCount

		for portID, value := range result.Outputs {
			dataBus[DataBusKey{BlockID: blockID, PortID: portID}] = value
		}

		for _, blockErr := range result.Errors {
			failedOps++
			errs = append(errs, "["+blockID+"] "+blockErr)
		}

		blockMetricsList = append(blockMetricsList, BlockMetrics{
			BlockID: blockID, BlockType: meta.Type, BlockName: meta.Name,
			ExecutionTimeMs: blockElapsedMs, Counters: result.Metrics,
		})
	}

	totalDurationMs := elapsedMs(pipelineStart)
	for i := range blockMetricsList {
		if totalDurationMs > 0 {
			blockMetricsList[i].Percentage = (blockMetricsList[i].ExecutionTimeMs / totalDurationMs) * 100.0
		}
	}

	latency := computeLatency(blockTimes)
	throughput := 0.0
	if totalDurationMs > 0 {
		throughput = float64(totalOps) / (totalDurationMs / 1000.0)
	}
	metrics.ThroughputOpsPerSecond.Set(throughput)

	success := !hasFatalError(errs)
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
	timer.ObserveDuration(metrics.ExecutionDuration)
	metrics.UpdateComponent("engine", success, lastExecutionMessage(success, errs))

	return ExecutionResult{
		Success:    success,
		DurationMs: totalDurationMs,
		Metrics: ExecutionMetrics{
			Throughput:           throughput,
			Latency:              latency,
			TotalOperations:      totalOps,
			SuccessfulOperations: successfulOps,
			FailedOperations:     failedOps,
		},
		BlockMetrics: blockMetricsList,
		Errors:       errs,
	}
}

// assembleInputs builds a block's input-port map: first any external
// inputs addressed directly to this block, then the data-bus value of
// every connection ending at this block. A later connection silently
// overwrites an earlier one targeting the same input port — fan-in is
// not merged in this simulation (spec §4.15 step 5b).
func (e *Engine) assembleInputs(blockID string, dataBus map[DataBusKey]record.PortValue) map[string]record.PortValue {
	inputs := make(map[string]record.PortValue)
	for key, value := range dataBus {
		if key.BlockID == blockID {
			inputs[key.PortID] = value
		}
	}
	for _, c := range e.connections {
		if c.TargetBlockID != blockID {
			continue
		}
		if value, found := dataBus[DataBusKey{BlockID: c.SourceBlockID, PortID: c.SourcePortID}]; found {
			inputs[c.TargetPortID] = value
		}
	}
	return inputs
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// lastExecutionMessage summarizes the outcome of the most recent
// Execute call for the ambient health endpoint.
func lastExecutionMessage(success bool, errs []string) string {
	if success {
		return "last execution succeeded"
	}
	if len(errs) == 0 {
		return "last execution failed"
	}
	return "last execution failed: " + errs[0]
}

func hasFatalError(errs []string) bool {
	for _, e := range errs {
		if strings.Contains(e, "Fatal") {
			return true
		}
	}
	return false
}

func validationOutcome(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

// computeLatency returns avg/p50/p95/p99 over block execution times
// using linear interpolation between the floor and ceiling ranks (spec
// §4.15 step 7).
func computeLatency(times []float64) LatencyMetrics {
	if len(times) == 0 {
		return LatencyMetrics{}
	}
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)

	var sum float64
	for _, t := range sorted {
		sum += t
	}
	avg := sum / float64(len(sorted))

	return LatencyMetrics{
		Avg: avg,
		P50: percentile(sorted, 0.5),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (float64(len(sorted)-1)) * p
	lo := int(idx)
	hi := lo
	if frac := idx - float64(lo); frac > 0 {
		hi = lo + 1
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
