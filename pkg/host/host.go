// Package host is the JSON-in/JSON-out façade a caller (CLI, test
// harness, or any language embedding this runtime) drives the block
// engine through: register blocks, wire connections, validate, run a
// workload, and read back metrics — all via plain JSON strings and no
// domain-specific wire protocol (spec §6).
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/blockengine/pkg/engine"
	"github.com/cuemby/blockengine/pkg/log"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
	"github.com/cuemby/blockengine/pkg/registry"
	"github.com/cuemby/blockengine/pkg/snapshot"
	"github.com/cuemby/blockengine/pkg/workload"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BlockConfig is the RegisterBlock request shape.
type BlockConfig struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ConnectionConfig is the CreateConnection request shape.
type ConnectionConfig struct {
	ID               string `json:"id,omitempty"`
	SourceBlockID    string `json:"source_block_id"`
	SourcePortID     string `json:"source_port_id"`
	TargetBlockID    string `json:"target_block_id"`
	TargetPortID     string `json:"target_port_id"`
	Backpressure     bool   `json:"backpressure,omitempty"`
	BufferSize       int    `json:"buffer_size,omitempty"`
}

// IDResponse wraps a minted id, returned by RegisterBlock and
// CreateConnection on success.
type IDResponse struct {
	ID string `json:"id"`
}

// ErrorResponse wraps a single failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationResponse is the flattened, message-only shape Validate
// returns — the richer per-error {node_id, suggestion} structure that
// pkg/graph produces internally is collapsed to strings at this
// boundary (spec §6).
type ValidationResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// WorkloadRequest is the Execute request shape: an operation mix, key
// distribution, total record count and seed (the settings of
// workload.Config, under camelCase JSON names), plus an optional
// Concurrency field that workload.Config does not have.
type WorkloadRequest struct {
	Operations []struct {
		Type   string `json:"type"`
		Weight int    `json:"weight"`
	} `json:"operations"`
	Distribution string `json:"distribution"`
	TotalOps     int    `json:"totalOps"`
	Concurrency  int    `json:"concurrency,omitempty"`
	Seed         uint64 `json:"seed,omitempty"`
}

// BlockMetricsResponse is one block's entry in ExecutionResponse.
type BlockMetricsResponse struct {
	BlockID         string             `json:"blockId"`
	BlockType       string             `json:"blockType"`
	BlockName       string             `json:"blockName"`
	ExecutionTime   float64            `json:"executionTime"`
	Percentage      float64            `json:"percentage"`
	Counters        map[string]float64 `json:"counters"`
}

// LatencyResponse mirrors engine.LatencyMetrics in wire form.
type LatencyResponse struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// MetricsResponse is the metrics block of ExecutionResponse and the
// direct return value of GetMetrics.
type MetricsResponse struct {
	Throughput           float64                `json:"throughput"`
	Latency              LatencyResponse        `json:"latency"`
	TotalOperations      int                    `json:"totalOperations"`
	SuccessfulOperations int                    `json:"successfulOperations"`
	FailedOperations     int                    `json:"failedOperations"`
	BlockMetrics         []BlockMetricsResponse `json:"blockMetrics"`
}

// ExecutionResponse is the full Execute return shape (spec §6).
type ExecutionResponse struct {
	Success  bool            `json:"success"`
	Duration float64         `json:"duration"`
	Metrics  MetricsResponse `json:"metrics"`
	Errors   []string        `json:"errors,omitempty"`
}

// ProgressPhase names a stage of an Execute call for the progress
// callback.
type ProgressPhase string

const (
	PhaseValidating ProgressPhase = "validating"
	PhaseExecuting  ProgressPhase = "executing"
	PhaseAggregating ProgressPhase = "aggregating"
)

// ProgressEvent is serialized to JSON and handed to the caller's
// progress callback during Execute.
type ProgressEvent struct {
	Progress       int           `json:"progress"`
	Phase          ProgressPhase `json:"phase"`
	CurrentBlockID string        `json:"currentBlockId,omitempty"`
	Message        string        `json:"message,omitempty"`
}

// ProgressCallback receives one JSON-encoded ProgressEvent per call.
type ProgressCallback func(eventJSON string)

// Runtime is the host boundary's live state: the block registry, the
// engine wiring blocks together, and the connection set pending
// Execute. A Runtime is created by InitRuntime and torn down by
// DestroyRuntime. Methods that read or change this state take an
// internal mutex; Execute releases it while the pipeline runs, and
// CancelExecution does not take it.
type Runtime struct {
	mu          sync.Mutex
	registry    *registry.Registry
	engine      *engine.Engine
	connections []ConnectionConfig
	lastMetrics *MetricsResponse
	logger      zerolog.Logger
}

// InitRuntime constructs a fresh, empty runtime.
func InitRuntime() *Runtime {
	return &Runtime{
		registry: registry.New(),
		engine:   engine.New(),
		logger:   log.WithComponent("host"),
	}
}

// DestroyRuntime releases a runtime's resources. The in-memory
// simulation holds nothing external to close; this exists as an
// explicit lifecycle bookend so callers (and future persistence
// backends) have a single teardown point to hook (spec §6).
func (rt *Runtime) DestroyRuntime() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.registry.Clear()
	rt.engine = engine.New()
	rt.connections = nil
	rt.lastMetrics = nil
}

// RegisterBlock constructs, initializes, and registers a block from a
// JSON-encoded BlockConfig. Returns a JSON-encoded IDResponse on
// success or ErrorResponse on failure — this boundary never returns a
// Go error, only JSON (spec §6).
func (rt *Runtime) RegisterBlock(configJSON string) string {
	var cfg BlockConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return errorJSON(fmt.Errorf("invalid block config: %w", err))
	}

	ctor, found := blockFactory[cfg.Type]
	if !found {
		return errorJSON(fmt.Errorf("unknown block type: %s", cfg.Type))
	}

	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}

	b := ctor(id)
	if err := b.Initialize(cfg.Parameters); err != nil {
		return errorJSON(fmt.Errorf("initialize %s: %w", id, err))
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.registry.Register(b); err != nil {
		return errorJSON(err)
	}
	rt.engine.AddBlock(id, b)
	rt.logger.Info().Str("block_id", id).Str("block_type", cfg.Type).Msg("block registered")

	return idJSON(id)
}

// CreateConnection wires two already-registered blocks' ports together.
func (rt *Runtime) CreateConnection(connJSON string) string {
	var cfg ConnectionConfig
	if err := json.Unmarshal([]byte(connJSON), &cfg); err != nil {
		return errorJSON(fmt.Errorf("invalid connection config: %w", err))
	}

	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.registry.Contains(cfg.SourceBlockID) {
		return errorJSON(fmt.Errorf("unknown source block: %s", cfg.SourceBlockID))
	}
	if !rt.registry.Contains(cfg.TargetBlockID) {
		return errorJSON(fmt.Errorf("unknown target block: %s", cfg.TargetBlockID))
	}

	conn := port.NewConnection(id, cfg.SourceBlockID, cfg.SourcePortID, cfg.TargetBlockID, cfg.TargetPortID)
	conn.BackpressureFlag = cfg.Backpressure
	conn.BufferSize = cfg.BufferSize

	rt.engine.AddConnection(conn)
	cfg.ID = id
	rt.connections = append(rt.connections, cfg)

	return idJSON(id)
}

// Validate runs the graph validator and returns a flattened
// {valid, errors, warnings} shape.
func (rt *Runtime) Validate() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.engine.AutoDetectEntryPoints()
	result := rt.engine.Validate()

	resp := ValidationResponse{Valid: result.Valid, Errors: []string{}, Warnings: []string{}}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, e.Message)
	}
	for _, w := range result.Warnings {
		resp.Warnings = append(resp.Warnings, w.Message)
	}

	out, _ := json.Marshal(resp)
	return string(out)
}

// Execute generates workload records, feeds them to every
// auto-detected entry-point block's "records" input, and runs the
// pipeline to completion, reporting progress through the optional
// callback (spec §6).
func (rt *Runtime) Execute(workloadJSON string, progress ProgressCallback) string {
	var req WorkloadRequest
	if err := json.Unmarshal([]byte(workloadJSON), &req); err != nil {
		return errorJSON(fmt.Errorf("invalid workload request: %w", err))
	}

	emit := func(pct int, phase ProgressPhase, blockID, message string) {
		if progress == nil {
			return
		}
		evt := ProgressEvent{Progress: pct, Phase: phase, CurrentBlockID: blockID, Message: message}
		if out, err := json.Marshal(evt); err == nil {
			progress(string(out))
		}
	}

	emit(0, PhaseValidating, "", "validating pipeline")

	rt.mu.Lock()
	rt.engine.AutoDetectEntryPoints()
	validation := rt.engine.Validate()
	if !validation.Valid {
		rt.mu.Unlock()
		var errs []string
		for _, e := range validation.Errors {
			errs = append(errs, e.Message)
		}
		return executionErrorJSON(errs)
	}
	entryPoints := append([]string(nil), rt.engine.EntryPoints()...)
	rt.mu.Unlock()

	cfg := workload.Config{
		Distribution: workload.Distribution(req.Distribution),
		TotalOps:     req.TotalOps,
		Seed:         req.Seed,
	}
	if cfg.Distribution == "" {
		cfg.Distribution = workload.DistributionUniform
	}
	for _, op := range req.Operations {
		cfg.Operations = append(cfg.Operations, workload.OperationConfig{
			OpType: workload.OperationType(op.Type), Weight: op.Weight,
		})
	}
	if len(cfg.Operations) == 0 {
		cfg = workload.DefaultConfig()
		cfg.TotalOps = req.TotalOps
		cfg.Seed = req.Seed
	}

	records := workload.GenerateRecords(cfg)
	value := record.NewStream(records)

	externalInputs := make(map[engine.DataBusKey]record.PortValue, len(entryPoints))
	for _, blockID := range entryPoints {
		externalInputs[engine.DataBusKey{BlockID: blockID, PortID: "records"}] = value
	}

	emit(10, PhaseExecuting, "", "running pipeline")

	rt.mu.Lock()
	onBlockStart := func(blockID string) {
		emit(50, PhaseExecuting, blockID, "executing block")
	}
	result := rt.engine.Execute(context.Background(), externalInputs, onBlockStart)
	rt.mu.Unlock()

	emit(90, PhaseAggregating, "", "aggregating metrics")

	resp := toExecutionResponse(result)

	rt.mu.Lock()
	rt.lastMetrics = &resp.Metrics
	rt.mu.Unlock()

	emit(100, PhaseAggregating, "", "done")
	rt.logger.Info().Bool("success", resp.Success).Float64("duration_ms", resp.Duration).Msg("execution complete")

	out, _ := json.Marshal(resp)
	return string(out)
}

func toExecutionResponse(result engine.ExecutionResult) ExecutionResponse {
	blockMetrics := make([]BlockMetricsResponse, 0, len(result.BlockMetrics))
	for _, bm := range result.BlockMetrics {
		counters := bm.Counters
		if counters == nil {
			counters = map[string]float64{}
		}
		blockMetrics = append(blockMetrics, BlockMetricsResponse{
			BlockID: bm.BlockID, BlockType: bm.BlockType, BlockName: bm.BlockName,
			ExecutionTime: bm.ExecutionTimeMs, Percentage: bm.Percentage, Counters: counters,
		})
	}

	return ExecutionResponse{
		Success:  result.Success,
		Duration: result.DurationMs,
		Metrics: MetricsResponse{
			Throughput: result.Metrics.Throughput,
			Latency: LatencyResponse{
				Avg: result.Metrics.Latency.Avg, P50: result.Metrics.Latency.P50,
				P95: result.Metrics.Latency.P95, P99: result.Metrics.Latency.P99,
			},
			TotalOperations:      result.Metrics.TotalOperations,
			SuccessfulOperations: result.Metrics.SuccessfulOperations,
			FailedOperations:     result.Metrics.FailedOperations,
			BlockMetrics:         blockMetrics,
		},
		Errors: result.Errors,
	}
}

// CancelExecution requests cooperative cancellation of the Execute call
// in progress; the flag is cleared when the next Execute starts.
func (rt *Runtime) CancelExecution() {
	rt.engine.Cancel()
}

// GetBlockTypes returns the JSON-encoded catalog of every constructible
// block type.
func (rt *Runtime) GetBlockTypes() string {
	out, _ := json.Marshal(GetBlockTypes())
	return string(out)
}

// SnapshotAll checkpoints every registered block's current state to
// store, keyed by block id.
func (rt *Runtime) SnapshotAll(store *snapshot.Store) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return snapshot.PutAll(store, rt.engine.Blocks())
}

// RestoreAll loads every block's persisted state from store, for
// blocks that have one.
func (rt *Runtime) RestoreAll(store *snapshot.Store) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return snapshot.RestoreAll(store, rt.engine.Blocks())
}

// GetMetrics returns the metrics block of the most recent Execute
// call, or a zero-valued response if none has run yet.
func (rt *Runtime) GetMetrics() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.lastMetrics == nil {
		out, _ := json.Marshal(MetricsResponse{BlockMetrics: []BlockMetricsResponse{}})
		return string(out)
	}
	out, _ := json.Marshal(rt.lastMetrics)
	return string(out)
}

func idJSON(id string) string {
	out, _ := json.Marshal(IDResponse{ID: id})
	return string(out)
}

func errorJSON(err error) string {
	out, _ := json.Marshal(ErrorResponse{Error: err.Error()})
	return string(out)
}

func executionErrorJSON(errs []string) string {
	out, _ := json.Marshal(ExecutionResponse{Success: false, Errors: errs})
	return string(out)
}
