package concurrency

import (
	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/port"
	"github.com/cuemby/blockengine/pkg/record"
)

// LockMode is a row lock's access mode.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// LockResult is the outcome of an Acquire call.
type LockResult int

const (
	LockGranted LockResult = iota
	LockWaited
	LockDeadlock
)

type lockEntry struct {
	Mode    LockMode
	Holders map[int]struct{}
}

// RowLock implements strict two-phase locking (2PL): shared/exclusive
// row locks acquired during a transaction's growing phase, held until
// commit/abort releases all of them at once. Incompatible requests are
// checked against a wait-for graph for deadlocks via iterative DFS.
type RowLock struct {
	meta    block.Metadata
	metrics *block.MetricsRecorder

	maxLocksPerTxn int

	lockTable map[string]*lockEntry
	txnLocks  map[int][]string
	waitFor   map[int]map[int]struct{}

	locksAcquired     int
	lockWaits         int
	deadlocksDetected int
	lockUpgrades      int
	txnCommitted      int
	txnAborted        int
	nextTxnID         int
}

func NewRowLock(id string) *RowLock {
	return &RowLock{
		meta: block.Metadata{
			ID: id, Type: "row_lock", Name: "Row Lock (2PL)",
			Category: "concurrency", Version: "1.0.0",
			Description: "Strict two-phase locking with shared/exclusive row locks and deadlock detection.",
			Tags:        []string{"category:Concurrency"},
		},
		metrics:        block.NewMetricsRecorder(),
		maxLocksPerTxn: 1000,
		lockTable:      make(map[string]*lockEntry),
		txnLocks:       make(map[int][]string),
		waitFor:        make(map[int]map[int]struct{}),
		nextTxnID:      1,
	}
}

func (l *RowLock) Metadata() block.Metadata        { return l.meta }
func (l *RowLock) Metrics() *block.MetricsRecorder { return l.metrics }

func (l *RowLock) Parameters() []block.Parameter {
	return []block.Parameter{
		{Name: "max_locks_per_txn", Kind: "integer", Default: 1000},
	}
}

func (l *RowLock) Inputs() []port.Port {
	return []port.Port{
		{ID: "records", Name: "Records", Dir: port.DirectionInput, Type: port.DataTypeStream, Required: true},
	}
}

func (l *RowLock) Outputs() []port.Port {
	return []port.Port{
		{ID: "processed", Name: "Processed", Dir: port.DirectionOutput, Type: port.DataTypeStream},
	}
}

func (l *RowLock) Initialize(params map[string]any) error {
	if v, ok := params["max_locks_per_txn"]; ok {
		n, ok := toInt(v)
		if !ok || n < 1 {
			return block.InvalidParameter("max_locks_per_txn must be a positive integer")
		}
		l.maxLocksPerTxn = n
	}
	return nil
}

func (l *RowLock) Validate(inputs map[string]record.PortValue) block.Validation {
	v := block.Validation{Valid: true}
	if pv, ok := inputs["records"]; ok && !pv.IsCollection() && pv.Kind != record.KindNone {
		v.Valid = false
		v.Errors = append(v.Errors, "records input must be a Stream or Batch")
	}
	return v
}

// Begin starts a transaction and returns its id.
func (l *RowLock) Begin() int {
	id := l.nextTxnID
	l.nextTxnID++
	l.txnLocks[id] = nil
	return id
}

// Acquire requests mode on resource for txnID.
func (l *RowLock) Acquire(txnID int, resource string, mode LockMode) LockResult {
	entry, exists := l.lockTable[resource]
	if !exists {
		l.lockTable[resource] = &lockEntry{Mode: mode, Holders: map[int]struct{}{txnID: {}}}
		l.txnLocks[txnID] = append(l.txnLocks[txnID], resource)
		l.locksAcquired++
		return LockGranted
	}

	if _, holds := entry.Holders[txnID]; holds {
		if entry.Mode == LockShared && mode == LockExclusive {
			if len(entry.Holders) == 1 {
				entry.Mode = LockExclusive
				l.lockUpgrades++
				l.locksAcquired++
				return LockGranted
			}

			waitees := make(map[int]struct{})
			for h := range entry.Holders {
				if h != txnID {
					waitees[h] = struct{}{}
				}
			}
			l.waitFor[txnID] = waitees
			if l.hasCycle(txnID) {
				delete(l.waitFor, txnID)
				l.deadlocksDetected++
				return LockDeadlock
			}
			l.lockWaits++
			entry.Mode = LockExclusive
			entry.Holders = map[int]struct{}{txnID: {}}
			l.lockUpgrades++
			l.locksAcquired++
			return LockWaited
		}
		return LockGranted
	}

	compatible := entry.Mode == LockShared && mode == LockShared
	if compatible {
		entry.Holders[txnID] = struct{}{}
		l.txnLocks[txnID] = append(l.txnLocks[txnID], resource)
		l.locksAcquired++
		return LockGranted
	}

	waitees := make(map[int]struct{}, len(entry.Holders))
	for h := range entry.Holders {
		waitees[h] = struct{}{}
	}
	l.waitFor[txnID] = waitees
	if l.hasCycle(txnID) {
		delete(l.waitFor, txnID)
		l.deadlocksDetected++
		return LockDeadlock
	}
	l.lockWaits++
	l.lockTable[resource] = &lockEntry{Mode: mode, Holders: map[int]struct{}{txnID: {}}}
	l.txnLocks[txnID] = append(l.txnLocks[txnID], resource)
	l.locksAcquired++
	return LockWaited
}

// Commit releases all of txnID's locks and counts a successful commit.
func (l *RowLock) Commit(txnID int) {
	l.releaseLocks(txnID)
	l.txnCommitted++
}

// Abort releases all of txnID's locks and counts an abort.
func (l *RowLock) Abort(txnID int) {
	l.releaseLocks(txnID)
	l.txnAborted++
}

func (l *RowLock) releaseLocks(txnID int) {
	if resources, ok := l.txnLocks[txnID]; ok {
		for _, resource := range resources {
			if entry, ok := l.lockTable[resource]; ok {
				delete(entry.Holders, txnID)
				if len(entry.Holders) == 0 {
					delete(l.lockTable, resource)
				}
			}
		}
		delete(l.txnLocks, txnID)
	}
	delete(l.waitFor, txnID)
}

// hasCycle runs an iterative DFS over the wait-for graph from
// startTxn, returning true if it can reach back to startTxn.
func (l *RowLock) hasCycle(startTxn int) bool {
	visited := make(map[int]struct{})
	stack := []int{startTxn}

	for len(stack) > 0 {
		txn := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[txn]; seen {
			continue
		}
		visited[txn] = struct{}{}

		for w := range l.waitFor[txn] {
			if w == startTxn {
				return true
			}
			if _, seen := visited[w]; !seen {
				stack = append(stack, w)
			}
		}
	}
	return false
}

// ActiveLockCount sums holder counts across every held resource.
func (l *RowLock) ActiveLockCount() int {
	n := 0
	for _, e := range l.lockTable {
		n += len(e.Holders)
	}
	return n
}

func (l *RowLock) Execute(ctx *block.ExecutionContext) (*block.ExecutionResult, error) {
	res := block.NewExecutionResult()

	pv, ok := ctx.Input("records")
	if !ok {
		res.Outputs["processed"] = record.NewStream(nil)
		return res, nil
	}

	processed := make([]record.Record, 0, len(pv.Records))
	for _, r := range pv.Records {
		txn := l.Begin()
		resource, present := r.GetString("id")
		if !present {
			resource = "row"
		}

		mode := LockShared
		if op, ok := r.GetString("_op_type"); ok && (op == "UPDATE" || op == "DELETE" || op == "update" || op == "delete") {
			mode = LockExclusive
		}

		result := l.Acquire(txn, resource, mode)
		clone := r.Clone()
		switch result {
		case LockDeadlock:
			l.Abort(txn)
			clone["_lock_result"] = "deadlock"
		default:
			l.Commit(txn)
			clone["_lock_result"] = lockResultLabel(result)
		}
		processed = append(processed, clone)
	}

	l.metrics.SetGauge("locks_acquired", float64(l.locksAcquired))
	l.metrics.SetGauge("lock_waits", float64(l.lockWaits))
	l.metrics.SetGauge("deadlocks_detected", float64(l.deadlocksDetected))
	l.metrics.SetGauge("lock_upgrades", float64(l.lockUpgrades))
	l.metrics.SetGauge("active_locks", float64(l.ActiveLockCount()))
	l.metrics.SetGauge("transactions_committed", float64(l.txnCommitted))
	l.metrics.SetGauge("transactions_aborted", float64(l.txnAborted))

	res.Outputs["processed"] = record.NewStream(processed)
	res.Metrics = l.metrics.Snapshot()
	return res, nil
}

func lockResultLabel(r LockResult) string {
	switch r {
	case LockGranted:
		return "granted"
	case LockWaited:
		return "waited"
	default:
		return "deadlock"
	}
}

type rowLockState struct {
	MaxLocksPerTxn    int
	LockTable         map[string]lockEntryState
	TxnLocks          map[int][]string
	LocksAcquired     int
	LockWaits         int
	DeadlocksDetected int
	LockUpgrades      int
	TxnCommitted      int
	TxnAborted        int
	NextTxnID         int
}

type lockEntryState struct {
	Mode    LockMode
	Holders []int
}

func (l *RowLock) GetState() block.Snapshot {
	table := make(map[string]lockEntryState, len(l.lockTable))
	for resource, e := range l.lockTable {
		holders := make([]int, 0, len(e.Holders))
		for h := range e.Holders {
			holders = append(holders, h)
		}
		table[resource] = lockEntryState{Mode: e.Mode, Holders: holders}
	}
	return marshalState(rowLockState{
		MaxLocksPerTxn: l.maxLocksPerTxn, LockTable: table, TxnLocks: l.txnLocks,
		LocksAcquired: l.locksAcquired, LockWaits: l.lockWaits, DeadlocksDetected: l.deadlocksDetected,
		LockUpgrades: l.lockUpgrades, TxnCommitted: l.txnCommitted, TxnAborted: l.txnAborted,
		NextTxnID: l.nextTxnID,
	})
}

func (l *RowLock) SetState(s block.Snapshot) error {
	var st rowLockState
	if err := unmarshalState(s, &st); err != nil {
		return block.InitializationError("%v", err)
	}
	l.maxLocksPerTxn, l.nextTxnID = st.MaxLocksPerTxn, st.NextTxnID
	l.txnLocks = st.TxnLocks
	if l.txnLocks == nil {
		l.txnLocks = make(map[int][]string)
	}
	l.locksAcquired, l.lockWaits, l.deadlocksDetected = st.LocksAcquired, st.LockWaits, st.DeadlocksDetected
	l.lockUpgrades, l.txnCommitted, l.txnAborted = st.LockUpgrades, st.TxnCommitted, st.TxnAborted

	l.lockTable = make(map[string]*lockEntry, len(st.LockTable))
	for resource, e := range st.LockTable {
		holders := make(map[int]struct{}, len(e.Holders))
		for _, h := range e.Holders {
			holders[h] = struct{}{}
		}
		l.lockTable[resource] = &lockEntry{Mode: e.Mode, Holders: holders}
	}
	l.waitFor = make(map[int]map[int]struct{})
	return nil
}
