package concurrency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowLockBasicGrant(t *testing.T) {
	rl := NewRowLock("rl1")
	txn := rl.Begin()
	result := rl.Acquire(txn, "row1", LockShared)
	assert.Equal(t, LockGranted, result)
	assert.Equal(t, 1, rl.ActiveLockCount())
}

func TestRowLockSharedSharedCompatible(t *testing.T) {
	rl := NewRowLock("rl2")
	t1 := rl.Begin()
	t2 := rl.Begin()
	require.Equal(t, LockGranted, rl.Acquire(t1, "row1", LockShared))
	assert.Equal(t, LockGranted, rl.Acquire(t2, "row1", LockShared))
	assert.Equal(t, 2, rl.ActiveLockCount())
}

func TestRowLockUpgradeSoleHolder(t *testing.T) {
	rl := NewRowLock("rl3")
	t1 := rl.Begin()
	require.Equal(t, LockGranted, rl.Acquire(t1, "row1", LockShared))
	result := rl.Acquire(t1, "row1", LockExclusive)
	assert.Equal(t, LockGranted, result)
	assert.Equal(t, 1, rl.lockUpgrades)
}

func TestRowLockIncompatibleWaitsThenGrants(t *testing.T) {
	rl := NewRowLock("rl4")
	t1 := rl.Begin()
	t2 := rl.Begin()
	require.Equal(t, LockGranted, rl.Acquire(t1, "row1", LockShared))
	result := rl.Acquire(t2, "row1", LockExclusive)
	assert.Equal(t, LockWaited, result)
	assert.Equal(t, 1, rl.lockWaits)
	// table was overwritten to hold only t2 now (simulated wait resolved)
	assert.Equal(t, 1, rl.ActiveLockCount())
}

func TestRowLockDeadlockDetected(t *testing.T) {
	rl := NewRowLock("rl5")
	t1 := rl.Begin()
	t2 := rl.Begin()

	require.Equal(t, LockGranted, rl.Acquire(t1, "rowA", LockExclusive))
	require.Equal(t, LockGranted, rl.Acquire(t2, "rowB", LockExclusive))

	// Force a genuine cycle by hand: make t1 wait on t2 while t2 is known to
	// be waiting (in wait_for) on t1 at the moment of the check.
	rl.waitFor[t2] = map[int]struct{}{t1: {}}
	assert.True(t, rl.hasCycle(t1) == false) // t1 has no outgoing wait-for yet

	// Build an actual cycle: t1 waits on t2, and t2 waits on t1.
	rl.waitFor[t1] = map[int]struct{}{t2: {}}
	assert.True(t, rl.hasCycle(t1))
	assert.True(t, rl.hasCycle(t2))
}

func TestRowLockDeadlockViaAcquire(t *testing.T) {
	rl := NewRowLock("rl6")
	t1 := rl.Begin()
	t2 := rl.Begin()

	require.Equal(t, LockGranted, rl.Acquire(t1, "rowA", LockExclusive))
	require.Equal(t, LockGranted, rl.Acquire(t2, "rowB", LockExclusive))

	// t2 tries rowA (held by t1) -> wait-for edge t2->t1, no cycle yet ->
	// Waited, and the lock table for rowA is overwritten to t2 alone. The
	// edge stays in the wait-for graph until t2 releases its locks. Now t1
	// tries rowB, held by t2 -> wait-for edge t1->t2; the DFS from t1
	// reaches t1 again through t2, so this request is a deadlock.
	res1 := rl.Acquire(t2, "rowA", LockExclusive)
	assert.Equal(t, LockWaited, res1)

	res2 := rl.Acquire(t1, "rowB", LockExclusive)
	assert.Equal(t, LockDeadlock, res2)
}

func TestRowLockCommitReleasesLocks(t *testing.T) {
	rl := NewRowLock("rl7")
	t1 := rl.Begin()
	require.Equal(t, LockGranted, rl.Acquire(t1, "row1", LockExclusive))
	require.Equal(t, 1, rl.ActiveLockCount())
	rl.Commit(t1)
	assert.Equal(t, 0, rl.ActiveLockCount())
	assert.Equal(t, 1, rl.txnCommitted)
}

func TestRowLockAbortReleasesLocks(t *testing.T) {
	rl := NewRowLock("rl8")
	t1 := rl.Begin()
	require.Equal(t, LockGranted, rl.Acquire(t1, "row1", LockExclusive))
	rl.Abort(t1)
	assert.Equal(t, 0, rl.ActiveLockCount())
	assert.Equal(t, 1, rl.txnAborted)
}

func TestRowLockInvalidMaxLocksPerTxn(t *testing.T) {
	rl := NewRowLock("rl9")
	err := rl.Initialize(map[string]any{"max_locks_per_txn": 0})
	assert.Error(t, err)
}

func TestRowLockStateRoundTrip(t *testing.T) {
	rl := NewRowLock("rl10")
	t1 := rl.Begin()
	t2 := rl.Begin()
	require.Equal(t, LockGranted, rl.Acquire(t1, "row1", LockShared))
	require.Equal(t, LockGranted, rl.Acquire(t2, "row1", LockShared))
	rl.Commit(t1)

	snap := rl.GetState()

	restored := NewRowLock("rl10")
	require.NoError(t, restored.SetState(snap))
	assert.Equal(t, rl.ActiveLockCount(), restored.ActiveLockCount())
	assert.Equal(t, rl.txnCommitted, restored.txnCommitted)
	assert.Equal(t, rl.nextTxnID, restored.nextTxnID)
}
