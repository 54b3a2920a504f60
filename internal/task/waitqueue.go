package task

import (
	"sync"

	"github.com/calvinalkan/raleighdb/internal/rwcsem"
)

// WaitQueue couples an [rwcsem.Sem] with a FIFO of tasks blocked trying to
// acquire an op on it, implementing spec §4.2's task_rwcsem_acquire /
// task_rwcsem_release contract: a failed acquire registers the task here
// instead of blocking the calling goroutine; a release re-tries queued
// waiters in FIFO order and re-enqueues any that now succeed onto the
// scheduler's ready ring.
//
// One WaitQueue exists per RWCSEM in the system (one per object, one per
// transaction) — see its owners in internal/objcache and internal/txn.
type WaitQueue struct {
	sem *rwcsem.Sem

	mu      sync.Mutex
	waiters []*Task
}

// NewWaitQueue wraps sem.
func NewWaitQueue(sem *rwcsem.Sem) *WaitQueue {
	return &WaitQueue{sem: sem}
}

// Sem returns the underlying semaphore, for callers that also need direct
// access (e.g. to call SetCommitFlag/SetLockFlag before queueing, per the
// barrier step of spec §4.6).
func (q *WaitQueue) Sem() *rwcsem.Sem { return q.sem }

// Acquire attempts op on the underlying semaphore. On success it returns
// true immediately. On failure it appends t to the waiter queue (recording
// op in t.PendingOp) and returns false — per spec §4.2, the caller's Step
// function must return [Suspended] right away without touching t further;
// [WaitQueue.Release] (called by whoever currently holds a conflicting op)
// is what re-enqueues t onto the scheduler once op becomes feasible.
//
// Waiters already queued are given priority: a new caller that finds the
// queue non-empty queues behind them rather than jumping ahead via a
// lucky TryAcquire, preserving FIFO fairness (spec §4.1's fairness note).
func (q *WaitQueue) Acquire(op rwcsem.Op, t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) == 0 && q.sem.TryAcquire(op) {
		return true
	}

	t.PendingOp = int(op)
	q.waiters = append(q.waiters, t)

	return false
}

// Release releases op on the underlying semaphore, then wakes any queued
// waiters whose op is now feasible, re-enqueuing them on sched's ready
// ring in FIFO order. Stops at the first waiter that still can't proceed
// (preserving order: a blocked WRITE must not be skipped over by a later
// READ that happens to fit).
func (q *WaitQueue) Release(sched *Scheduler, op rwcsem.Op) {
	q.sem.Release(op)
	q.wake(sched)
}

func (q *WaitQueue) wake(sched *Scheduler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.waiters) > 0 {
		head := q.waiters[0]
		if !q.sem.TryAcquire(rwcsem.Op(head.PendingOp)) {
			return
		}

		q.waiters = q.waiters[1:]
		sched.AddTask(head)
	}
}

// SetCommitFlag publishes commit intent on the underlying sem (spec
// §4.1's set_commit_flag), without touching the waiter queue: existing
// waiters are unaffected until a Release wakes them, but new Acquire
// callers will now see the flag and fail admission for READ/WRITE.
func (q *WaitQueue) SetCommitFlag() { q.sem.SetCommitFlag() }

// SetLockFlag is the LOCK analogue of SetCommitFlag.
func (q *WaitQueue) SetLockFlag() { q.sem.SetLockFlag() }
