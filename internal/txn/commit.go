package txn

import (
	"github.com/calvinalkan/raleighdb/internal/errs"
	"github.com/calvinalkan/raleighdb/internal/objsched"
	"github.com/calvinalkan/raleighdb/internal/rwcsem"
	"github.com/calvinalkan/raleighdb/internal/task"
)

// Resolver maps an object's TypeTag to the VTable that governs it (the
// engine layer owns the registry; txn only needs to call through it).
type Resolver func(typeTag string) (objsched.VTable, error)

// NotifyFunc is called exactly once when a commit finishes.
type NotifyFunc func(txnID uint64, final State, err error)

type commitState int

const (
	csAcquire commitState = iota
	csBarrier
	csLock
	csWrite
	csCommit
	csComplete
)

// mode is the WRITE step's apply/revert direction.
type mode int

const (
	modeApply mode = iota
	modeRevert
)

// CommitOp drives one transaction through ACQUIRE→BARRIER→LOCK→WRITE→
// COMMIT→COMPLETE (spec §4.6).
type CommitOp struct {
	mgr           *Manager
	sched         *task.Scheduler
	txn           *Txn
	resolve       Resolver
	notify        NotifyFunc
	requestCommit bool

	state   commitState
	lockIdx int
	mode    mode
	failed  bool
}

// Commit schedules txnID's commit state machine. requestCommit is true
// for a genuine commit request; false drives straight to REVERT mode
// (used for explicit rollback requests), matching spec §4.6's WRITE step
// ("if commit was requested and the TXN's state is DONT_COMMIT, degrade
// the mode to REVERT").
func Commit(mgr *Manager, sched *task.Scheduler, txnID uint64, resolve Resolver, requestCommit bool, notify NotifyFunc) error {
	t := mgr.Lookup(txnID)
	if t == nil {
		return errs.New(errs.ErrTxnNotFound).WithTxnID(txnID)
	}

	op := &CommitOp{
		mgr:           mgr,
		sched:         sched,
		txn:           t,
		resolve:       resolve,
		notify:        notify,
		requestCommit: requestCommit,
		state:         csAcquire,
	}

	sched.AddTask(task.New(op.step))

	return nil
}

func (op *CommitOp) step(tk *task.Task) task.Result {
	switch op.state {
	case csAcquire:
		return op.stepAcquire(tk)
	case csBarrier:
		return op.stepBarrier(tk)
	case csLock:
		return op.stepLock(tk)
	case csWrite:
		return op.stepWrite(tk)
	case csCommit:
		return op.stepCommit(tk)
	case csComplete:
		return op.stepComplete(tk)
	default:
		panic("txn: unknown commit state")
	}
}

// ACQUIRE: take COMMIT on the transaction's own RWCSEM, closing it to new
// atom submissions.
func (op *CommitOp) stepAcquire(tk *task.Task) task.Result {
	if !op.txn.wq.Acquire(rwcsem.COMMIT, tk) {
		return task.Suspended
	}

	op.state = csBarrier

	return task.Requeue
}

// BARRIER: under the manager's ticket lock, verify no object in the
// transaction's object-group list is already owned by another in-flight
// transaction, then atomically stamp pending_txn_id and set each object's
// lk flag.
func (op *CommitOp) stepBarrier(tk *task.Task) task.Result {
	op.mgr.ticket.Lock()

	op.txn.mu.Lock()
	order := append([]uint64(nil), op.txn.order...)
	groups := op.txn.groups
	op.txn.mu.Unlock()

	for _, oid := range order {
		if groups[oid].entry.PendingTxnID.Load() != 0 {
			op.mgr.ticket.Unlock()
			op.sched.AddPending(tk)

			return task.Suspended
		}
	}

	for _, oid := range order {
		g := groups[oid]
		g.entry.PendingTxnID.Store(op.txn.ID)
		g.entry.WaitQueue().SetLockFlag()
	}

	op.mgr.ticket.Unlock()

	op.state = csLock

	return task.Requeue
}

// LOCK: acquire LOCK on each object in order. The barrier guarantees no
// competing LOCK holder, but acquisition may still wait for in-flight
// readers/writers to drain.
func (op *CommitOp) stepLock(tk *task.Task) task.Result {
	op.txn.mu.Lock()
	order := op.txn.order
	groups := op.txn.groups
	op.txn.mu.Unlock()

	for ; op.lockIdx < len(order); op.lockIdx++ {
		g := groups[order[op.lockIdx]]
		if g.acquiredLock {
			continue
		}

		if !g.entry.WaitQueue().Acquire(rwcsem.LOCK, tk) {
			return task.Suspended
		}

		g.acquiredLock = true
	}

	op.mode = modeApply
	if !op.requestCommit || op.txn.State() == DontCommit {
		op.mode = modeRevert
	}

	op.state = csWrite

	return task.Requeue
}

// WRITE: walk every object-group in order, applying (or reverting) each
// atom in submission order.
func (op *CommitOp) stepWrite(tk *task.Task) task.Result {
	op.txn.mu.Lock()
	order := append([]uint64(nil), op.txn.order...)
	groups := op.txn.groups
	op.txn.mu.Unlock()

	for _, oid := range order {
		g := groups[oid]

		vt, err := op.resolve(g.entry.TypeTag)
		if err != nil {
			op.rollbackAll(order, groups)
			op.failed = true
			op.state = csComplete

			return task.Requeue
		}

		for _, a := range g.atoms {
			if op.mode == modeApply {
				err = vt.Apply(g.entry, a.mutation)
			} else {
				err = vt.Revert(g.entry, a.mutation)
			}

			if err != nil {
				op.rollbackAll(order, groups)
				op.failed = true
				op.state = csComplete

				return task.Requeue
			}
		}
	}

	op.state = csCommit

	return task.Requeue
}

func (op *CommitOp) rollbackAll(order []uint64, groups map[uint64]*objectGroup) {
	for _, oid := range order {
		g := groups[oid]

		if vt, err := op.resolve(g.entry.TypeTag); err == nil {
			_ = vt.Rollback(g.entry)
		}
	}
}

// COMMIT: call type.commit on every touched object, promoting applied
// effects to durable state.
func (op *CommitOp) stepCommit(tk *task.Task) task.Result {
	op.txn.mu.Lock()
	order := append([]uint64(nil), op.txn.order...)
	groups := op.txn.groups
	op.txn.mu.Unlock()

	for _, oid := range order {
		g := groups[oid]

		vt, err := op.resolve(g.entry.TypeTag)
		if err != nil {
			op.failed = true

			continue
		}

		if err := vt.Commit(g.entry); err != nil {
			_ = vt.Rollback(g.entry)
			op.failed = true
		}
	}

	op.state = csComplete

	return task.Requeue
}

// COMPLETE: set the transaction's final state, release every object LOCK
// and clear pending_txn_id, release COMMIT on the transaction's own sem,
// notify, and evict the transaction from the manager's cache.
func (op *CommitOp) stepComplete(tk *task.Task) task.Result {
	final := Committed

	var finalErr error

	switch {
	case op.failed:
		final = RolledBack
	case !op.requestCommit:
		final = RolledBack
	case op.mode == modeRevert:
		final = RolledBack
		finalErr = errs.New(errs.ErrTxnRolledBack).WithTxnID(op.txn.ID)
	}

	op.txn.mu.Lock()
	op.txn.state = final
	order := append([]uint64(nil), op.txn.order...)
	groups := op.txn.groups
	op.txn.mu.Unlock()

	for _, oid := range order {
		g := groups[oid]
		if g.acquiredLock {
			g.entry.WaitQueue().Release(op.sched, rwcsem.LOCK)
		}

		g.entry.PendingTxnID.Store(0)
	}

	op.txn.wq.Release(op.sched, rwcsem.COMMIT)

	if op.notify != nil {
		op.notify(op.txn.ID, final, finalErr)
	}

	op.mgr.evict(op.txn.ID)

	return task.Done
}
