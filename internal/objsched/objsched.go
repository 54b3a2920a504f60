// Package objsched implements the per-operation object scheduler of spec
// §4.5: a small state machine (OPEN → READ/WRITE → COMMIT) driven by the
// task scheduler, one [Op] per scheduled exec_read/exec_write call.
//
// Grounded on the teacher's pkg/mddb Tx lifecycle (open → apply op →
// commit, with rollback on failure at any step) generalized from "a single
// goroutine running a transaction start to finish" to "a resumable task
// suspending at each RWCSEM acquisition."
package objsched

import (
	"github.com/calvinalkan/raleighdb/internal/objcache"
	"github.com/calvinalkan/raleighdb/internal/rwcsem"
	"github.com/calvinalkan/raleighdb/internal/task"
)

// VTable is the per-type operation table of spec §6 that every object type
// (sorted-set, counter, memcache, ...) implements.
type VTable interface {
	Open(e *objcache.Entry) error
	Close(e *objcache.Entry) error
	Sync(e *objcache.Entry) error
	Unlink(e *objcache.Entry) error
	Commit(e *objcache.Entry) error
	Rollback(e *objcache.Entry) error
	Apply(e *objcache.Entry, mutation any) error
	Revert(e *objcache.Entry, mutation any) error
}

// ReadFunc runs under a READ acquire on the object's sem. Returning
// yield=true (spec's SCHED_YIELD) means "not done yet, keep me attached" —
// the task re-enters the ready queue without releasing READ.
type ReadFunc func(e *objcache.Entry) (yield bool, err error)

// WriteFunc runs under a WRITE acquire on the object's sem.
type WriteFunc func(e *objcache.Entry) error

// NotifyFunc is called exactly once, on completion, with the operation's
// outcome (spec §6's notify_fn, minus the fs/udata/err_data slots which
// callers close over instead).
type NotifyFunc func(oid uint64, err error)

type state int

const (
	stateOpen state = iota
	stateRead
	stateWrite
	stateCommit
)

// Op is one scheduled read or write operation against a single object.
type Op struct {
	sched *task.Scheduler
	cache *objcache.Cache
	vt    VTable

	oid     uint64
	flags   rwcsem.Op // READ or WRITE: the task's intended op after OPEN
	readFn  ReadFunc
	writeFn WriteFunc
	notify  NotifyFunc

	entry *objcache.Entry
	state state
}

// Exec schedules a read (flags=rwcsem.READ, readFn set) or write
// (flags=rwcsem.WRITE, writeFn set) operation against oid.
func Exec(sched *task.Scheduler, cache *objcache.Cache, vt VTable, oid uint64, flags rwcsem.Op, readFn ReadFunc, writeFn WriteFunc, notify NotifyFunc) {
	if flags != rwcsem.READ && flags != rwcsem.WRITE {
		panic("objsched: flags must be READ or WRITE")
	}

	op := &Op{
		sched:   sched,
		cache:   cache,
		vt:      vt,
		oid:     oid,
		flags:   flags,
		readFn:  readFn,
		writeFn: writeFn,
		notify:  notify,
		state:   stateOpen,
	}

	sched.AddTask(task.New(op.step))
}

func (op *Op) step(tk *task.Task) task.Result {
	switch op.state {
	case stateOpen:
		return op.stepOpen(tk)
	case stateRead:
		return op.stepRead(tk)
	case stateWrite:
		return op.stepWrite(tk)
	case stateCommit:
		return op.stepCommit(tk)
	default:
		panic("objsched: unknown state")
	}
}

func (op *Op) stepOpen(tk *task.Task) task.Result {
	if op.entry == nil {
		op.entry = op.cache.Get(op.oid)
	}

	if op.entry.PendingTxnID.Load() != 0 {
		op.sched.AddPending(tk)

		return task.Suspended
	}

	wq := op.entry.WaitQueue()
	if !wq.Acquire(rwcsem.WRITE, tk) {
		return task.Suspended
	}

	if !op.entry.Opened() {
		if err := op.vt.Open(op.entry); err != nil {
			wq.Release(op.sched, rwcsem.WRITE)
			op.finish(err)

			return task.Done
		}

		op.entry.MarkOpened()
	}

	if !wq.Sem().TrySwitch(rwcsem.WRITE, op.flags) {
		// Commit or lock intent appeared in the gap between open and
		// switch; back off and retry OPEN from scratch.
		wq.Release(op.sched, rwcsem.WRITE)

		return task.Requeue
	}

	if op.flags == rwcsem.READ {
		op.state = stateRead
	} else {
		op.state = stateWrite
	}

	return task.Requeue
}

func (op *Op) stepRead(tk *task.Task) task.Result {
	yield, err := op.readFn(op.entry)
	if yield {
		return task.Requeue
	}

	op.entry.WaitQueue().Release(op.sched, rwcsem.READ)
	op.finish(err)

	return task.Done
}

func (op *Op) stepWrite(tk *task.Task) task.Result {
	wq := op.entry.WaitQueue()

	if err := op.writeFn(op.entry); err != nil {
		_ = op.vt.Rollback(op.entry)
		wq.Release(op.sched, rwcsem.WRITE)
		op.finish(err)

		return task.Done
	}

	if !wq.Sem().TrySwitch(rwcsem.WRITE, rwcsem.COMMIT) {
		panic("objsched: write->commit switch must succeed while holding WRITE")
	}

	op.state = stateCommit

	return task.Requeue
}

func (op *Op) stepCommit(tk *task.Task) task.Result {
	wq := op.entry.WaitQueue()

	err := op.vt.Commit(op.entry)
	if err != nil {
		_ = op.vt.Rollback(op.entry)
	}

	wq.Release(op.sched, rwcsem.COMMIT)
	op.finish(err)

	return task.Done
}

func (op *Op) finish(err error) {
	op.cache.Release(op.entry)

	if op.notify != nil {
		op.notify(op.oid, err)
	}
}
