// Package task implements the cooperative task scheduler of spec §4.2:
// small state-machine records run to their next suspension point by a
// fixed pool of worker goroutines, suspending only on RWCSEM acquisition.
//
// There is no per-request goroutine. A [Task] is a record carrying a Step
// function; the [Scheduler] pops ready tasks from a FIFO and calls Step,
// which performs one state transition and returns a [Result] telling the
// scheduler what to do next: finish, requeue immediately, or suspend
// (because the task registered itself on a [WaitQueue] and will be
// re-enqueued by that queue's own wakeup logic when its op becomes
// feasible).
//
// The worker-pool-over-channels shape is new (the teacher has no task
// scheduler of its own — its concurrency story is request-scoped
// goroutines plus file locks), but the suspend/resume contract mirrors
// the buffered-then-committed lifecycle of agent-task's pkg/mddb
// transactions: a unit of work accumulates state, then executes a fixed
// sequence of steps to completion, recovering (replaying) rather than
// blocking forever if interrupted mid-sequence.
package task

import (
	"runtime"
	"time"
)

// Result tells the Scheduler what to do with a Task after Step returns.
type Result int

const (
	// Done means the task finished; the scheduler drops its reference.
	Done Result = iota

	// Requeue means the task yielded voluntarily (e.g. a read function
	// returned SCHED_YIELD) and must be placed back on the ready ring
	// without releasing anything it holds.
	Requeue

	// Suspended means the task blocked acquiring an RWCSEM op and
	// registered itself on a WaitQueue; the scheduler does nothing
	// further — the WaitQueue re-enqueues it once the op is feasible.
	Suspended
)

// StepFunc performs one state transition for a task and reports what the
// scheduler should do next.
type StepFunc func(t *Task) Result

// Task is a small state-machine record (spec §4.2): state/flags live in
// whatever closure state Step closes over (an *objsched.opTask or
// *txn.commitTask in practice); Task itself is just the scheduling
// envelope plus up to four generic slots for adapter use, mirroring the
// source design's "up to 4 generic args" without requiring callers to
// define a new envelope type per use.
type Task struct {
	Step StepFunc

	// Args are caller-defined slots (spec §4.2's "up to 4 generic args").
	Args [4]any

	// PendingOp is set by whichever WaitQueue the task is currently
	// registered on, so that Wake knows what to retry.
	PendingOp int

	// Udata is opaque caller data threaded through to completion
	// (spec §6's notify_fn udata).
	Udata any
}

// New creates a Task with the given step function.
func New(step StepFunc) *Task {
	return &Task{Step: step}
}

// Scheduler runs tasks to their next suspension point using a fixed pool
// of worker goroutines, plus a pending ring drained periodically into the
// ready ring (spec §4.2's add_pending/drain contract).
type Scheduler struct {
	ready   chan *Task
	pending chan *Task
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler starts a Scheduler with the given number of workers (default:
// GOMAXPROCS, analogous to the spec's "default one per CPU").
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	s := &Scheduler{
		ready:   make(chan *Task, 1024),
		pending: make(chan *Task, 1024),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	for range workers {
		go s.workerLoop()
	}

	go s.pendingDrainLoop()

	return s
}

// AddTask enqueues t on the ready ring. Some worker will pop it and call
// Step.
func (s *Scheduler) AddTask(t *Task) {
	select {
	case s.ready <- t:
	case <-s.stop:
	}
}

// AddPending enqueues t on the pending ring: used when a task is blocked
// behind a barrier with no direct wakeup hook (e.g. the object scheduler's
// OPEN-defer retry while another transaction owns the object, spec §4.5).
func (s *Scheduler) AddPending(t *Task) {
	select {
	case s.pending <- t:
	case <-s.stop:
	}
}

// Stop halts worker goroutines and the pending-drain loop. Tasks already
// popped run to their next suspension point before their goroutine exits.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) workerLoop() {
	for {
		select {
		case <-s.stop:
			return
		case t := <-s.ready:
			s.runStep(t)
		}
	}
}

func (s *Scheduler) runStep(t *Task) {
	switch t.Step(t) {
	case Done, Suspended:
		// Done: nothing more to do. Suspended: a WaitQueue now owns
		// re-enqueuing this task; the scheduler must not touch it.
	case Requeue:
		s.AddTask(t)
	}
}

// pendingDrainLoop periodically moves tasks from pending to ready,
// implementing spec §4.2's "workers periodically drain pending into
// ready" without requiring every blocked path to have a precise wakeup
// hook wired up.
func (s *Scheduler) pendingDrainLoop() {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.drainOnce()
		}
	}
}

func (s *Scheduler) drainOnce() {
	for {
		select {
		case t := <-s.pending:
			s.AddTask(t)
		default:
			return
		}
	}
}
