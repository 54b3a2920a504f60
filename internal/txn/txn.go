// Package txn implements the transaction manager and two-phase commit
// machine of spec §4.6: a live-transaction cache, a monotonic txn-id
// allocator, and a per-transaction commit state machine
// (ACQUIRE→BARRIER→LOCK→WRITE→COMMIT→COMPLETE) driven by the task
// scheduler.
//
// Grounded on the teacher's pkg/mddb/wal.go buffered-ops-then-durable-
// commit-point shape and internal/store/tx.go's explicit
// Begin/Commit/Rollback lifecycle with a last-op-wins per-key op map,
// reused here as the per-object atom list (spec's "object-group").
// Uses github.com/google/uuid for the externally-correlatable
// transaction handle (SPEC_FULL.md §B).
package txn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calvinalkan/raleighdb/internal/errs"
	"github.com/calvinalkan/raleighdb/internal/objcache"
	"github.com/calvinalkan/raleighdb/internal/rwcsem"
	"github.com/calvinalkan/raleighdb/internal/task"
)

// State is a transaction's lifecycle state.
type State int

const (
	// Active accepts new atoms via Add.
	Active State = iota
	// DontCommit means some atom's submission failed; a commit request
	// against this transaction automatically degrades to rollback.
	DontCommit
	// Committed is terminal: APPLY completed with no error.
	Committed
	// RolledBack is terminal: APPLY failed, or commit was requested on a
	// DontCommit transaction.
	RolledBack
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case DontCommit:
		return "DONT_COMMIT"
	case Committed:
		return "COMMITTED"
	case RolledBack:
		return "ROLLEDBACK"
	default:
		return "UNKNOWN"
	}
}

type atomRecord struct {
	mutation any
}

// objectGroup is the per-object partition of a transaction's atom list
// (spec's "object-group").
type objectGroup struct {
	entry        *objcache.Entry
	atoms        []atomRecord
	acquiredLock bool
}

// Txn is a single live transaction.
type Txn struct {
	ID     uint64
	Handle uuid.UUID

	sem rwcsem.Sem
	wq  *task.WaitQueue

	mu    sync.Mutex
	state State
	mtime time.Time

	groups map[uint64]*objectGroup
	order  []uint64 // object-group insertion order
}

func newTxn(id uint64) *Txn {
	t := &Txn{
		ID:     id,
		Handle: uuid.New(),
		state:  Active,
		mtime:  time.Now(),
		groups: make(map[uint64]*objectGroup),
	}
	t.wq = task.NewWaitQueue(&t.sem)

	return t
}

// State returns the transaction's current lifecycle state.
func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// MTime returns the time of the transaction's last Add, for idle eviction.
func (t *Txn) MTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.mtime
}

// Add implements spec §4.6's transaction_add: it must be called while the
// caller holds a WRITE or READ acquire on e.Sem (the object scheduler's
// WRITE path is the only real caller). It appends mutation to e's
// object-group atom list and bumps mtime. If the transaction is no longer
// Active this returns ErrTxnClosed; a transaction already marked
// DontCommit still accepts atoms (the degrade-to-rollback only fires at
// commit time).
func (t *Txn) Add(e *objcache.Entry, mutation any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Active && t.state != DontCommit {
		return errs.New(errs.ErrTxnClosed).WithTxnID(t.ID).WithOID(e.OID)
	}

	g, ok := t.groups[e.OID]
	if !ok {
		g = &objectGroup{entry: e}
		t.groups[e.OID] = g
		t.order = append(t.order, e.OID)
	}

	g.atoms = append(g.atoms, atomRecord{mutation: mutation})
	t.mtime = time.Now()

	return nil
}

// MarkDontCommit degrades the transaction: a subsequent commit request
// will automatically revert instead of apply. Used when an atom's own
// submission fails (e.g. allocation failure upstream of Add).
func (t *Txn) MarkDontCommit() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Active {
		t.state = DontCommit
	}
}

// Release drops the read-side refcount taken by [Manager.Acquire].
func (t *Txn) Release() {
	t.sem.Release(rwcsem.READ)
}
