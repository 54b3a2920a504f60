package objcache

import (
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/raleighdb/internal/rwcsem"
	"github.com/calvinalkan/raleighdb/internal/task"
)

// Entry is the object-cache record of spec §3: an OID-keyed handle to a
// typed object. Membufs/Devbufs are opaque to the cache itself (owned by
// the type engine, e.g. internal/sset's per-object state); the cache only
// manages identity, pinning, and the per-object semaphore.
type Entry struct {
	OID uint64

	// TypeTag identifies which type v-table governs this object
	// ("sset", "counter", "memcache", ... or "" for not-yet-opened).
	TypeTag string

	// Membufs is the type engine's in-memory state for this object,
	// opaque to the cache. Nil until the type's Open hook runs.
	Membufs any

	// Devbufs is a handle into the device-backed pageset owned by the
	// storage backend, opaque to the cache.
	Devbufs any

	// Sem is this object's own RWCSEM (spec §4.1), guarding all
	// operations scheduled against it.
	Sem rwcsem.Sem

	// PendingTxnID is 0 if no transaction currently owns this object's
	// barrier (spec §4.6); otherwise the owning transaction's ID.
	PendingTxnID atomic.Uint64

	opened   atomic.Bool
	refcount atomic.Int32

	wqOnce sync.Once
	wq     *task.WaitQueue
}

// WaitQueue returns this entry's scheduler-facing wait queue, wrapping Sem,
// creating it lazily on first use (most entries in a read-heavy workload
// never block and so never need one).
func (e *Entry) WaitQueue() *task.WaitQueue {
	e.wqOnce.Do(func() {
		e.wq = task.NewWaitQueue(&e.Sem)
	})

	return e.wq
}

// newEntry creates an unopened, unpinned entry for oid.
func newEntry(oid uint64) *Entry {
	return &Entry{OID: oid}
}

// Opened reports whether the type's Open hook has run for this entry yet
// (spec §4.5's OPEN state: "If is_open(object) is false, call
// type.open(object)").
func (e *Entry) Opened() bool { return e.opened.Load() }

// MarkOpened records that Open has run successfully.
func (e *Entry) MarkOpened() { e.opened.Store(true) }

// pin increments the refcount and returns the new value.
func (e *Entry) pin() int32 { return e.refcount.Add(1) }

// unpin decrements the refcount and returns the new value. Panics on
// unbalanced release, matching the fail-loud convention used throughout
// this engine's reference-counted primitives (internal/byteref,
// internal/rwcsem).
func (e *Entry) unpin() int32 {
	n := e.refcount.Add(-1)
	if n < 0 {
		panic("objcache: unbalanced release")
	}

	return n
}

// RefCount returns the current pin count, for tests and diagnostics.
func (e *Entry) RefCount() int32 { return e.refcount.Load() }
