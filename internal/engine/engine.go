// Package engine wires every core component (spec §2) behind a single
// explicit handle: the task scheduler, the object cache, the semantic
// layer, the transaction manager, and a registry of type v-tables. Per
// spec §9's design note ("model this as an explicit Engine handle...
// never as process-global mutable state"), every exec_* operation and
// every type hook takes an *Engine (or a value closing over one) rather
// than reaching for package-level state, so a test binary can run many
// engines concurrently the same way the teacher's pkg/slotcache tests
// run many independent Cache handles.
//
// Grounded on internal/store.Store's composition-root shape (one struct
// holding every collaborator, an Open/lifecycle method set) and
// cmd/tk/main.go's wiring of those collaborators into a single runnable
// program.
package engine

import (
	"fmt"
	"sync"

	"github.com/calvinalkan/raleighdb/internal/errs"
	"github.com/calvinalkan/raleighdb/internal/engine/types"
	"github.com/calvinalkan/raleighdb/internal/objcache"
	"github.com/calvinalkan/raleighdb/internal/objsched"
	"github.com/calvinalkan/raleighdb/internal/rwcsem"
	"github.com/calvinalkan/raleighdb/internal/semantic"
	"github.com/calvinalkan/raleighdb/internal/sset"
	"github.com/calvinalkan/raleighdb/internal/task"
	"github.com/calvinalkan/raleighdb/internal/txn"
)

// NotifyFunc is spec §6's notify_fn, fired exactly once per scheduled
// operation: (oid, err). The fs/udata/err_data slots of the C signature
// are represented by whatever the caller's closure captures instead of
// being threaded through generically.
type NotifyFunc func(oid uint64, err error)

// TxnNotifyFunc is the exec_txn_commit/exec_txn_rollback notify shape.
type TxnNotifyFunc func(txnID uint64, err error)

// Engine is the top-level handle threading every collaborator through
// the exec_* operations of spec §6.
type Engine struct {
	cfg   Config
	sched *task.Scheduler
	cache *objcache.Cache

	semantic *semantic.Layer
	txnMgr   *txn.Manager

	mu       sync.RWMutex
	vtables  map[string]objsched.VTable
	typeTags map[uint64]string // oid -> type tag, engine-resident per spec §9 (no durable catalog in scope)

	closeOnce sync.Once
}

// New creates an Engine from cfg, registering the sorted-set engine plus
// the Counter/Memcache stub type engines of SPEC_FULL.md §C under their
// type tags ("sset", "counter", "memcache"). Additional types can be
// registered with [Engine.RegisterType] before first use.
func New(cfg Config) *Engine {
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}

	e := &Engine{
		cfg:      cfg,
		sched:    task.NewScheduler(cfg.Threads),
		semantic: semantic.New(),
		txnMgr:   txn.NewManager(cfg.Logf),
		vtables:  make(map[string]objsched.VTable),
		typeTags: make(map[uint64]string),
	}

	e.cache = objcache.New(cfg.ObjectCacheCapacity, e.evict, cfg.Logf)
	e.RegisterType("sset", newSSetVTable(cfg))
	e.RegisterType("counter", types.CounterVTable{})
	e.RegisterType("memcache", types.MemcacheVTable{})

	return e
}

// RegisterType adds (or replaces) the v-table governing typeTag. Must be
// called before any object of that type is created.
func (e *Engine) RegisterType(typeTag string, vt objsched.VTable) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vtables[typeTag] = vt
}

// Close stops the task scheduler. Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.sched.Stop()
	})
}

// LogIdleTransactions runs spec §5's idle-transaction diagnostic pass
// (log-only; see internal/txn.Manager.LogIdle) using the engine's
// configured threshold.
func (e *Engine) LogIdleTransactions() {
	e.txnMgr.LogIdle(e.cfg.TxnIdleEviction())
}

func (e *Engine) resolve(typeTag string) (objsched.VTable, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vt, ok := e.vtables[typeTag]
	if !ok {
		return nil, errs.New(errs.ErrPluginNotLoaded)
	}

	return vt, nil
}

func (e *Engine) typeTagFor(oid uint64) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tag, ok := e.typeTags[oid]

	return tag, ok
}

func (e *Engine) setTypeTag(oid uint64, typeTag string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.typeTags[oid] = typeTag
}

func (e *Engine) clearTypeTag(oid uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.typeTags, oid)
}

// evict is the objcache.EvictFunc: spec §4.3's "eviction calls the
// type's close/sync", dispatched through whichever v-table governs the
// entry's TypeTag.
func (e *Engine) evict(entry *objcache.Entry) error {
	if entry.TypeTag == "" {
		return nil
	}

	vt, err := e.resolve(entry.TypeTag)
	if err != nil {
		return err
	}

	if err := vt.Sync(entry); err != nil {
		return fmt.Errorf("engine: evict sync oid=%d: %w", entry.OID, err)
	}

	return vt.Close(entry)
}

// ExecCreate implements spec §6's exec_create: it allocates a fresh OID
// under name via the semantic layer, opens a cache entry of typeTag for
// it (the type's lazy Open hook doubles as spec's distinct create hook
// in this in-process engine — see DESIGN.md), and commits the semantic
// mutation once the open succeeds.
func (e *Engine) ExecCreate(name, typeTag string, notify NotifyFunc) {
	vt, err := e.resolve(typeTag)
	if err != nil {
		notify(0, err)

		return
	}

	pending, err := e.semantic.Create(name)
	if err != nil {
		notify(0, err)

		return
	}

	oid := pending.OID()

	entry := e.cache.Get(oid)
	entry.TypeTag = typeTag

	if err := vt.Open(entry); err != nil {
		e.cache.Release(entry)
		e.cache.Remove(oid)
		e.semantic.Rollback(pending)
		notify(0, err)

		return
	}

	entry.MarkOpened()
	e.setTypeTag(oid, typeTag)
	e.semantic.Commit(pending)
	e.cache.Release(entry)

	notify(oid, nil)
}

// ExecLookup implements spec §6's exec_lookup.
func (e *Engine) ExecLookup(name string, notify NotifyFunc) {
	oid, err := e.semantic.Lookup(name)
	notify(oid, err)
}

// ExecUnlink implements spec §6's exec_unlink: it stages the name's
// removal, runs the type's Unlink hook against the resident object (if
// any), and commits the semantic removal.
func (e *Engine) ExecUnlink(name string, notify NotifyFunc) {
	pending, err := e.semantic.Unlink(name)
	if err != nil {
		notify(0, err)

		return
	}

	oid := pending.OID()

	if entry := e.cache.Lookup(oid); entry != nil {
		if typeTag, ok := e.typeTagFor(oid); ok {
			if vt, resolveErr := e.resolve(typeTag); resolveErr == nil {
				if unlinkErr := vt.Unlink(entry); unlinkErr != nil {
					e.cache.Release(entry)
					e.semantic.Rollback(pending)
					notify(0, unlinkErr)

					return
				}
			}
		}

		e.cache.Release(entry)
	}

	e.clearTypeTag(oid)
	e.semantic.Commit(pending)
	notify(oid, nil)
}

// ExecRename implements spec §6's exec_rename.
func (e *Engine) ExecRename(oldName, newName string, notify NotifyFunc) {
	pending, err := e.semantic.Rename(oldName, newName)
	if err != nil {
		notify(0, err)

		return
	}

	e.semantic.Commit(pending)
	notify(pending.OID(), nil)
}

// ExecRead implements spec §6's exec_read: schedules a READ-mode
// [objsched.Op] against oid, resolving its v-table from the type tag
// recorded at creation.
func (e *Engine) ExecRead(oid uint64, readFn objsched.ReadFunc, notify NotifyFunc) {
	typeTag, ok := e.typeTagFor(oid)
	if !ok {
		notify(0, errs.New(errs.ErrObjectNotFound).WithOID(oid))

		return
	}

	vt, err := e.resolve(typeTag)
	if err != nil {
		notify(0, err)

		return
	}

	objsched.Exec(e.sched, e.cache, vt, oid, rwcsem.READ, readFn, nil, func(oid uint64, err error) {
		notify(oid, err)
	})
}

// ExecWrite implements spec §6's exec_write.
func (e *Engine) ExecWrite(oid uint64, writeFn objsched.WriteFunc, notify NotifyFunc) {
	typeTag, ok := e.typeTagFor(oid)
	if !ok {
		notify(0, errs.New(errs.ErrObjectNotFound).WithOID(oid))

		return
	}

	vt, err := e.resolve(typeTag)
	if err != nil {
		notify(0, err)

		return
	}

	objsched.Exec(e.sched, e.cache, vt, oid, rwcsem.WRITE, nil, writeFn, func(oid uint64, err error) {
		notify(oid, err)
	})
}

// TransactionCreate implements spec §6's transaction_create.
func (e *Engine) TransactionCreate() uint64 {
	return e.txnMgr.Create().ID
}

// ExecTxnCommit implements spec §6's exec_txn_commit, running the
// ACQUIRE→BARRIER→LOCK→WRITE→COMMIT→COMPLETE state machine of spec §4.6
// to completion (applying every atom).
func (e *Engine) ExecTxnCommit(txnID uint64, notify TxnNotifyFunc) {
	err := txn.Commit(e.txnMgr, e.sched, txnID, e.resolve, true, func(_ uint64, _ txn.State, err error) {
		notify(txnID, err)
	})
	if err != nil {
		notify(txnID, err)
	}
}

// ExecTxnRollback implements spec §6's exec_txn_rollback: drives the same
// state machine with requestCommit=false, forcing REVERT mode.
func (e *Engine) ExecTxnRollback(txnID uint64, notify TxnNotifyFunc) {
	err := txn.Commit(e.txnMgr, e.sched, txnID, e.resolve, false, func(_ uint64, _ txn.State, err error) {
		notify(txnID, err)
	})
	if err != nil {
		notify(txnID, err)
	}
}

// registerAtom implements spec §4.6's transaction_add call site shared by
// every type engine's write path. Callers must only call this with a
// non-nil mutation — a nil mutation (autocommit, or folded into an
// already-registered atom) means the write already took effect and there
// is nothing to register, which callers must check at their own concrete
// mutation-pointer type before reaching here (a nil concrete pointer
// boxed into this func's `any` parameter is a non-nil interface value,
// the classic typed-nil pitfall, so the nil check cannot live here).
// registerAtom hands mutation to txnID's transaction while the caller
// still holds WRITE on entry.Sem; if the transaction is missing or the
// registration itself fails, revert undoes whatever the type engine
// already staged and the transaction is marked DONT_COMMIT (spec §4.6:
// "if any allocation fails, the transaction's state is set to
// DONT_COMMIT").
func (e *Engine) registerAtom(entry *objcache.Entry, txnID uint64, mutation any, revert func()) error {
	t := e.txnMgr.Lookup(txnID)
	if t == nil {
		revert()

		return errs.New(errs.ErrTxnNotFound).WithTxnID(txnID)
	}

	if err := t.Add(entry, mutation); err != nil {
		revert()
		t.MarkDontCommit()

		return err
	}

	return nil
}

// ssetObject returns oid's *sset.Object from its cache entry's Membufs,
// or nil if Membufs holds anything else (callers only reach here after
// resolving oid's type tag to "sset").
func ssetObject(entry *objcache.Entry) *sset.Object {
	obj, _ := entry.Membufs.(*sset.Object)

	return obj
}
