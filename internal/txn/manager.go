package txn

import (
	"container/list"
	"sync"
	"time"

	"github.com/calvinalkan/raleighdb/internal/errs"
	"github.com/calvinalkan/raleighdb/internal/rwcsem"
)

// Manager is the TXN manager of spec §4.6: an LRU-tracked cache of live
// transactions, a monotonic next_txn_id, and a single ticket lock
// serializing barrier acquisition across concurrently-committing
// transactions.
type Manager struct {
	mu        sync.Mutex
	nextTxnID uint64
	txns      map[uint64]*Txn

	lru    *list.List // most-recently-touched at front, of uint64 IDs
	lruPos map[uint64]*list.Element

	// ticket serializes the BARRIER step across concurrently-committing
	// transactions (spec §4.6: "under the TXN-manager ticket lock").
	ticket sync.Mutex

	logf func(format string, args ...any)
}

// NewManager creates an empty Manager.
func NewManager(logf func(format string, args ...any)) *Manager {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	return &Manager{
		txns:   make(map[uint64]*Txn),
		lru:    list.New(),
		lruPos: make(map[uint64]*list.Element),
		logf:   logf,
	}
}

// Create allocates a new Active transaction with a fresh monotonic ID.
func (m *Manager) Create() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTxnID++
	id := m.nextTxnID

	t := newTxn(id)
	m.txns[id] = t
	m.lruPos[id] = m.lru.PushFront(id)

	return t
}

// Acquire implements spec §4.6's transaction_acquire: it looks up txnID
// and takes a read-side refcount on the transaction's own RWCSEM. It
// fails with ErrTxnNotFound if no such transaction is live, or
// ErrTxnClosed if the transaction has already passed its ACQUIRE commit
// step (its sem no longer admits READ).
func (m *Manager) Acquire(txnID uint64) (*Txn, error) {
	m.mu.Lock()
	t, ok := m.txns[txnID]
	if ok {
		if el, ok := m.lruPos[txnID]; ok {
			m.lru.MoveToFront(el)
		}
	}
	m.mu.Unlock()

	if !ok {
		return nil, errs.New(errs.ErrTxnNotFound).WithTxnID(txnID)
	}

	if !t.sem.TryAcquire(rwcsem.READ) {
		return nil, errs.New(errs.ErrTxnClosed).WithTxnID(txnID)
	}

	return t, nil
}

// Lookup returns the live transaction for txnID without taking a refcount,
// or nil if none exists. Used internally by the commit path, which already
// holds its own reference via the commit task.
func (m *Manager) Lookup(txnID uint64) *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.txns[txnID]
}

// evict removes txnID from the live-transaction cache. Called only from
// the COMPLETE step of the commit state machine.
func (m *Manager) evict(txnID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.txns, txnID)

	if el, ok := m.lruPos[txnID]; ok {
		m.lru.Remove(el)
		delete(m.lruPos, txnID)
	}
}

// Len returns the number of live (not yet evicted) transactions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.txns)
}

// LogIdle logs (spec §5: "in future evicts") every live transaction whose
// mtime is older than threshold. It does not evict — per spec §5 this
// policy is presently log-only, a deliberately conservative choice since a
// transaction mid-BARRIER/LOCK cannot be safely dropped without releasing
// the objects it has pinned, which this package does not yet do.
func (m *Manager) LogIdle(threshold time.Duration) {
	m.mu.Lock()
	txns := make([]*Txn, 0, len(m.txns))
	for _, t := range m.txns {
		txns = append(txns, t)
	}
	m.mu.Unlock()

	now := time.Now()

	for _, t := range txns {
		if now.Sub(t.MTime()) >= threshold {
			m.logf("txn: id=%d idle for %s (state=%s)", t.ID, now.Sub(t.MTime()), t.State())
		}
	}
}
