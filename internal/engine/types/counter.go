// Package types provides the Counter and Memcache stub type engines of
// SPEC_FULL.md §C: concrete, minimal implementations of spec §6's type
// v-table beyond the sorted-set engine, so the object scheduler (§4.5)
// and transaction manager (§4.6) are exercised against more than one
// concrete type instead of only ever against internal/sset. Per-object
// type encodings other than sorted-set are out of scope (spec §1); these
// two exist purely to demonstrate that the scheduler and commit machine
// are type-agnostic, not to add a production key/value or counter
// feature surface.
//
// Grounded on the v-table shape internal/sset.Object already
// establishes (a committed in-memory value plus a single-holder
// txn-lock with fold-on-resubmit), generalized here to a value with no
// key at all — a counter or a memcache object has exactly one logical
// slot, itself.
package types

import (
	"sync"

	"github.com/calvinalkan/raleighdb/internal/errs"
	"github.com/calvinalkan/raleighdb/internal/objcache"
)

// Counter is an int64 value with transactional signed-delta apply/revert,
// folding multiple same-transaction deltas into one pending sum rather
// than one atom per increment (analogous to internal/sset's fold table,
// simplified since a counter has no keyspace to route).
type Counter struct {
	mu      sync.Mutex
	value   int64
	pending *CounterDelta // the one in-flight txn's pending delta, or nil
}

type CounterDelta struct {
	txnID uint64
	delta int64
}

// NewCounter returns a Counter starting at zero.
func NewCounter() *Counter { return &Counter{} }

// Add folds delta into txnID's pending mutation (creating one if none is
// held), or applies immediately for autocommit (txnID == 0). Returns the
// *CounterDelta atom a caller must register with the owning transaction,
// or nil if the write already took effect (autocommit, or folded into an
// existing pending atom).
func (c *Counter) Add(txnID uint64, delta int64) (*CounterDelta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if txnID == 0 {
		c.value += delta

		return nil, nil
	}

	if c.pending != nil {
		if c.pending.txnID != txnID {
			return nil, errs.New(errs.ErrTxnLockedKey)
		}

		c.pending.delta += delta

		return nil, nil
	}

	d := &CounterDelta{txnID: txnID, delta: delta}
	c.pending = d

	return d, nil
}

// Value returns the committed value, honoring txnID's own pending delta
// (a transaction always sees its own uncommitted writes, spec §5).
func (c *Counter) Value(txnID uint64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.value
	if c.pending != nil && c.pending.txnID == txnID {
		v += c.pending.delta
	}

	return v
}

// Apply commits d into the counter's value and clears the pending slot
// if d is still the live pending atom.
func (c *Counter) Apply(d *CounterDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == d {
		c.pending = nil
	}

	c.value += d.delta
}

// Revert discards d without applying it.
func (c *Counter) Revert(d *CounterDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == d {
		c.pending = nil
	}
}

// CounterVTable adapts *Counter to spec §6's type v-table.
type CounterVTable struct{}

func (CounterVTable) Open(e *objcache.Entry) error {
	if e.Membufs == nil {
		e.Membufs = NewCounter()
	}

	return nil
}

func (CounterVTable) Close(e *objcache.Entry) error { e.Membufs = nil; return nil }
func (CounterVTable) Sync(e *objcache.Entry) error  { return nil }
func (CounterVTable) Unlink(e *objcache.Entry) error { return nil }
func (CounterVTable) Commit(e *objcache.Entry) error { return nil }
func (CounterVTable) Rollback(e *objcache.Entry) error { return nil }

func (CounterVTable) Apply(e *objcache.Entry, mutation any) error {
	d, ok := mutation.(*CounterDelta)
	if !ok {
		return errs.New(errs.ErrNotImplemented)
	}

	counter(e).Apply(d)

	return nil
}

func (CounterVTable) Revert(e *objcache.Entry, mutation any) error {
	d, ok := mutation.(*CounterDelta)
	if !ok {
		return errs.New(errs.ErrNotImplemented)
	}

	counter(e).Revert(d)

	return nil
}

func counter(e *objcache.Entry) *Counter {
	c, _ := e.Membufs.(*Counter)

	return c
}
