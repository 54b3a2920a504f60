package types

import (
	"sync"

	"github.com/calvinalkan/raleighdb/internal/errs"
	"github.com/calvinalkan/raleighdb/internal/objcache"
)

// memKind discriminates a Memcache object's pending mutation.
type memKind int

const (
	memSet memKind = iota
	memDelete
)

// MemcacheMutation is the single pending atom a Memcache object can hold
// at a time (an object has exactly one slot, so — unlike
// internal/sset's per-key txn-lock table — there is only ever one
// possible lock holder).
type MemcacheMutation struct {
	txnID uint64
	kind  memKind
	value []byte
}

// Memcache is a single-key byte-ref value slot (SPEC_FULL.md §C): the
// "memcache tables" object type named in spec §3's data model, reduced
// to its v-table-dispatch essentials since per-type wire encodings are
// out of scope (spec §1).
type Memcache struct {
	mu      sync.Mutex
	value   []byte
	present bool
	pending *MemcacheMutation
}

// NewMemcache returns an empty (not-present) Memcache slot.
func NewMemcache() *Memcache { return &Memcache{} }

func (m *Memcache) write(txnID uint64, kind memKind, value []byte) (*MemcacheMutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		if m.pending.txnID != txnID {
			return nil, errs.New(errs.ErrTxnLockedKey)
		}

		m.pending.kind = kind
		m.pending.value = value

		return nil, nil
	}

	if txnID == 0 {
		m.applyLocked(kind, value)

		return nil, nil
	}

	d := &MemcacheMutation{txnID: txnID, kind: kind, value: value}
	m.pending = d

	return d, nil
}

// Set stages (or applies, for autocommit) setting the slot's value.
func (m *Memcache) Set(txnID uint64, value []byte) (*MemcacheMutation, error) {
	return m.write(txnID, memSet, value)
}

// Delete stages (or applies) clearing the slot. Returns
// ErrDataKeyNotFound immediately, without staging anything, if the slot
// is not currently set — mirroring internal/sset's transactional-remove-
// of-a-missing-key resolution (spec §9).
func (m *Memcache) Delete(txnID uint64) (*MemcacheMutation, error) {
	m.mu.Lock()
	if m.pending == nil && !m.present {
		m.mu.Unlock()

		return nil, errs.New(errs.ErrDataKeyNotFound)
	}
	m.mu.Unlock()

	return m.write(txnID, memDelete, nil)
}

// Get returns the slot's value, honoring txnID's own pending write.
func (m *Memcache) Get(txnID uint64) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil && m.pending.txnID == txnID {
		if m.pending.kind == memDelete {
			return nil, false
		}

		return m.pending.value, true
	}

	return m.value, m.present
}

func (m *Memcache) applyLocked(kind memKind, value []byte) {
	switch kind {
	case memSet:
		m.value = value
		m.present = true
	case memDelete:
		m.value = nil
		m.present = false
	}
}

// Apply commits d into the slot and clears the pending marker if d is
// still the live pending atom.
func (m *Memcache) Apply(d *MemcacheMutation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == d {
		m.pending = nil
	}

	m.applyLocked(d.kind, d.value)
}

// Revert discards d without applying it.
func (m *Memcache) Revert(d *MemcacheMutation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == d {
		m.pending = nil
	}
}

// MemcacheVTable adapts *Memcache to spec §6's type v-table.
type MemcacheVTable struct{}

func (MemcacheVTable) Open(e *objcache.Entry) error {
	if e.Membufs == nil {
		e.Membufs = NewMemcache()
	}

	return nil
}

func (MemcacheVTable) Close(e *objcache.Entry) error   { e.Membufs = nil; return nil }
func (MemcacheVTable) Sync(e *objcache.Entry) error    { return nil }
func (MemcacheVTable) Unlink(e *objcache.Entry) error  { return nil }
func (MemcacheVTable) Commit(e *objcache.Entry) error  { return nil }
func (MemcacheVTable) Rollback(e *objcache.Entry) error { return nil }

func (MemcacheVTable) Apply(e *objcache.Entry, mutation any) error {
	d, ok := mutation.(*MemcacheMutation)
	if !ok {
		return errs.New(errs.ErrNotImplemented)
	}

	memcache(e).Apply(d)

	return nil
}

func (MemcacheVTable) Revert(e *objcache.Entry, mutation any) error {
	d, ok := mutation.(*MemcacheMutation)
	if !ok {
		return errs.New(errs.ErrNotImplemented)
	}

	memcache(e).Revert(d)

	return nil
}

func memcache(e *objcache.Entry) *Memcache {
	c, _ := e.Membufs.(*Memcache)

	return c
}
