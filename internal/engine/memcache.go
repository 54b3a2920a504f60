package engine

import (
	"github.com/calvinalkan/raleighdb/internal/engine/types"
	"github.com/calvinalkan/raleighdb/internal/objcache"
)

func memcacheOf(entry *objcache.Entry) *types.Memcache {
	m, _ := entry.Membufs.(*types.Memcache)

	return m
}

// MemcacheSet schedules setting a memcache object's single value slot
// (SPEC_FULL.md §C).
func (e *Engine) MemcacheSet(oid, txnID uint64, value []byte, notify NotifyFunc) {
	e.ExecWrite(oid, func(entry *objcache.Entry) error {
		m := memcacheOf(entry)

		mutation, err := m.Set(txnID, value)
		if err != nil {
			return err
		}

		if mutation == nil {
			return nil
		}

		return e.registerAtom(entry, txnID, mutation, func() { m.Revert(mutation) })
	}, notify)
}

// MemcacheDelete schedules clearing a memcache object's slot.
func (e *Engine) MemcacheDelete(oid, txnID uint64, notify NotifyFunc) {
	e.ExecWrite(oid, func(entry *objcache.Entry) error {
		m := memcacheOf(entry)

		mutation, err := m.Delete(txnID)
		if err != nil {
			return err
		}

		if mutation == nil {
			return nil
		}

		return e.registerAtom(entry, txnID, mutation, func() { m.Revert(mutation) })
	}, notify)
}

// MemcacheGetResult is the outcome of a scheduled MemcacheGet.
type MemcacheGetResult struct {
	Value []byte
	Found bool
}

// MemcacheGet schedules a read of a memcache object's slot.
func (e *Engine) MemcacheGet(oid, txnID uint64, notify func(MemcacheGetResult, error)) {
	e.ExecRead(oid, func(entry *objcache.Entry) (bool, error) {
		value, found := memcacheOf(entry).Get(txnID)
		notify(MemcacheGetResult{Value: value, Found: found}, nil)

		return false, nil
	}, func(_ uint64, err error) {
		if err != nil {
			notify(MemcacheGetResult{}, err)
		}
	})
}
