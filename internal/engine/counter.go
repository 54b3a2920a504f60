package engine

import (
	"github.com/calvinalkan/raleighdb/internal/engine/types"
	"github.com/calvinalkan/raleighdb/internal/objcache"
)

func counterOf(entry *objcache.Entry) *types.Counter {
	c, _ := entry.Membufs.(*types.Counter)

	return c
}

// CounterAdd schedules a signed-delta mutation against a counter object
// (SPEC_FULL.md §C), exercising the same exec_write/apply/revert path as
// internal/sset's writes against a type with no keyspace at all.
func (e *Engine) CounterAdd(oid, txnID uint64, delta int64, notify NotifyFunc) {
	e.ExecWrite(oid, func(entry *objcache.Entry) error {
		c := counterOf(entry)

		mutation, err := c.Add(txnID, delta)
		if err != nil {
			return err
		}

		if mutation == nil {
			return nil
		}

		return e.registerAtom(entry, txnID, mutation, func() { c.Revert(mutation) })
	}, notify)
}

// CounterGet schedules a read of a counter's current value.
func (e *Engine) CounterGet(oid, txnID uint64, notify func(int64, error)) {
	e.ExecRead(oid, func(entry *objcache.Entry) (bool, error) {
		notify(counterOf(entry).Value(txnID), nil)

		return false, nil
	}, func(_ uint64, err error) {
		if err != nil {
			notify(0, err)
		}
	})
}
