package engine

import (
	"github.com/calvinalkan/raleighdb/internal/errs"
	"github.com/calvinalkan/raleighdb/internal/objcache"
	"github.com/calvinalkan/raleighdb/internal/sset"
)

// ssetVTable adapts *sset.Object to the objsched.VTable interface, the
// "type v-table" of spec §6 for the sorted-set engine.
type ssetVTable struct {
	syncThreshold int
}

func newSSetVTable(cfg Config) *ssetVTable {
	return &ssetVTable{syncThreshold: cfg.SSetSyncThreshold}
}

func (v *ssetVTable) Open(e *objcache.Entry) error {
	if e.Membufs == nil {
		e.Membufs = sset.NewWithConfig(v.syncThreshold)
	}

	return nil
}

func (v *ssetVTable) Close(e *objcache.Entry) error {
	e.Membufs = nil

	return nil
}

func (v *ssetVTable) Sync(e *objcache.Entry) error {
	return ssetObject(e).Sync()
}

func (v *ssetVTable) Unlink(e *objcache.Entry) error {
	return nil
}

func (v *ssetVTable) Commit(e *objcache.Entry) error {
	return ssetObject(e).Commit()
}

func (v *ssetVTable) Rollback(e *objcache.Entry) error {
	return nil
}

func (v *ssetVTable) Apply(e *objcache.Entry, mutation any) error {
	m, ok := mutation.(*sset.Mutation)
	if !ok {
		return errs.New(errs.ErrNotImplemented)
	}

	return ssetObject(e).Apply(m)
}

func (v *ssetVTable) Revert(e *objcache.Entry, mutation any) error {
	m, ok := mutation.(*sset.Mutation)
	if !ok {
		return errs.New(errs.ErrNotImplemented)
	}

	return ssetObject(e).Revert(m)
}

// registerMutation is internal/sset's call site for [Engine.registerAtom]:
// a non-nil mutation must be registered with txnID's transaction, with
// obj.Revert as the undo path if that registration fails.
func (e *Engine) registerMutation(entry *objcache.Entry, txnID uint64, mutation *sset.Mutation, obj *sset.Object) error {
	if mutation == nil {
		return nil
	}

	return e.registerAtom(entry, txnID, mutation, func() { _ = obj.Revert(mutation) })
}

// SSetInsert implements spec §4.7's insert, scheduled through exec_write.
func (e *Engine) SSetInsert(oid, txnID uint64, key, value []byte, notify NotifyFunc) {
	e.ExecWrite(oid, func(entry *objcache.Entry) error {
		obj := ssetObject(entry)

		mutation, err := obj.Insert(txnID, key, value)
		if err != nil {
			return err
		}

		return e.registerMutation(entry, txnID, mutation, obj)
	}, notify)
}

// SSetUpdate implements spec §4.7's update, as a single atomic
// INSERT-with-allow-update atom per spec §9's design note (never
// decomposed into remove+insert).
func (e *Engine) SSetUpdate(oid, txnID uint64, key, value []byte, notify NotifyFunc) {
	e.ExecWrite(oid, func(entry *objcache.Entry) error {
		obj := ssetObject(entry)

		mutation, err := obj.Update(txnID, key, value)
		if err != nil {
			return err
		}

		return e.registerMutation(entry, txnID, mutation, obj)
	}, notify)
}

// SSetRemove implements spec §4.7's remove.
func (e *Engine) SSetRemove(oid, txnID uint64, key []byte, notify NotifyFunc) {
	e.ExecWrite(oid, func(entry *objcache.Entry) error {
		obj := ssetObject(entry)

		mutation, err := obj.Remove(txnID, key)
		if err != nil {
			return err
		}

		return e.registerMutation(entry, txnID, mutation, obj)
	}, notify)
}

// SSetGetResult is the outcome of a scheduled SSetGet.
type SSetGetResult struct {
	Value []byte
	Found bool
}

// SSetGet implements spec §4.7's get, scheduled through exec_read.
func (e *Engine) SSetGet(oid, txnID uint64, key []byte, notify func(SSetGetResult, error)) {
	e.ExecRead(oid, func(entry *objcache.Entry) (bool, error) {
		value, found := ssetObject(entry).Get(txnID, key)
		if !found {
			notify(SSetGetResult{}, errs.New(errs.ErrDataKeyNotFound).WithOID(entry.OID))

			return false, nil
		}

		notify(SSetGetResult{Value: value, Found: true}, nil)

		return false, nil
	}, func(_ uint64, err error) {
		if err != nil {
			notify(SSetGetResult{}, err)
		}
	})
}

// SSetScanResult is one (key, value) pair returned by a scan.
type SSetScanResult struct {
	Key   []byte
	Value []byte
}

// SSetScan implements spec §4.7's scan, scheduled through exec_read.
// count=0 means unbounded.
func (e *Engine) SSetScan(oid, txnID uint64, startKey []byte, count int, notify func([]SSetScanResult, error)) {
	e.ExecRead(oid, func(entry *objcache.Entry) (bool, error) {
		rows := ssetObject(entry).Scan(txnID, startKey, count)

		out := make([]SSetScanResult, len(rows))
		for i, r := range rows {
			out[i] = SSetScanResult{Key: r.Key, Value: r.Value}
		}

		notify(out, nil)

		return false, nil
	}, func(_ uint64, err error) {
		if err != nil {
			notify(nil, err)
		}
	})
}
