package engine

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// await turns an engine's async notify-callback style into a blocking
// call for tests, mirroring how internal/txn's tests drain a scheduler
// to completion rather than asserting on bare goroutine output.
func await[T any](t *testing.T, register func(notify func(T, error))) (T, error) {
	t.Helper()

	resultCh := make(chan struct {
		v   T
		err error
	}, 1)

	register(func(v T, err error) {
		resultCh <- struct {
			v   T
			err error
		}{v, err}
	})

	select {
	case r := <-resultCh:
		return r.v, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for engine operation")

		var zero T

		return zero, nil
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	e := New(DefaultConfig())
	t.Cleanup(e.Close)

	return e
}

func createObject(t *testing.T, e *Engine, name, typeTag string) uint64 {
	t.Helper()

	oid, err := await(t, func(notify func(uint64, error)) {
		e.ExecCreate(name, typeTag, notify)
	})
	require.NoError(t, err)
	require.NotZero(t, oid)

	return oid
}

func TestExecCreateAndLookup(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	got, err := await(t, func(notify func(uint64, error)) {
		e.ExecLookup("orders", notify)
	})
	require.NoError(t, err)
	assert.Equal(t, oid, got)
}

func TestExecCreateDuplicateNameFails(t *testing.T) {
	e := newTestEngine(t)

	createObject(t, e, "orders", "sset")

	_, err := await(t, func(notify func(uint64, error)) {
		e.ExecCreate("orders", "sset", notify)
	})
	require.Error(t, err)
}

func TestExecCreateUnknownTypeFails(t *testing.T) {
	e := newTestEngine(t)

	_, err := await(t, func(notify func(uint64, error)) {
		e.ExecCreate("orders", "nonsense", notify)
	})
	require.Error(t, err)
}

func TestSSetAutocommitInsertGet(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	_, err := await(t, func(notify NotifyFunc) {
		e.SSetInsert(oid, 0, []byte("a"), []byte("1"), notify)
	})
	require.NoError(t, err)

	res, err := await(t, func(notify func(SSetGetResult, error)) {
		e.SSetGet(oid, 0, []byte("a"), notify)
	})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []byte("1"), res.Value)
}

func TestSSetGetMissingKeyReturnsNotFound(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	_, err := await(t, func(notify func(SSetGetResult, error)) {
		e.SSetGet(oid, 0, []byte("missing"), notify)
	})
	require.Error(t, err)
}

func TestSSetTransactionalInsertInvisibleUntilCommit(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	txnID := e.TransactionCreate()

	_, err := await(t, func(notify NotifyFunc) {
		e.SSetInsert(oid, txnID, []byte("a"), []byte("1"), notify)
	})
	require.NoError(t, err)

	// Autocommit readers must not see the uncommitted write.
	_, err = await(t, func(notify func(SSetGetResult, error)) {
		e.SSetGet(oid, 0, []byte("a"), notify)
	})
	require.Error(t, err)

	// The writing transaction sees its own write.
	res, err := await(t, func(notify func(SSetGetResult, error)) {
		e.SSetGet(oid, txnID, []byte("a"), notify)
	})
	require.NoError(t, err)
	assert.True(t, res.Found)

	_, err = await(t, func(notify TxnNotifyFunc) {
		e.ExecTxnCommit(txnID, notify)
	})
	require.NoError(t, err)

	res, err = await(t, func(notify func(SSetGetResult, error)) {
		e.SSetGet(oid, 0, []byte("a"), notify)
	})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []byte("1"), res.Value)
}

func TestSSetTransactionalRollbackDiscardsWrite(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	txnID := e.TransactionCreate()

	_, err := await(t, func(notify NotifyFunc) {
		e.SSetInsert(oid, txnID, []byte("a"), []byte("1"), notify)
	})
	require.NoError(t, err)

	_, err = await(t, func(notify TxnNotifyFunc) {
		e.ExecTxnRollback(txnID, notify)
	})
	require.NoError(t, err)

	_, err = await(t, func(notify func(SSetGetResult, error)) {
		e.SSetGet(oid, 0, []byte("a"), notify)
	})
	require.Error(t, err)
}

func TestSSetUpdateIsSingleAtomNotRemoveThenInsert(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	_, err := await(t, func(notify NotifyFunc) {
		e.SSetInsert(oid, 0, []byte("a"), []byte("1"), notify)
	})
	require.NoError(t, err)

	_, err = await(t, func(notify NotifyFunc) {
		e.SSetUpdate(oid, 0, []byte("a"), []byte("2"), notify)
	})
	require.NoError(t, err)

	res, err := await(t, func(notify func(SSetGetResult, error)) {
		e.SSetGet(oid, 0, []byte("a"), notify)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), res.Value)
}

func TestSSetTransactionalRemoveOfMissingKeyFailsWithoutLocking(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	txnID := e.TransactionCreate()

	_, err := await(t, func(notify NotifyFunc) {
		e.SSetRemove(oid, txnID, []byte("ghost"), notify)
	})
	require.Error(t, err)

	// A second transaction must still be able to insert the same key
	// immediately: the failed remove above must not have taken a
	// txn-lock on it.
	txn2 := e.TransactionCreate()

	_, err = await(t, func(notify NotifyFunc) {
		e.SSetInsert(oid, txn2, []byte("ghost"), []byte("ok"), notify)
	})
	require.NoError(t, err)
}

func TestSSetConflictingTransactionsOnSameKey(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	txnA := e.TransactionCreate()
	txnB := e.TransactionCreate()

	_, err := await(t, func(notify NotifyFunc) {
		e.SSetInsert(oid, txnA, []byte("a"), []byte("1"), notify)
	})
	require.NoError(t, err)

	_, err = await(t, func(notify NotifyFunc) {
		e.SSetInsert(oid, txnB, []byte("a"), []byte("2"), notify)
	})
	require.Error(t, err)

	_, err = await(t, func(notify TxnNotifyFunc) {
		e.ExecTxnCommit(txnA, notify)
	})
	require.NoError(t, err)
}

func TestSSetScanOrdersByKey(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	for _, k := range []string{"c", "a", "b"} {
		_, err := await(t, func(notify NotifyFunc) {
			e.SSetInsert(oid, 0, []byte(k), []byte(k), notify)
		})
		require.NoError(t, err)
	}

	rows, err := await(t, func(notify func([]SSetScanResult, error)) {
		e.SSetScan(oid, 0, nil, 0, notify)
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []byte("a"), rows[0].Key)
	assert.Equal(t, []byte("b"), rows[1].Key)
	assert.Equal(t, []byte("c"), rows[2].Key)
}

func TestExecUnlinkRemovesName(t *testing.T) {
	e := newTestEngine(t)

	createObject(t, e, "orders", "sset")

	_, err := await(t, func(notify NotifyFunc) {
		e.ExecUnlink("orders", notify)
	})
	require.NoError(t, err)

	_, err = await(t, func(notify NotifyFunc) {
		e.ExecLookup("orders", notify)
	})
	require.Error(t, err)
}

func TestExecRenameMovesName(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "orders", "sset")

	_, err := await(t, func(notify NotifyFunc) {
		e.ExecRename("orders", "purchase_orders", notify)
	})
	require.NoError(t, err)

	got, err := await(t, func(notify NotifyFunc) {
		e.ExecLookup("purchase_orders", notify)
	})
	require.NoError(t, err)
	assert.Equal(t, oid, got)
}

func TestCounterAutocommitAdd(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "hits", "counter")

	_, err := await(t, func(notify NotifyFunc) {
		e.CounterAdd(oid, 0, 5, notify)
	})
	require.NoError(t, err)

	_, err = await(t, func(notify NotifyFunc) {
		e.CounterAdd(oid, 0, 3, notify)
	})
	require.NoError(t, err)

	v, err := await(t, func(notify func(int64, error)) {
		e.CounterGet(oid, 0, notify)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)
}

func TestCounterTransactionalFoldAndCommit(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "hits", "counter")

	txnID := e.TransactionCreate()

	_, err := await(t, func(notify NotifyFunc) {
		e.CounterAdd(oid, txnID, 5, notify)
	})
	require.NoError(t, err)

	_, err = await(t, func(notify NotifyFunc) {
		e.CounterAdd(oid, txnID, 2, notify)
	})
	require.NoError(t, err)

	v, err := await(t, func(notify func(int64, error)) {
		e.CounterGet(oid, 0, notify)
	})
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = await(t, func(notify TxnNotifyFunc) {
		e.ExecTxnCommit(txnID, notify)
	})
	require.NoError(t, err)

	v, err = await(t, func(notify func(int64, error)) {
		e.CounterGet(oid, 0, notify)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestCounterConflictingTransactionsRejected(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "hits", "counter")

	txnA := e.TransactionCreate()
	txnB := e.TransactionCreate()

	_, err := await(t, func(notify NotifyFunc) {
		e.CounterAdd(oid, txnA, 1, notify)
	})
	require.NoError(t, err)

	_, err = await(t, func(notify NotifyFunc) {
		e.CounterAdd(oid, txnB, 1, notify)
	})
	require.Error(t, err)
}

func TestMemcacheSetGetDelete(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "session", "memcache")

	_, err := await(t, func(notify NotifyFunc) {
		e.MemcacheSet(oid, 0, []byte("hello"), notify)
	})
	require.NoError(t, err)

	res, err := await(t, func(notify func(MemcacheGetResult, error)) {
		e.MemcacheGet(oid, 0, notify)
	})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []byte("hello"), res.Value)

	_, err = await(t, func(notify NotifyFunc) {
		e.MemcacheDelete(oid, 0, notify)
	})
	require.NoError(t, err)

	res, err = await(t, func(notify func(MemcacheGetResult, error)) {
		e.MemcacheGet(oid, 0, notify)
	})
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestMemcacheDeleteOfEmptySlotFails(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "session", "memcache")

	_, err := await(t, func(notify NotifyFunc) {
		e.MemcacheDelete(oid, 0, notify)
	})
	require.Error(t, err)
}

func TestMemcacheTransactionalSetRollback(t *testing.T) {
	e := newTestEngine(t)

	oid := createObject(t, e, "session", "memcache")

	txnID := e.TransactionCreate()

	_, err := await(t, func(notify NotifyFunc) {
		e.MemcacheSet(oid, txnID, []byte("staged"), notify)
	})
	require.NoError(t, err)

	_, err = await(t, func(notify TxnNotifyFunc) {
		e.ExecTxnRollback(txnID, notify)
	})
	require.NoError(t, err)

	res, err := await(t, func(notify func(MemcacheGetResult, error)) {
		e.MemcacheGet(oid, 0, notify)
	})
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig("/nonexistent/path/raleigh.jsonc")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigRejectsUnknownKey(t *testing.T) {
	path := t.TempDir() + "/raleigh.jsonc"

	require.NoError(t, os.WriteFile(path, []byte(`{
		// trailing comma and comments are fine
		"threads": 4,
		"bogus_key": true,
	}`), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigAppliesOverridesOverDefaults(t *testing.T) {
	path := t.TempDir() + "/raleigh.jsonc"

	require.NoError(t, os.WriteFile(path, []byte(`{"threads": 4, "sset_sync_threshold": 42}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 42, cfg.SSetSyncThreshold)
	assert.Equal(t, DefaultConfig().ObjectCacheCapacity, cfg.ObjectCacheCapacity)
}
