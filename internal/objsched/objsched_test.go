package objsched

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/raleighdb/internal/objcache"
	"github.com/calvinalkan/raleighdb/internal/rwcsem"
	"github.com/calvinalkan/raleighdb/internal/task"
)

type fakeVTable struct {
	mu           sync.Mutex
	opens        int
	commits      int
	rollbacks    int
	openErr      error
	rollbackOnWr bool
}

func (f *fakeVTable) Open(e *objcache.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++

	return f.openErr
}

func (f *fakeVTable) Close(e *objcache.Entry) error    { return nil }
func (f *fakeVTable) Sync(e *objcache.Entry) error     { return nil }
func (f *fakeVTable) Unlink(e *objcache.Entry) error   { return nil }
func (f *fakeVTable) Apply(e *objcache.Entry, m any) error  { return nil }
func (f *fakeVTable) Revert(e *objcache.Entry, m any) error { return nil }

func (f *fakeVTable) Commit(e *objcache.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++

	return nil
}

func (f *fakeVTable) Rollback(e *objcache.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++

	return nil
}

func TestWriteOpenCommitsThroughVTable(t *testing.T) {
	sched := newTestScheduler(t)
	cache := objcache.New(10, nil, nil)
	vt := &fakeVTable{}

	done := make(chan error, 1)

	Exec(sched, cache, vt, 1, rwcsem.WRITE, nil, func(e *objcache.Entry) error {
		e.Membufs = "touched"

		return nil
	}, func(oid uint64, err error) {
		done <- err
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	assert.Equal(t, 1, vt.opens)
	assert.Equal(t, 1, vt.commits)
	assert.Equal(t, 0, vt.rollbacks)

	e := cache.Lookup(1)
	require.NotNil(t, e)
	assert.Equal(t, "touched", e.Membufs)
	cache.Release(e)
}

func TestWriteFailureRollsBackAndSkipsCommit(t *testing.T) {
	sched := newTestScheduler(t)
	cache := objcache.New(10, nil, nil)
	vt := &fakeVTable{}

	wantErr := errors.New("boom")
	done := make(chan error, 1)

	Exec(sched, cache, vt, 1, rwcsem.WRITE, nil, func(e *objcache.Entry) error {
		return wantErr
	}, func(oid uint64, err error) {
		done <- err
	})

	select {
	case err := <-done:
		assert.Equal(t, wantErr, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	assert.Equal(t, 0, vt.commits)
	assert.Equal(t, 1, vt.rollbacks)
}

func TestReadYieldsUntilDone(t *testing.T) {
	sched := newTestScheduler(t)
	cache := objcache.New(10, nil, nil)
	vt := &fakeVTable{}

	var calls int

	var mu sync.Mutex

	done := make(chan error, 1)

	Exec(sched, cache, vt, 1, rwcsem.READ, func(e *objcache.Entry) (bool, error) {
		mu.Lock()
		calls++
		c := calls
		mu.Unlock()

		return c < 3, nil
	}, nil, func(oid uint64, err error) {
		done <- err
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestOpenDefersWhilePendingTxn(t *testing.T) {
	sched := newTestScheduler(t)
	cache := objcache.New(10, nil, nil)
	vt := &fakeVTable{}

	e := cache.Get(1)
	e.PendingTxnID.Store(99)
	cache.Release(e)

	done := make(chan error, 1)

	Exec(sched, cache, vt, 1, rwcsem.WRITE, nil, func(e *objcache.Entry) error {
		return nil
	}, func(oid uint64, err error) {
		done <- err
	})

	select {
	case <-done:
		t.Fatal("op completed while pending_txn_id was still set")
	case <-time.After(30 * time.Millisecond):
	}

	e2 := cache.Lookup(1)
	e2.PendingTxnID.Store(0)
	cache.Release(e2)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for op to proceed after pending_txn_id cleared")
	}
}

func newTestScheduler(t *testing.T) *task.Scheduler {
	t.Helper()

	sched := task.NewScheduler(4)
	t.Cleanup(sched.Stop)

	return sched
}
