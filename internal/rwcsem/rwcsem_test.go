package rwcsem

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadersConcurrent(t *testing.T) {
	var s Sem

	require.True(t, s.TryAcquire(READ))
	require.True(t, s.TryAcquire(READ))
	require.True(t, s.TryAcquire(READ))

	r, w, c, lk := s.Snapshot()
	assert.Equal(t, uint32(3), r)
	assert.False(t, w)
	assert.False(t, c)
	assert.False(t, lk)

	s.Release(READ)
	s.Release(READ)
	s.Release(READ)

	r, _, _, _ = s.Snapshot()
	assert.Equal(t, uint32(0), r)
}

func TestWriteExcludesReadAndWrite(t *testing.T) {
	var s Sem

	require.True(t, s.TryAcquire(WRITE))
	assert.False(t, s.TryAcquire(READ))
	assert.False(t, s.TryAcquire(WRITE))

	s.Release(WRITE)
	assert.True(t, s.TryAcquire(READ))
}

func TestCommitExcludesReadAndWrite(t *testing.T) {
	var s Sem

	require.True(t, s.TryAcquire(READ))
	assert.False(t, s.TryAcquire(COMMIT), "commit must wait for readers to drain")
	s.Release(READ)

	require.True(t, s.TryAcquire(COMMIT))
	assert.False(t, s.TryAcquire(READ))
	assert.False(t, s.TryAcquire(WRITE))

	s.Release(COMMIT)
}

func TestLockCoexistsWithInFlightReaders(t *testing.T) {
	var s Sem

	require.True(t, s.TryAcquire(READ))
	assert.True(t, s.TryAcquire(LOCK), "LOCK may coexist with readers that entered first")

	// But a new reader must not be admitted once lk is set.
	assert.False(t, s.TryAcquire(READ))

	s.Release(READ)
	s.Release(LOCK)
}

func TestLockExcludesCommit(t *testing.T) {
	var s Sem

	require.True(t, s.TryAcquire(LOCK))
	assert.False(t, s.TryAcquire(COMMIT))
	s.Release(LOCK)

	require.True(t, s.TryAcquire(COMMIT))
	assert.False(t, s.TryAcquire(LOCK))
}

func TestSetCommitFlagBlocksNewContenders(t *testing.T) {
	var s Sem

	require.True(t, s.TryAcquire(READ))
	s.SetCommitFlag()

	// New readers back off once commit is pending, even though the
	// in-flight reader hasn't released yet.
	assert.False(t, s.TryAcquire(READ))
	assert.False(t, s.TryAcquire(WRITE))

	s.Release(READ)
	assert.True(t, s.TryAcquire(COMMIT))
}

func TestTrySwitchWriteToCommit(t *testing.T) {
	var s Sem

	require.True(t, s.TryAcquire(WRITE))
	require.True(t, s.TrySwitch(WRITE, COMMIT))

	_, w, c, _ := s.Snapshot()
	assert.False(t, w)
	assert.True(t, c)

	s.Release(COMMIT)
}

func TestTrySwitchWriteToRead(t *testing.T) {
	var s Sem

	require.True(t, s.TryAcquire(WRITE))
	require.True(t, s.TrySwitch(WRITE, READ))

	r, w, _, _ := s.Snapshot()
	assert.Equal(t, uint32(1), r)
	assert.False(t, w)

	s.Release(READ)
}

func TestTrySwitchWriteToReadFailsUnderPendingLock(t *testing.T) {
	var s Sem

	require.True(t, s.TryAcquire(WRITE))
	s.SetLockFlag()

	assert.False(t, s.TrySwitch(WRITE, READ))

	s.Release(WRITE)
}

// TestInvariantsUnderConcurrency is a property test: for a random
// sequence of concurrent op attempts, the four exclusion invariants of
// spec §8 must hold at every observed instant. Grounded on the teacher's
// fixed-seed replay-against-a-model pattern (pkg/slotcache's
// behavior_*_seed_guard_test.go).
func TestInvariantsUnderConcurrency(t *testing.T) {
	var s Sem

	rng := rand.New(rand.NewSource(42))
	ops := []Op{READ, READ, READ, WRITE, COMMIT, LOCK}

	const workers = 8
	const itersPerWorker = 2000

	var wg sync.WaitGroup

	var violations atomic64

	for range workers {
		wg.Add(1)

		seed := rng.Int63()

		go func(seed int64) {
			defer wg.Done()

			r := rand.New(rand.NewSource(seed))

			for range itersPerWorker {
				op := ops[r.Intn(len(ops))]
				if s.TryAcquire(op) {
					checkInvariants(t, &s, &violations)
					s.Release(op)
				}
			}
		}(seed)
	}

	wg.Wait()
	assert.Equal(t, int64(0), violations.load())
}

type atomic64 struct {
	mu sync.Mutex
	n  int64
}

func (a *atomic64) load() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.n
}

func (a *atomic64) add() {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
}

func checkInvariants(t *testing.T, s *Sem, violations *atomic64) {
	t.Helper()

	r, w, c, lk := s.Snapshot()

	if w && r != 0 {
		violations.add()
	}

	if c && (r != 0 || w) {
		violations.add()
	}

	if c && lk {
		violations.add()
	}
}
