package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/raleighdb/internal/rwcsem"
)

func TestSchedulerRunsTaskToDone(t *testing.T) {
	sched := NewScheduler(2)
	defer sched.Stop()

	var ran bool

	var wg sync.WaitGroup
	wg.Add(1)

	sched.AddTask(New(func(tk *Task) Result {
		ran = true
		wg.Done()

		return Done
	}))

	wg.Wait()
	assert.True(t, ran)
}

func TestRequeueRunsStepAgain(t *testing.T) {
	sched := NewScheduler(1)
	defer sched.Stop()

	var count int

	var mu sync.Mutex

	done := make(chan struct{})

	sched.AddTask(New(func(tk *Task) Result {
		mu.Lock()
		count++
		c := count
		mu.Unlock()

		if c < 3 {
			return Requeue
		}

		close(done)

		return Done
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for requeued task")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count)
}

func TestWaitQueueBlocksThenWakes(t *testing.T) {
	sched := NewScheduler(2)
	defer sched.Stop()

	var sem rwcsem.Sem
	wq := NewWaitQueue(&sem)

	require.True(t, sem.TryAcquire(rwcsem.WRITE))

	woke := make(chan struct{})

	blocked := New(func(tk *Task) Result {
		if !wq.Acquire(rwcsem.READ, tk) {
			return Suspended
		}

		close(woke)
		wq.Release(sched, rwcsem.READ)

		return Done
	})

	sched.AddTask(blocked)

	select {
	case <-woke:
		t.Fatal("reader should not proceed while writer holds the sem")
	case <-time.After(50 * time.Millisecond):
	}

	wq.Release(sched, rwcsem.WRITE)

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("reader was never woken after writer released")
	}
}

func TestWaitQueueFIFOOrder(t *testing.T) {
	sched := NewScheduler(4)
	defer sched.Stop()

	var sem rwcsem.Sem
	wq := NewWaitQueue(&sem)

	require.True(t, sem.TryAcquire(rwcsem.WRITE))

	var mu sync.Mutex

	var order []int

	var wg sync.WaitGroup

	const n = 5

	wg.Add(n)

	// Queue n waiters one at a time, each registering before the next is
	// added, to pin down FIFO order deterministically.
	for i := range n {
		i := i

		registered := make(chan struct{})

		sched.AddTask(New(func(tk *Task) Result {
			if !wq.Acquire(rwcsem.WRITE, tk) {
				close(registered)

				return Suspended
			}

			mu.Lock()
			order = append(order, i)
			mu.Unlock()

			wq.Release(sched, rwcsem.WRITE)
			wg.Done()

			return Done
		}))

		<-registered
	}

	wq.Release(sched, rwcsem.WRITE)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)

	for i := range n {
		assert.Equal(t, i, order[i])
	}
}
