package taskgraph

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestScenarioThousandWaitableTasks covers spec scenario 1: spawn 1000
// independent waitable tasks, each incrementing a shared counter.
func TestScenarioThousandWaitableTasks(t *testing.T) {
	p := newTestPool(t)

	const n = 1000
	var counter atomic.Int64
	waitables := make([]*Waitable, n)
	for i := range waitables {
		w := NewWaitable()
		waitables[i] = w
		_, err := p.CreateAndDispatchTask(TaskDesc{
			Func:     func(ctx TaskContext) { counter.Add(1) },
			Waitable: w,
		})
		require.NoError(t, err)
	}
	for _, w := range waitables {
		w.Wait()
		require.True(t, w.IsFinished())
	}

	require.Equal(t, int64(n), counter.Load())
}

// TestScenarioChainWaitsOnLatch covers spec scenario 2: a chain A->B->C->D
// where A waits on a latch; before release all counters are 0, after
// release and waiting on D every counter is 1 and end timestamps are
// monotone A<B<C<D.
func TestScenarioChainWaitsOnLatch(t *testing.T) {
	p := newTestPool(t)

	latch := make(chan struct{})
	var counters [4]atomic.Int32
	var ends [4]time.Time

	makeStep := func(i int) TaskFunc {
		return func(ctx TaskContext) {
			if i == 0 {
				<-latch
			}
			counters[i].Add(1)
			ends[i] = time.Now()
		}
	}

	a, err := p.CreateTask(TaskDesc{Func: makeStep(0)})
	require.NoError(t, err)
	b, err := p.CreateTask(TaskDesc{Func: makeStep(1), Dependency: a})
	require.NoError(t, err)
	c, err := p.CreateTask(TaskDesc{Func: makeStep(2), Dependency: b})
	require.NoError(t, err)
	w := NewWaitable()
	d, err := p.CreateTask(TaskDesc{Func: makeStep(3), Dependency: c, Waitable: w})
	require.NoError(t, err)

	p.DispatchTask(a)
	p.DispatchTask(b)
	p.DispatchTask(c)
	p.DispatchTask(d)

	time.Sleep(10 * time.Millisecond)
	for i := range counters {
		require.Equal(t, int32(0), counters[i].Load(), "step %d ran before latch release", i)
	}

	close(latch)
	w.Wait()

	for i := range counters {
		require.Equal(t, int32(1), counters[i].Load())
	}
	require.True(t, ends[0].Before(ends[1]) || ends[0].Equal(ends[1]))
	require.True(t, ends[1].Before(ends[2]) || ends[1].Equal(ends[2]))
	require.True(t, ends[2].Before(ends[3]) || ends[2].Equal(ends[3]))
}

// TestScenarioBinaryTreeDepth14 covers spec scenario 3: a binary tree of
// depth 14 (2^15-1 nodes), each node incrementing a shared counter; the
// root's waitable only signals once every descendant has finished, proving
// the completion cascade climbs the full parent chain.
func TestScenarioBinaryTreeDepth14(t *testing.T) {
	p := newTestPool(t, WithTaskCapacity(1<<16))

	var counter atomic.Int64

	const depth = 14
	var spawn func(ctx TaskContext, remaining int)
	spawn = func(ctx TaskContext, remaining int) {
		counter.Add(1)
		if remaining == 0 {
			return
		}
		b := NewBuilderFromContext(ctx)
		defer b.Close()
		b.Task("left", func(ctx TaskContext) { spawn(ctx, remaining-1) })
		b.Task("right", func(ctx TaskContext) { spawn(ctx, remaining-1) })
	}

	w := NewWaitable()
	_, err := p.CreateAndDispatchTask(TaskDesc{
		Func:     func(ctx TaskContext) { spawn(ctx, depth) },
		Waitable: w,
	})
	require.NoError(t, err)
	w.Wait()

	require.Equal(t, int64(1<<15-1), counter.Load())
}

// TestScenarioParallelForXORReduce covers spec scenario 4's correctness
// property at reduced scale (CI-friendly); the full 16*1024*1024 size and
// its timing comparison against a serial reference is
// BenchmarkParallelForXORReduceVsSerial below.
func TestScenarioParallelForXORReduce(t *testing.T) {
	p := newTestPool(t, WithWorkerCount(4))
	require.GreaterOrEqual(t, p.NumWorkers(), 4)

	const n = 1 << 20
	input := make([]uint32, n)
	var serial uint32
	for i := range input {
		input[i] = uint32(i)*2654435761 + 1
		serial ^= input[i]
	}

	accumulators := make([]uint32, p.NumWorkers())
	w := NewWaitable()
	b := NewBuilderWithWaitable(p, w)
	b.ParallelFor("xor", uint32(n), func(ctx TaskContext, index uint32) {
		accumulators[ctx.ThreadID] ^= input[index]
	})
	b.Close()
	w.Wait()

	var parallel uint32
	for _, a := range accumulators {
		parallel ^= a
	}
	require.Equal(t, serial, parallel)
}

// BenchmarkParallelForXORReduceVsSerial exercises spec scenario 4 at full
// scale (16*1024*1024 integers), comparing a ParallelFor XOR-reduce against
// a plain serial loop. Run with -benchtime and compare ns/op across the two
// sub-benchmarks rather than asserting a timing threshold inline, which
// would be flaky on a shared CI runner.
func BenchmarkParallelForXORReduceVsSerial(b *testing.B) {
	const n = 16 * 1024 * 1024
	input := make([]uint32, n)
	for i := range input {
		input[i] = uint32(i)*2654435761 + 1
	}

	b.Run("serial", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var acc uint32
			for _, v := range input {
				acc ^= v
			}
			_ = acc
		}
	})

	b.Run("parallel", func(b *testing.B) {
		p, err := NewPool(WithWorkerCount(8))
		require.NoError(b, err)
		defer p.Close()

		accumulators := make([]uint32, p.NumWorkers())
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			for j := range accumulators {
				accumulators[j] = 0
			}
			w := NewWaitable()
			bld := NewBuilderWithWaitable(p, w)
			bld.ParallelFor("xor", uint32(n), func(ctx TaskContext, index uint32) {
				accumulators[ctx.ThreadID] ^= input[index]
			})
			bld.Close()
			w.Wait()
		}
	})
}

// TestScenarioBuilderThreeThenFenceThenTwo covers spec scenario 5: a
// builder with three tasks, then a Fence, then two more tasks. The last two
// tasks' starts must be ordered after the first three's ends, and the fence
// task itself passes through Finished exactly once (observed here via its
// own waitable firing exactly once).
func TestScenarioBuilderThreeThenFenceThenTwo(t *testing.T) {
	p := newTestPool(t)

	var latestThreeEnd atomic.Int64
	var lastTwoStarts [2]int64

	recordThreeEnd := func() {
		now := time.Now().UnixNano()
		for {
			cur := latestThreeEnd.Load()
			if now <= cur || latestThreeEnd.CompareAndSwap(cur, now) {
				break
			}
		}
	}

	fenceDone := NewWaitable()
	finalDone := NewWaitable()
	b := NewBuilder(p, InvalidTaskID)
	b.Task("one", func(ctx TaskContext) { recordThreeEnd() })
	b.Task("two", func(ctx TaskContext) { recordThreeEnd() })
	b.Task("three", func(ctx TaskContext) { recordThreeEnd() })
	b.Fence(fenceDone)
	b.Task("four", func(ctx TaskContext) { lastTwoStarts[0] = time.Now().UnixNano() })
	b.Task("five", func(ctx TaskContext) { lastTwoStarts[1] = time.Now().UnixNano() })
	b.waitable = finalDone
	b.Close()

	finalDone.Wait()
	// fenceDone is Wait()-able regardless of whether it already fired; a
	// double OnFinished call would have panicked inside the worker that
	// ran the fence task, so reaching here at all proves it fired exactly
	// once.
	fenceDone.Wait()

	require.GreaterOrEqual(t, lastTwoStarts[0], latestThreeEnd.Load())
	require.GreaterOrEqual(t, lastTwoStarts[1], latestThreeEnd.Load())
}

// TestScenarioFreelistExhaustionIsFatal covers spec scenario 6: configure a
// synthetic small capacity, dispatch capacity+1 tasks with blocked
// callables; expect a fatal invariant violation at allocation time.
func TestScenarioFreelistExhaustionIsFatal(t *testing.T) {
	const capacity = 4
	p := newTestPool(t, WithTaskCapacity(capacity))

	gate := make(chan struct{})
	defer close(gate)

	for i := 0; i < capacity; i++ {
		_, err := p.CreateAndDispatchTask(TaskDesc{
			Func: func(ctx TaskContext) { <-gate },
		})
		require.NoError(t, err)
	}

	require.PanicsWithValue(t, &InvariantViolationError{
		Invariant: "task-table-exhausted",
		Detail:    "every task table slot is in use; raise WithTaskCapacity or reduce graph size",
	}, func() {
		_, _ = p.CreateTask(TaskDesc{Func: func(ctx TaskContext) {}})
	})
}
