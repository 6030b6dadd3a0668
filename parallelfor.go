package taskgraph

import "sync/atomic"

// cacheLineSize pads stripe so that different subtasks hammering their own
// counter never false-share a cache line with a neighboring stripe.
const cacheLineSize = 64

// stripe is one worker's slice of a ParallelFor's index range, plus the
// atomic cursor subtasks use to claim indices out of it.
type stripe struct {
	offset  uint32
	count   uint32
	counter atomic.Uint32
	_       [cacheLineSize - 8 - 4]byte // pad to a full cache line
}

// ParallelFor stages a task that invokes fn once for every index in
// [0, count), split across min(count, pool.NumWorkers()) subtasks. Each
// subtask is handed its own stripe of the range to consume first; once a
// subtask drains its own stripe it cyclically steals from the next
// stripe's counter, and the one after that, and so on, so no index is
// skipped and no worker idles while another stripe still has work left.
// count == 0 is a no-op: no umbrella task is created at all, matching the
// source's handling of an empty range as strictly nothing-to-do rather than
// a degenerate single-task case.
func (b *Builder) ParallelFor(debugName string, count uint32, fn ParallelForFunc) {
	if count == 0 {
		return
	}

	umbrella, err := b.pool.CreateTask(TaskDesc{
		Parent:     b.parentTask,
		Dependency: b.dependencyTask,
		DebugName:  debugName,
	})
	if err != nil {
		panic(err)
	}
	b.pushPending(umbrella)

	numSubtasks := b.pool.NumWorkers()
	if uint32(numSubtasks) > count {
		numSubtasks = int(count)
	}

	stripes := make([]stripe, numSubtasks)
	var assigned uint32
	for i := range stripes {
		share := count / uint32(numSubtasks)
		if uint32(i) < count%uint32(numSubtasks) {
			share++
		}
		stripes[i].offset = assigned
		stripes[i].count = share
		assigned += share
	}

	for i := 0; i < numSubtasks; i++ {
		subID, err := b.pool.CreateTask(TaskDesc{
			Parent:     umbrella,
			Dependency: b.dependencyTask,
			DebugName:  debugName,
			Func: func(ctx TaskContext) {
				runParallelForStripe(ctx, fn, stripes)
			},
		})
		if err != nil {
			panic(err)
		}
		b.pool.DispatchTask(subID)
	}
}

// runParallelForStripe starts at the stripe matching the executing
// worker's thread ID, drains it, then cycles through the remaining stripes
// in order. Every stripe gets drained by exactly one subtask per index
// (the atomic counter guarantees that), but which physical worker ends up
// draining which stripe depends entirely on scheduling order.
func runParallelForStripe(ctx TaskContext, fn ParallelForFunc, stripes []stripe) {
	n := uint32(len(stripes))
	start := ctx.ThreadID % n

	for offset := uint32(0); offset < n; offset++ {
		idx := start + offset
		if idx >= n {
			idx -= n
		}

		s := &stripes[idx]
		for {
			i := s.counter.Add(1) - 1
			if i >= s.count {
				break
			}
			fn(ctx, s.offset+i)
		}
	}
}
