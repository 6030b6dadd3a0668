package taskgraph

import (
	"math"
	"sync/atomic"
)

// TaskID identifies a task within a Pool's task table. It is only valid
// between the moment CreateTask returns it and the moment the task finishes
// (at which point the slot is recycled and the ID may be reused for an
// unrelated task). Holding a TaskID past that point and using it again is a
// caller bug, not something the pool can detect.
type TaskID uint32

// InvalidTaskID is never returned by CreateTask and never refers to a live
// task. It is the zero value of an unset TaskDesc.Parent/Dependency field.
const InvalidTaskID TaskID = math.MaxUint32

// TaskContext is passed to a running task's function, giving it the
// identity it needs to create children of itself or log diagnostics tied
// back to a specific thread/task pair.
type TaskContext struct {
	Pool     *Pool
	ThreadID uint32
	TaskID   TaskID
}

// TaskFunc is the callback executed when a task runs.
type TaskFunc func(ctx TaskContext)

// ParallelForFunc is invoked once per index by ParallelFor. Every index in
// [0, count) is invoked exactly once, across however many worker goroutines
// the pool subdivides the range onto; there is no ordering guarantee
// between indices.
type ParallelForFunc func(ctx TaskContext, index uint32)

// taskState is the lifecycle of a task table slot. Every legal transition
// is a single CAS from one specific value to another; a CAS that observes
// an unexpected prior value means the caller broke an invariant (e.g.
// dispatching a task twice) and is treated as a bug, not a retryable race.
type taskState uint32

const (
	taskInvalid taskState = iota // unused slot, sitting on the freelist
	taskCreated                  // allocated, waiting for its dependency (if any)
	taskQueued                   // dependency satisfied, sitting in a ready queue
	taskExecuting
	taskFinished
)

func (s taskState) String() string {
	switch s {
	case taskInvalid:
		return "invalid"
	case taskCreated:
		return "created"
	case taskQueued:
		return "queued"
	case taskExecuting:
		return "executing"
	case taskFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// dependencyState bitflags. A task is eligible to enqueue only once both
// bits are set; DispatchTask and the completion cascade's dependency-fulfill
// step each OR in their own bit and inspect the value the Or returned
// (i.e. the state immediately before their own bit was applied) to decide
// whether THEY are the one that observed the other bit already set. Exactly
// one of the two racing setters will see that, so each task enqueues
// exactly once no matter the interleaving.
const (
	depFlagDispatched uint32 = 1 << iota
	depFlagFulfilled
)

const depFlagsReady = depFlagDispatched | depFlagFulfilled

// taskSlot is one entry of the pool's fixed task table.
//
// parentOrNextFree does double duty, matching the union in the source this
// is modeled on: while the slot is free it is the next entry in the
// freelist chain; once allocated it is the parent task ID (or InvalidTaskID
// if the task has no parent). The two uses never overlap because a slot is
// only ever on the freelist or allocated, never both.
type taskSlot struct {
	fn        TaskFunc
	state     atomic.Uint32 // taskState
	depState  atomic.Uint32 // depFlag* bits
	tasksLeft atomic.Int32  // own execution (1) + unfinished children

	parentOrNextFree TaskID
	waitable         *Waitable
	debugName        string

	dependency TaskID // task this one waits on, or InvalidTaskID
	head       TaskID // first task depending on this one
	tail       TaskID // last task depending on this one
	sibling    TaskID // next task depending on the same `dependency`

	priority uint8
}

func (t *taskSlot) reset() {
	t.fn = nil
	t.state.Store(uint32(taskInvalid))
	t.depState.Store(0)
	t.tasksLeft.Store(0)
	t.waitable = nil
	t.debugName = ""
	t.dependency = InvalidTaskID
	t.head = InvalidTaskID
	t.tail = InvalidTaskID
	t.sibling = InvalidTaskID
	t.priority = 0
}

// TaskDesc describes a task at creation time.
type TaskDesc struct {
	// Func is the task's body. It may be nil, for a pure grouping or join
	// task that finishes as soon as it runs and its children (if any) finish.
	Func TaskFunc

	// Waitable, if set, is signalled via Waitable.OnFinished once this task
	// (and all its children) finish.
	Waitable *Waitable

	// Parent, if not InvalidTaskID, ties this task's completion into the
	// parent's tasksLeft count: the parent is not considered finished until
	// every child created against it finishes too.
	Parent TaskID

	// Dependency, if not InvalidTaskID, delays this task's enqueue until
	// the referenced task finishes.
	Dependency TaskID

	// Priority selects a ready queue; 0 is highest. Must be < the pool's
	// configured number of priorities.
	Priority uint8

	// DebugName is carried through panics and log lines; optional.
	DebugName string
}
