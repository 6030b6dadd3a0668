package taskgraph

// BuilderMaxPendingTasks bounds how many tasks a single Builder can stage
// between fences. It mirrors the scheduler's general "fixed capacity, no
// silent growth" posture: a graph wide enough to need more staged tasks
// than this should be broken up with an intermediate Fence.
const BuilderMaxPendingTasks = 128

// Builder is a scope-lifetime helper for assembling a task graph: a run of
// Task/CustomTask/ParallelFor calls pushes independent, parallel-runnable
// tasks onto a pending list; Fence joins them with a synchronization point
// before any task pushed afterward is allowed to start.
//
// Go has no stack-only allocation enforcement and no destructors, so unlike
// the type this is modeled on, nothing stops a Builder from escaping to the
// heap or outliving its creating goroutine. What is preserved is the
// lifecycle contract: a Builder must have Close called on it exactly once,
// typically via defer immediately after construction. Close performs the
// same implicit final fence (and, if constructed with a Waitable, wires it
// up) that the original's destructor did.
//
//	b := taskgraph.NewBuilder(pool, taskgraph.InvalidTaskID)
//	defer b.Close()
//	b.Task("left", left)
//	b.Task("right", right)
//	b.Fence(nil)
//	b.Task("combine", combine)
type Builder struct {
	pool     *Pool
	waitable *Waitable

	parentTask     TaskID
	dependencyTask TaskID

	pendingTasks []TaskID
	capacity     int

	closed bool
}

// NewBuilder creates a Builder whose tasks are children of parentTask (or
// roots, if parentTask is InvalidTaskID). pool must not be nil; use
// Default() for the process-wide pool. Its pending-task capacity defaults
// to the pool's WithBuilderCapacity setting (BuilderMaxPendingTasks if
// unset); use NewBuilderCapacity for a one-off override.
func NewBuilder(pool *Pool, parentTask TaskID) *Builder {
	return NewBuilderCapacity(pool, parentTask, pool.builderCapacity)
}

// NewBuilderCapacity is NewBuilder with an explicit pending-task capacity,
// overriding the pool's default for this one Builder.
func NewBuilderCapacity(pool *Pool, parentTask TaskID, capacity int) *Builder {
	if capacity <= 0 {
		capacity = BuilderMaxPendingTasks
	}
	return &Builder{
		pool:           pool,
		parentTask:     parentTask,
		dependencyTask: InvalidTaskID,
		pendingTasks:   make([]TaskID, 0, capacity),
		capacity:       capacity,
	}
}

// NewBuilderFromContext creates a Builder whose tasks are children of the
// task currently executing in ctx, the common case of a running task
// spawning its own subtasks.
func NewBuilderFromContext(ctx TaskContext) *Builder {
	return NewBuilder(ctx.Pool, ctx.TaskID)
}

// NewBuilderWithWaitable creates a root Builder (no parent task) that signals
// waitable when Close runs, via an implicit final Fence. This is the usual
// entry point for kicking off a task graph from outside any task, e.g. from
// the main goroutine of a frame loop.
func NewBuilderWithWaitable(pool *Pool, waitable *Waitable) *Builder {
	b := NewBuilder(pool, InvalidTaskID)
	b.waitable = waitable
	return b
}

func (b *Builder) pushPending(id TaskID) {
	if len(b.pendingTasks) >= b.capacity {
		panicInvariant("builder-capacity-exceeded", "graph builder pending-task capacity exceeded, insert a Fence")
	}
	b.pendingTasks = append(b.pendingTasks, id)
}

// Task stages a new task as a child of the builder's parent task, depending
// on whatever the most recent Fence produced (or nothing, if there hasn't
// been one yet). Multiple tasks staged between fences run in parallel with
// each other.
func (b *Builder) Task(debugName string, fn TaskFunc) {
	id, err := b.pool.CreateTask(TaskDesc{
		Func:       fn,
		Parent:     b.parentTask,
		Dependency: b.dependencyTask,
		DebugName:  debugName,
	})
	if err != nil {
		panic(err)
	}
	b.pushPending(id)
}

// CustomTask stages a task created (but not yet dispatched) elsewhere, e.g.
// via Pool.CreateTask directly, so that the next Fence joins on it exactly
// as it would a task staged via Task, and so that Fence/Close dispatches it
// on the caller's behalf. The caller must not have called Pool.DispatchTask
// on it already.
func (b *Builder) CustomTask(customTask TaskID) {
	b.pushPending(customTask)
}

// Fence dispatches every task staged since the last fence (or since
// construction) and installs a join point: anything staged after this call
// will not start until all of them have finished. If waitable is non-nil,
// it is signalled once that join point itself finishes.
func (b *Builder) Fence(waitable *Waitable) {
	if b.dependencyTask != InvalidTaskID {
		b.pool.DispatchTask(b.dependencyTask)
		b.dependencyTask = InvalidTaskID
	}

	dependency, err := b.pool.CreateTask(TaskDesc{
		Waitable:  waitable,
		DebugName: "Builder.Fence",
	})
	if err != nil {
		panic(err)
	}

	for _, pending := range b.pendingTasks {
		subID, err := b.pool.CreateTask(TaskDesc{
			Parent:     dependency,
			Dependency: pending,
			DebugName:  "Builder.Fence/Sub",
		})
		if err != nil {
			panic(err)
		}
		b.pool.DispatchTask(subID)
		b.pool.DispatchTask(pending)
	}
	b.pendingTasks = b.pendingTasks[:0]

	b.dependencyTask = dependency
}

// Close flushes the builder: if it was constructed with a Waitable, runs a
// final Fence against it; dispatches whatever dependency task the last
// Fence produced; and dispatches every task staged since. It must be
// called exactly once, after which the Builder must not be reused.
func (b *Builder) Close() {
	if b.closed {
		panicInvariant("builder-double-close", "Builder.Close called more than once")
	}
	b.closed = true

	if b.waitable != nil {
		b.Fence(b.waitable)
	}

	if b.dependencyTask != InvalidTaskID {
		b.pool.DispatchTask(b.dependencyTask)
		b.dependencyTask = InvalidTaskID
	}

	for _, pending := range b.pendingTasks {
		b.pool.DispatchTask(pending)
	}
	b.pendingTasks = b.pendingTasks[:0]
}
