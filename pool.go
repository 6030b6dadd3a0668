package taskgraph

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Pool is a fixed-capacity, priority-aware task scheduler. Tasks are
// allocated from a preallocated table (see WithTaskCapacity); there is no
// dynamic growth, so a saturated pool panics rather than allocating
// further (see doc.go, "Error Handling"). Worker goroutines pull from P
// priority-ordered ready queues (see WithPriorities), always draining the
// highest-priority non-empty queue first.
//
// A Pool is safe for concurrent use by any number of goroutines, including
// from within tasks it is itself executing.
type Pool struct {
	// tasksMu guards the task table and the freelist. It is always
	// acquired before queues' internal mutex, never the reverse, so the
	// two never deadlock against each other.
	tasksMu   sync.Mutex
	tasks     []taskSlot
	firstFree TaskID

	queues        *readyQueues
	numPriorities uint8

	builderCapacity int
	logger          *logiface.Logger[*stumpy.Event]

	// threadIDs maps a worker goroutine's runtime-assigned ID to its dense
	// threadId, populated once at worker startup and read-only thereafter.
	// It lets CurrentThreadID recover a worker's identity from inside
	// arbitrarily nested calls without threading a TaskContext through all
	// of them.
	threadIDs sync.Map // goroutine id (uint64) -> threadId (uint32)

	workers []*worker
	wg      sync.WaitGroup
	closed  atomic.Bool
}

type worker struct {
	id      uint32
	started atomic.Bool
}

// NewPool constructs a Pool and starts its worker goroutines. The returned
// pool must eventually be stopped with Close.
func NewPool(opts ...PoolOption) (*Pool, error) {
	cfg := resolvePoolOptions(opts)
	if cfg.numWorkers <= 0 {
		return nil, ErrInvalidWorkerCount
	}

	p := &Pool{
		numPriorities:   cfg.numPriorities,
		queues:          newReadyQueues(cfg.numPriorities),
		builderCapacity: cfg.builderCapacity,
		logger:          cfg.logger,
	}
	p.initTaskTable(cfg.taskCapacity)

	p.workers = make([]*worker, cfg.numWorkers)
	for i := range p.workers {
		w := &worker{id: uint32(i)}
		w.started.Store(true)
		p.workers[i] = w
		p.wg.Add(1)
		go p.schedulerLoop(w)
	}

	return p, nil
}

func (p *Pool) initTaskTable(capacity uint32) {
	p.tasks = make([]taskSlot, capacity)
	for i := uint32(0); i+1 < capacity; i++ {
		p.tasks[i].parentOrNextFree = TaskID(i + 1)
	}
	if capacity > 0 {
		p.tasks[capacity-1].parentOrNextFree = InvalidTaskID
	}
	p.firstFree = 0
	if capacity == 0 {
		p.firstFree = InvalidTaskID
	}
}

// NumWorkers returns the number of worker goroutines in the pool.
func (p *Pool) NumWorkers() int { return len(p.workers) }

// allocateTaskLocked pulls a slot off the freelist, flipping it to a
// placeholder Queued state. The caller is expected to immediately set it to
// Created once the slot's fields are populated; the transient Queued value
// is only the target of the CAS that checks the freelist handed out a slot
// that really was Invalid (free).
func (p *Pool) allocateTaskLocked() TaskID {
	if p.firstFree == InvalidTaskID {
		return InvalidTaskID
	}
	id := p.firstFree
	slot := &p.tasks[id]
	if !slot.state.CompareAndSwap(uint32(taskInvalid), uint32(taskQueued)) {
		panicInvariant("allocate-non-invalid-slot", "freelist pointed at a slot not in Invalid state")
	}
	p.firstFree = slot.parentOrNextFree
	return id
}

func (p *Pool) freeTaskLocked(id TaskID) {
	slot := &p.tasks[id]
	if !slot.state.CompareAndSwap(uint32(taskFinished), uint32(taskInvalid)) {
		panicInvariant("free-non-finished-slot", "task freed while not in Finished state")
	}
	slot.reset()
	slot.parentOrNextFree = p.firstFree
	p.firstFree = id
}

// CreateTask allocates a task table slot and initializes it from desc. The
// task is not runnable yet: call DispatchTask to make it eligible for
// execution once its dependency (if any) is satisfied.
func (p *Pool) CreateTask(desc TaskDesc) (TaskID, error) {
	if p.closed.Load() {
		return InvalidTaskID, ErrPoolClosed
	}
	if desc.Priority >= p.numPriorities {
		return InvalidTaskID, ErrInvalidPriority
	}

	p.tasksMu.Lock()
	defer p.tasksMu.Unlock()

	id := p.allocateTaskLocked()
	if id == InvalidTaskID {
		p.logTaskTableExhausted(uint32(len(p.tasks)))
		panicInvariant("task-table-exhausted", "every task table slot is in use; raise WithTaskCapacity or reduce graph size")
	}

	slot := &p.tasks[id]
	slot.fn = desc.Func
	slot.depState.Store(0)
	slot.priority = desc.Priority
	slot.tasksLeft.Store(1)
	slot.parentOrNextFree = desc.Parent
	slot.dependency = desc.Dependency
	slot.waitable = desc.Waitable
	slot.head = InvalidTaskID
	slot.tail = InvalidTaskID
	slot.sibling = InvalidTaskID
	slot.debugName = desc.DebugName
	slot.state.Store(uint32(taskCreated))

	if desc.Parent != InvalidTaskID {
		p.tasks[desc.Parent].tasksLeft.Add(1)
	}

	dependencyFulfilled := true
	if desc.Dependency != InvalidTaskID {
		dep := &p.tasks[desc.Dependency]
		if taskState(dep.state.Load()) == taskInvalid {
			panicInvariant("dependency-already-freed", "CreateTask dependency refers to a finished/unknown task")
		}
		if dep.tasksLeft.Load() > 0 {
			if dep.tail != InvalidTaskID {
				p.tasks[dep.tail].sibling = id
			} else {
				dep.head = id
			}
			dep.tail = id
			dependencyFulfilled = false
		}
	}

	if dependencyFulfilled {
		slot.depState.Store(depFlagFulfilled)
	}

	return id, nil
}

// DispatchTask marks a created task eligible to run. It must be called
// exactly once per task, after CreateTask and before the task's ID is used
// again. Using the ID after dispatch (other than via values captured in
// TaskDesc, e.g. as a Parent or Dependency for further CreateTask calls
// made before this task could possibly finish) is undefined: the slot may
// already have been recycled for an unrelated task.
func (p *Pool) DispatchTask(id TaskID) {
	if id == InvalidTaskID {
		panicInvariant("dispatch-invalid-id", "DispatchTask called with InvalidTaskID")
	}

	p.tasksMu.Lock()
	slot := &p.tasks[id]
	if taskState(slot.state.Load()) != taskCreated {
		p.tasksMu.Unlock()
		panicInvariant("dispatch-wrong-state", "task is expected to be in Created state")
	}

	old := atomicOr(&slot.depState, depFlagDispatched)
	if old&depFlagDispatched != 0 {
		p.tasksMu.Unlock()
		panicInvariant("dispatch-twice", "task already dispatched")
	}

	shouldEnqueue := old == depFlagFulfilled
	if shouldEnqueue {
		p.enqueueTaskLocked(id)
	}
	p.tasksMu.Unlock()
}

// CreateAndDispatchTask is a convenience for the common case of creating a
// task with no further setup between creation and dispatch.
func (p *Pool) CreateAndDispatchTask(desc TaskDesc) (TaskID, error) {
	id, err := p.CreateTask(desc)
	if err != nil {
		return InvalidTaskID, err
	}
	p.DispatchTask(id)
	return id, nil
}

// onTaskDependencyFulfilledLocked is the mirror image of the dispatch-side
// flag set: called once per dependent when the task it depends on finishes.
// Called with tasksMu held.
func (p *Pool) onTaskDependencyFulfilledLocked(id TaskID) {
	slot := &p.tasks[id]
	if taskState(slot.state.Load()) != taskCreated {
		panicInvariant("dependency-fulfilled-wrong-state", "dependent task is expected to be in Created state")
	}

	old := atomicOr(&slot.depState, depFlagFulfilled)
	if old&depFlagFulfilled != 0 {
		panicInvariant("dependency-fulfilled-twice", "dependent task already had its dependency fulfilled")
	}

	if old == depFlagDispatched {
		p.enqueueTaskLocked(id)
	}
}

// enqueueTaskLocked transitions a task from Created to Queued and pushes it
// onto its priority lane. Called with tasksMu held; acquires the ready
// queue's own mutex internally, preserving the tasksMu-before-queue-mutex
// lock order throughout the package.
func (p *Pool) enqueueTaskLocked(id TaskID) {
	slot := &p.tasks[id]
	if !slot.state.CompareAndSwap(uint32(taskCreated), uint32(taskQueued)) {
		panicInvariant("enqueue-wrong-state", "task is expected to be in Created state")
	}
	if slot.depState.Load() != depFlagsReady {
		panicInvariant("enqueue-deps-not-ready", "task enqueued before both dependency flags were set")
	}
	p.queues.push(slot.priority, id)
}

// schedulerLoop is a worker goroutine's main body: pop a ready task, run
// it, drive the completion cascade, repeat until stopped.
func (p *Pool) schedulerLoop(w *worker) {
	defer p.wg.Done()

	p.threadIDs.Store(getGoroutineID(), w.id)

	ctx := TaskContext{Pool: p, ThreadID: w.id}

	for w.started.Load() {
		id, ok := p.queues.pop()
		if !ok {
			return
		}

		slot := &p.tasks[id]
		ctx.TaskID = id

		if fn := slot.fn; fn != nil {
			if !slot.state.CompareAndSwap(uint32(taskQueued), uint32(taskExecuting)) {
				panicInvariant("execute-wrong-state", "task is expected to be in Queued state")
			}

			p.runTaskFunc(fn, ctx, slot.debugName, id)

			if !slot.state.CompareAndSwap(uint32(taskExecuting), uint32(taskFinished)) {
				panicInvariant("finish-wrong-state", "task is expected to be in Executing state")
			}
		} else {
			// Fence / barrier tasks carry no callback; they exist purely
			// to join dependencies.
			if !slot.state.CompareAndSwap(uint32(taskQueued), uint32(taskFinished)) {
				panicInvariant("finish-wrong-state-nofn", "task is expected to be in Queued state")
			}
		}

		p.finishTask(id)
	}
}

// runTaskFunc executes fn, recovering and logging any panic so one
// misbehaving task cannot take the whole pool down with it.
func (p *Pool) runTaskFunc(fn TaskFunc, ctx TaskContext, debugName string, id TaskID) {
	defer func() {
		if r := recover(); r != nil {
			err := &TaskPanicError{TaskID: id, DebugName: debugName, Value: r}
			p.logWorkerPanic(ctx.ThreadID, id, debugName, err)
		}
	}()
	fn(ctx)
}

// CurrentThreadID returns the dense [0, NumWorkers) identifier of the
// worker goroutine calling it, without needing a TaskContext threaded
// through. It only returns ok=true when called from a goroutine this pool
// itself spawned; calling it from the main goroutine or an unrelated
// goroutine returns ok=false.
func (p *Pool) CurrentThreadID() (id uint32, ok bool) {
	v, found := p.threadIDs.Load(getGoroutineID())
	if !found {
		return 0, false
	}
	return v.(uint32), true
}

// finishTask runs the completion cascade starting at id: decrement its
// tasksLeft, and if that was the last outstanding piece of work, wake every
// task depending on it, free its slot, notify its Waitable (if any), then
// repeat for its parent. Implemented iteratively, not recursively, so a
// long parent or dependency chain never grows the call stack.
func (p *Pool) finishTask(id TaskID) {
	for id != InvalidTaskID {
		var parent TaskID
		var waitable *Waitable

		p.tasksMu.Lock()
		slot := &p.tasks[id]

		parent = slot.parentOrNextFree // parent, while the slot is still allocated
		waitable = slot.waitable

		left := slot.tasksLeft.Add(-1)
		if left < 0 {
			p.tasksMu.Unlock()
			panicInvariant("tasksleft-underflow", "tasksLeft counter went negative")
		}
		if left > 0 {
			p.tasksMu.Unlock()
			return
		}

		sibling := slot.head
		for sibling != InvalidTaskID {
			next := p.tasks[sibling].sibling
			p.onTaskDependencyFulfilledLocked(sibling)
			sibling = next
		}

		p.freeTaskLocked(id)
		p.tasksMu.Unlock()

		if waitable != nil {
			waitable.OnFinished()
		}

		id = parent
	}
}

// Close stops accepting new tasks and signals every worker goroutine to
// exit once its current task (if any) finishes, then blocks until all
// workers have exited. Tasks still waiting in the ready queues, or not yet
// dispatched, may never run; wait on a Waitable for the relevant tasks
// first if they must complete.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	for _, w := range p.workers {
		w.started.Store(false)
	}
	p.queues.stopAll()
	p.logPoolShutdown(len(p.workers))
	p.wg.Wait()
}

var (
	defaultPool   *Pool
	defaultPoolMu sync.Mutex
)

// Default returns the process-wide default Pool, lazily constructing one
// with NewPool()'s defaults on first use. It exists for callers that want a
// single shared scheduler rather than threading a *Pool through their own
// call graph, mirroring the singleton accessor the scheduler this package
// is modeled on exposes.
func Default() *Pool {
	defaultPoolMu.Lock()
	defer defaultPoolMu.Unlock()
	if defaultPool == nil {
		p, err := NewPool()
		if err != nil {
			// NewPool() with zero options only fails on a worker-count
			// misconfiguration, which can't happen with the zero value.
			panic(err)
		}
		defaultPool = p
	}
	return defaultPool
}

// SetDefault replaces the process-wide default Pool returned by Default.
// It does not close the previous default; callers that want that must call
// Close on the pool they retrieved earlier themselves.
func SetDefault(p *Pool) {
	defaultPoolMu.Lock()
	defer defaultPoolMu.Unlock()
	defaultPool = p
}

func atomicOr(v *atomic.Uint32, mask uint32) uint32 {
	return v.Or(mask)
}
