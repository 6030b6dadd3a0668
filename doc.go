// Package taskgraph provides a fixed-capacity, priority-aware, fork-join
// task scheduler intended for per-frame work in a real-time rendering or
// simulation loop: short-lived tasks, deep parent/child and dependency
// chains, and a strict requirement that the main goroutine can cheaply
// block until an entire graph of work has finished.
//
// # Architecture
//
// A [Pool] owns a fixed-size task table (see [WithTaskCapacity]) and a set
// of priority-ordered ready queues (see [WithPriorities]), serviced by a
// configurable number of worker goroutines (see [WithWorkerCount]). Tasks are
// allocated from the table via [Pool.CreateTask], which returns immediately
// without making the task runnable; [Pool.DispatchTask] (or
// [Pool.CreateAndDispatchTask]) marks it eligible to run once any
// dependency it names has itself finished. A task's state only ever moves
// forward through Created -> Queued -> Executing -> Finished, each
// transition a single atomic compare-and-swap that panics if it observes
// anything other than the expected prior state.
//
// [Builder] wraps the create/dispatch pair in a scope-lifetime helper for
// assembling whole graphs: a run of Task/CustomTask/ParallelFor calls,
// joined by Fence calls that make everything after the fence wait on
// everything before it.
//
// [Waitable] is the handle a graph's creator blocks on; [Waitable.Wait] is
// restricted to a single goroutine, claimed by whichever one calls it
// first, because waiting from more than one goroutine (or from a worker)
// risks deadlocking against the very graph it's blocked on.
//
// # Thread Safety
//
// Every exported method on [Pool] and [Waitable] is safe for concurrent
// use, including calls made from within a running task. A [Builder] has no
// internal locking and must be used from one goroutine at a time. The
// task table's lock is always acquired before the ready queue's internal
// lock, never the reverse, so the two can never deadlock against each
// other.
//
// # Error Handling
//
// Misuse at the API boundary that a caller can reasonably recover from (a
// closed pool, an out-of-range priority) surfaces as sentinel error values
// (see [ErrPoolClosed], [ErrInvalidPriority]) that callers can match with
// [errors.Is]. Everything else — double-dispatch, waiting on a Waitable
// from a goroutine other than the first one that waited on it (there is no
// check tied to the main goroutine), a tasksLeft counter underflowing, or a
// CreateTask call that
// finds the fixed-size task table full — panics with an
// [*InvariantViolationError] instead: the task table's capacity is a
// deliberate, caller-chosen budget (see [WithTaskCapacity]), and exceeding
// it indicates the caller needs to raise that budget or shrink the graph,
// not retry.
//
// # Logging
//
// Worker panics and pool-lifecycle events are reported through a
// process-wide structured logger installed with [SetLogger]; by default
// nothing is logged.
package taskgraph
