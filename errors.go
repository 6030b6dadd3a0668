package taskgraph

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the public API. Callers should match these
// with [errors.Is].
var (
	// ErrPoolClosed is returned by CreateTask (and so by
	// CreateAndDispatchTask) once the pool has been shut down.
	ErrPoolClosed = errors.New("taskgraph: pool is closed")

	// ErrInvalidWorkerCount is returned by NewPool if the resolved worker
	// count is not positive. A count of zero or less given to
	// WithWorkerCount is not rejected: it is replaced by
	// runtime.GOMAXPROCS(0).
	ErrInvalidWorkerCount = errors.New("taskgraph: worker count must be positive")

	// ErrInvalidPriority is returned by CreateTask when the requested
	// priority falls outside [0, NumPriorities).
	ErrInvalidPriority = errors.New("taskgraph: priority out of range")
)

// InvariantViolationError reports a broken internal invariant: a state
// transition observed a value the scheduler's design considers impossible
// absent caller misuse (e.g. waiting on a Waitable from a second goroutine,
// or double-finishing a Waitable). It is raised via panic rather than
// returned, mirroring the assertion-on-corruption posture of the scheduler
// this package is modeled on: these conditions indicate a bug, not a
// recoverable runtime condition.
type InvariantViolationError struct {
	// Invariant names the broken invariant, stable across versions so it
	// can be matched on in tests.
	Invariant string
	// Detail is a fixed description of the violation for its Invariant. It
	// does not include the task ID, the task's debug name, a goroutine ID or
	// the state values involved.
	Detail string
}

func (e *InvariantViolationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("taskgraph: invariant violated: %s", e.Invariant)
	}
	return fmt.Sprintf("taskgraph: invariant violated: %s: %s", e.Invariant, e.Detail)
}

func panicInvariant(invariant, detail string) {
	panic(&InvariantViolationError{Invariant: invariant, Detail: detail})
}

// TaskPanicError wraps a value recovered from a task callback's panic. The
// worker that executes the task recovers the panic so that one misbehaving
// task cannot take down the whole pool; the error is logged. It is not
// passed to the task's Waitable or otherwise returned to the caller.
type TaskPanicError struct {
	TaskID    TaskID
	DebugName string
	Value     any
}

func (e *TaskPanicError) Error() string {
	if e.DebugName != "" {
		return fmt.Sprintf("taskgraph: task %q (id=%d) panicked: %v", e.DebugName, e.TaskID, e.Value)
	}
	return fmt.Sprintf("taskgraph: task %d panicked: %v", e.TaskID, e.Value)
}

// Unwrap returns the recovered value if it is itself an error, enabling
// [errors.Is] / [errors.As] against the original cause.
func (e *TaskPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
