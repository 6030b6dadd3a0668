// Package-level configuration for structured logging.
//
// The scheduler itself never constructs a logger; when it needs to emit a
// diagnostic it uses the Pool's own logger (see WithLogger) if one was
// given, and otherwise whatever is installed globally at that moment. This
// keeps the hot paths (CreateTask, DispatchTask, the worker loop) free of
// any per-call configuration surface, while still letting a host process
// wire in its own sink.

package taskgraph

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

var globalLogger struct {
	sync.RWMutex
	logger *logiface.Logger[*stumpy.Event]
}

// SetLogger installs the structured logger used for scheduler diagnostics
// (worker panics, invariant violations recovered at a boundary, pool
// shutdown). Passing nil disables logging.
func SetLogger(logger *logiface.Logger[*stumpy.Event]) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

// getLogger returns the installed logger, or a disabled logger if none has
// been installed. A disabled logiface.Logger is safe to call methods on and
// performs no allocation or formatting.
func getLogger() *logiface.Logger[*stumpy.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	if globalLogger.logger != nil {
		return globalLogger.logger
	}
	return disabledLogger
}

// disabledLogger is the default sink: a stumpy logger built with a level
// filter that disables every level, so field-builder calls still type-check
// and short-circuit without ever touching an io.Writer.
var disabledLogger = stumpy.L.New(
	stumpy.L.WithStumpy(),
	logiface.WithLevel[*stumpy.Event](logiface.LevelDisabled),
)

// poolLogger returns p's own logger if WithLogger installed one, otherwise
// the process-wide logger installed via SetLogger.
func (p *Pool) poolLogger() *logiface.Logger[*stumpy.Event] {
	if p.logger != nil {
		return p.logger
	}
	return getLogger()
}

func (p *Pool) logWorkerPanic(threadID uint32, taskID TaskID, debugName string, err *TaskPanicError) {
	p.poolLogger().Err().
		Int(`thread`, int(threadID)).
		Uint64(`task`, uint64(taskID)).
		Str(`name`, debugName).
		Err(err).
		Log(`task panicked during execution`)
}

func (p *Pool) logPoolShutdown(numThreads int) {
	p.poolLogger().Info().
		Int(`threads`, numThreads).
		Log(`worker pool shutting down`)
}

func (p *Pool) logTaskTableExhausted(capacity uint32) {
	p.poolLogger().Warning().
		Uint64(`capacity`, uint64(capacity)).
		Log(`task table exhausted; raise WithTaskCapacity or reduce graph size`)
}
