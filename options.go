package taskgraph

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"go.uber.org/automaxprocs/maxprocs"
)

// poolOptions holds configuration resolved from PoolOption values passed to
// NewPool.
type poolOptions struct {
	numWorkers      int
	taskCapacity    uint32
	numPriorities   uint8
	builderCapacity int
	logger          *logiface.Logger[*stumpy.Event]
}

// PoolOption configures a Pool at construction time.
type PoolOption interface {
	applyPool(*poolOptions)
}

type poolOptionFunc func(*poolOptions)

func (f poolOptionFunc) applyPool(opts *poolOptions) { f(opts) }

// WithWorkerCount sets the number of worker goroutines. If n <= 0, NewPool
// falls back to runtime.GOMAXPROCS(0) after giving automaxprocsOnce a
// chance to adjust GOMAXPROCS for the container's CPU quota (see
// resolvePoolOptions), so a pool left at its default sizes itself to the
// cgroup's actual share rather than the host's full core count.
func WithWorkerCount(n int) PoolOption {
	return poolOptionFunc(func(opts *poolOptions) {
		opts.numWorkers = n
	})
}

// WithTaskCapacity sets the fixed number of task table slots. Exceeding it
// panics with an *InvariantViolationError rather than growing the table:
// capacity is a deliberate, caller-visible budget, not an implicit
// allocator concern (see doc.go, "Error Handling").
func WithTaskCapacity(capacity uint32) PoolOption {
	return poolOptionFunc(func(opts *poolOptions) {
		opts.taskCapacity = capacity
	})
}

// WithPriorities sets the number of distinct ready-queue priority levels.
// Priority 0 is always highest; valid task priorities are [0, n).
func WithPriorities(n uint8) PoolOption {
	return poolOptionFunc(func(opts *poolOptions) {
		opts.numPriorities = n
	})
}

// WithBuilderCapacity sets the default pending-task capacity new Builders
// are constructed with (see NewBuilder). Individual call sites that need a
// different capacity can still pass one explicitly via NewBuilderCapacity.
func WithBuilderCapacity(n int) PoolOption {
	return poolOptionFunc(func(opts *poolOptions) {
		opts.builderCapacity = n
	})
}

// WithLogger installs a per-pool structured logger, overriding the
// process-wide one installed via SetLogger for diagnostics emitted by this
// specific Pool.
func WithLogger(logger *logiface.Logger[*stumpy.Event]) PoolOption {
	return poolOptionFunc(func(opts *poolOptions) {
		opts.logger = logger
	})
}

// DefaultTaskCapacity matches the fixed task-table size used upstream.
const DefaultTaskCapacity = 1024 * 128

// DefaultNumPriorities matches the upstream priority-queue count.
const DefaultNumPriorities = 3

var automaxprocsOnce sync.Once

func resolvePoolOptions(opts []PoolOption) *poolOptions {
	cfg := &poolOptions{
		numWorkers:      0,
		taskCapacity:    DefaultTaskCapacity,
		numPriorities:   DefaultNumPriorities,
		builderCapacity: BuilderMaxPendingTasks,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyPool(cfg)
	}
	if cfg.numWorkers <= 0 {
		automaxprocsOnce.Do(func() {
			// Ignore the undo func: a scheduler pool lives for the process
			// lifetime, so there's nothing meaningful to undo to.
			_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
				getLogger().Debug().Log(fmt.Sprintf(format, args...))
			}))
		})
		cfg.numWorkers = runtime.GOMAXPROCS(0)
	}
	if cfg.builderCapacity <= 0 {
		cfg.builderCapacity = BuilderMaxPendingTasks
	}
	return cfg
}
