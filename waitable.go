package taskgraph

import (
	"runtime"
	"sync"
	"sync/atomic"
)

func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// Waitable is a single-shot completion handle. A Builder (or a raw
// DispatchTask via TaskDesc.Waitable) signals it exactly once, when the
// task graph it was attached to has fully finished (the task itself and
// every transitive child). Callers block on it with Wait.
//
// The zero value is a ready-to-use, unfinished Waitable; NewWaitable exists
// only for callers that prefer an explicit constructor. A Waitable must not
// be copied after first use.
//
// Wait is restricted to a single goroutine: whichever goroutine calls it
// first becomes this Waitable's owner, and every later call (from that same
// Waitable instance) must come from that same goroutine. This mirrors the
// "main thread constructs the pool and is the only one that blocks on
// waitables" contract from a caller's point of view — the goroutine that
// kicks off a task graph and means to block on its completion is, in
// practice, the only one that ever calls Wait on that graph's Waitable —
// without pinning the check to a single process-wide goroutine captured at
// package-init time, which would wrongly reject a pool built and waited on
// from any goroutine other than the very first one the process ever ran.
// Calling Wait from a second goroutine panics rather than risking a
// deadlock between two callers both waiting on the same graph.
type Waitable struct {
	mu       sync.Mutex
	cond     sync.Cond
	initOnce sync.Once
	finished atomic.Bool

	// waiter is the goroutine ID that first called Wait, or 0 if none has
	// yet. Goroutine IDs are always >= 1, so 0 is a safe "unclaimed" sentinel.
	waiter atomic.Uint64
}

// NewWaitable returns a fresh, unfinished Waitable.
func NewWaitable() *Waitable {
	w := &Waitable{}
	w.init()
	return w
}

func (w *Waitable) init() {
	w.initOnce.Do(func() {
		w.cond.L = &w.mu
	})
}

// checkWaiterGoroutine claims this Waitable for the calling goroutine on
// the first call, and panics if a later call arrives from any other one.
func (w *Waitable) checkWaiterGoroutine() {
	gid := getGoroutineID()
	if w.waiter.CompareAndSwap(0, gid) {
		return
	}
	if w.waiter.Load() != gid {
		panicInvariant("waitable-wait-wrong-goroutine", "Waitable.Wait must only ever be called from the goroutine that first called it")
	}
}

// IsFinished reports whether OnFinished has already been called, without
// blocking.
func (w *Waitable) IsFinished() bool {
	return w.finished.Load()
}

// Wait blocks until OnFinished has been called. It must only ever be
// called from a single goroutine for a given Waitable (see type doc);
// calling it from a second goroutine panics with an
// *InvariantViolationError.
func (w *Waitable) Wait() {
	w.init()
	w.checkWaiterGoroutine()
	if w.finished.Load() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.finished.Load() {
		w.cond.Wait()
	}
}

// OnFinished marks the Waitable as finished and wakes any goroutine blocked
// in Wait. It must be called at most once; a second call panics.
func (w *Waitable) OnFinished() {
	w.init()
	if w.finished.Swap(true) {
		panicInvariant("waitable-double-finish", "OnFinished called more than once on the same Waitable")
	}
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}
