package taskgraph

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWaitableIsFinishedBeforeOnFinished(t *testing.T) {
	w := NewWaitable()
	require.False(t, w.IsFinished())
	w.OnFinished()
	require.True(t, w.IsFinished())
}

func TestWaitableWaitReturnsImmediatelyIfAlreadyFinished(t *testing.T) {
	w := NewWaitable()
	w.OnFinished()
	w.Wait() // must not block
}

func TestWaitableDoubleFinishPanics(t *testing.T) {
	w := NewWaitable()
	w.OnFinished()
	require.PanicsWithValue(t, &InvariantViolationError{
		Invariant: "waitable-double-finish",
		Detail:    "OnFinished called more than once on the same Waitable",
	}, func() {
		w.OnFinished()
	})
}

func TestWaitableWaitFromSecondGoroutinePanics(t *testing.T) {
	w := NewWaitable()
	w.OnFinished() // so the first Wait below returns immediately, deterministically

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		w.Wait() // claims w for this goroutine
	}()
	<-firstDone

	done := make(chan any, 1)
	go func() {
		defer func() { done <- recover() }()
		w.Wait()
	}()
	r := <-done
	require.NotNil(t, r)
	var ive *InvariantViolationError
	require.ErrorAs(t, r.(error), &ive)
	require.Equal(t, "waitable-wait-wrong-goroutine", ive.Invariant)
}

func TestWaitableZeroValueIsUsable(t *testing.T) {
	var w Waitable
	require.False(t, w.IsFinished())
	w.OnFinished()
	require.True(t, w.IsFinished())
	w.Wait() // must not block, and must not nil-panic on an unset cond.L
}

func TestWaitableWaitWakesOnFinish(t *testing.T) {
	w := NewWaitable()
	var fired atomic.Bool
	go func() {
		fired.Store(true)
		w.OnFinished()
	}()
	w.Wait()
	require.True(t, fired.Load())
}
