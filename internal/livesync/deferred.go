package livesync

import (
	"sync/atomic"
	"time"
)

const (
	taskPending int32 = iota
	taskFired
	taskCancelled
)

// task is a deferred call that can be cancelled until it starts running.
// A nil *task is valid and never pending.
type task struct {
	timer *time.Timer
	state atomic.Int32
}

func after(d time.Duration, fn func()) *task {
	t := &task{}
	t.timer = time.AfterFunc(d, func() {
		if t.state.CompareAndSwap(taskPending, taskFired) {
			fn()
		}
	})
	return t
}

// Cancel reports whether the call was prevented from running.
func (t *task) Cancel() bool {
	if t == nil {
		return false
	}
	if t.state.CompareAndSwap(taskPending, taskCancelled) {
		t.timer.Stop()
		return true
	}
	return false
}

// Pending reports whether the call is still waiting to run.
func (t *task) Pending() bool {
	return t != nil && t.state.Load() == taskPending
}
