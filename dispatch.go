package statesync

import "sync"

// Dispatcher schedules provider work. Mutate never waits on dispatched work;
// results land later through their own Mutate call.
type Dispatcher interface {
	Dispatch(task func())
}

// AsyncDispatcher runs each task on its own goroutine and tracks in-flight
// work so callers can drain it before shutdown.
type AsyncDispatcher struct {
	wg sync.WaitGroup
}

// NewAsyncDispatcher returns a goroutine-per-task dispatcher.
func NewAsyncDispatcher() *AsyncDispatcher {
	return &AsyncDispatcher{}
}

// Dispatch implements Dispatcher.
func (d *AsyncDispatcher) Dispatch(task func()) {
	if task == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		task()
	}()
}

// Wait blocks until every dispatched task, including tasks dispatched by
// running tasks, has returned.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

// InlineDispatcher runs tasks synchronously on the caller's goroutine. Useful
// in tests where provider side effects must be observable right after Mutate.
type InlineDispatcher struct{}

// Dispatch implements Dispatcher.
func (InlineDispatcher) Dispatch(task func()) {
	if task != nil {
		task()
	}
}

type waiter interface {
	Wait()
}
