package sim

import (
	"sync"
	"sync/atomic"

	"github.com/tetherball88/Know-Your-Limits/core"
)

// TaskQueue runs submitted functions one at a time on a single goroutine
type TaskQueue struct {
	mu     sync.RWMutex
	tasks  chan func()
	closed bool
	done   chan struct{}

	// available=false makes AddTask reject without closing, simulating a missing task interface
	available atomic.Bool
	executed  atomic.Int64
}

// NewTaskQueue starts the worker goroutine
func NewTaskQueue(buffer int) *TaskQueue {
	if buffer <= 0 {
		buffer = 64
	}
	q := &TaskQueue{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	q.available.Store(true)
	core.Go(q.run)
	return q
}

func (q *TaskQueue) run() {
	defer close(q.done)
	for fn := range q.tasks {
		fn()
		q.executed.Add(1)
	}
}

// AddTask implements host.TaskQueue
func (q *TaskQueue) AddTask(fn func()) bool {
	if fn == nil || !q.available.Load() {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.tasks <- fn
	return true
}

// SetAvailable toggles whether AddTask accepts work
func (q *TaskQueue) SetAvailable(ok bool) {
	q.available.Store(ok)
}

// Flush blocks until every task submitted before the call has run
// Must not be called from inside a task
func (q *TaskQueue) Flush() {
	done := make(chan struct{})
	if !q.AddTask(func() { close(done) }) {
		return
	}
	<-done
}

// Executed returns the number of tasks run so far
func (q *TaskQueue) Executed() int64 {
	return q.executed.Load()
}

// Close stops accepting tasks, drains pending ones and waits for the worker
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	<-q.done
}
