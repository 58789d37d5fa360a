package playback

import "sync"

// Executor runs posted tasks one at a time, in order, on a single goroutine.
// Assembler and scheduler state is only ever touched from its tasks.
type Executor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

func NewExecutor() *Executor {
	e := &Executor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

// Post queues fn and never blocks. It reports false once the executor is closed.
func (e *Executor) Post(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	e.tasks = append(e.tasks, fn)
	e.cond.Signal()
	return true
}

// Sync waits until every task posted before it has run. It must not be called
// from a task.
func (e *Executor) Sync() {
	ch := make(chan struct{})
	if !e.Post(func() { close(ch) }) {
		<-e.done
		return
	}
	<-ch
}

// Close stops accepting tasks, drains the queue and waits for the worker to
// exit. It is idempotent and must not be called from a task.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	<-e.done
}

func (e *Executor) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.tasks) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.tasks) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.tasks[0]
		e.tasks[0] = nil
		e.tasks = e.tasks[1:]
		e.mu.Unlock()

		task()
	}
}
