package pipeline

import (
	"sync"

	"github.com/pkg/errors"
)

var errPoolClosed = errors.New("pool closed")

// Future completes when its task has run and holds the task's error.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) Wait() {
	<-f.done
}

// Err is the task's error, valid once the future is done.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

type task struct {
	fn  func() error
	fut *Future
}

// Pool runs tasks on a fixed set of worker goroutines, in submission order
// when it has a single worker.
type Pool struct {
	mu     sync.Mutex
	tasks  chan task
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines. backlog bounds the queued tasks before
// AddTask blocks.
func NewPool(workers, backlog int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if backlog < 1 {
		backlog = 1
	}
	p := &Pool{tasks: make(chan task, backlog)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		t.fut.err = t.fn()
		close(t.fut.done)
	}
}

// AddTask queues fn. On a closed pool fn never runs and the returned future
// is already done with an error.
func (p *Pool) AddTask(fn func() error) *Future {
	fut := newFuture()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		fut.err = errPoolClosed
		close(fut.done)
		return fut
	}
	p.tasks <- task{fn: fn, fut: fut}
	return fut
}

// Close runs the queued tasks to completion and stops the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
