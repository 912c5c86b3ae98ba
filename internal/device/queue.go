package device

import (
	"sync"
	"time"

	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue executes submitted operations one at a time, in submission order, on
// its own goroutine.
type Queue struct {
	dev *Device

	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

func (d *Device) NewQueue() *Queue {
	q := &Queue{dev: d, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	d.queues.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}

func (q *Queue) submit(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.pending = append(q.pending, fn)
	q.cond.Signal()
	return nil
}

// Exec submits device work costing cost.
func (q *Queue) Exec(cost time.Duration, fn func()) error {
	return q.submit(func() { q.dev.Run(cost, fn) })
}

func (q *Queue) Wait(m types.Marker) error {
	if m == nil {
		return errors.New("queue wait on nil marker")
	}
	return q.submit(func() {
		// a marker that is never reached would stall the queue forever, the
		// pipeline only waits on markers it has already placed
		_ = m.Wait()
	})
}

func (q *Queue) Sync() error {
	ch := make(chan struct{})
	if err := q.submit(func() { close(ch) }); err != nil {
		return err
	}
	<-ch
	return nil
}

// Close drains the operations already submitted and stops the queue.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
	q.dev.queues.Add(-1)
	return nil
}
