package scheduler

import (
	"sync"

	"github.com/nodeflow-ai/nodeflow/internal/pkg/metrics"
)

// pool is the bounded shared worker pool. Admission is FIFO: Submit blocks
// until a worker slot frees up, in submission order.
type pool struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newPool(size int) *pool {
	if size <= 0 {
		size = 1
	}
	p := &pool{
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case task := <-p.tasks:
			metrics.WorkersBusy.Inc()
			task()
			metrics.WorkersBusy.Dec()
		}
	}
}

// Submit hands a task to the pool, blocking until a worker accepts it.
// Tasks submitted during shutdown are dropped.
func (p *pool) Submit(task func()) {
	select {
	case <-p.done:
	case p.tasks <- task:
	}
}

// Close stops the workers after their current task.
func (p *pool) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}
