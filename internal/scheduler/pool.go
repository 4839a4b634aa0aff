package scheduler

import (
	"runtime"
	"sync"
)

// Executor is the pluggable dispatch backend that runs node jobs
// asynchronously. The default is an in-process goroutine pool; alternative
// implementations may fan work out to OS processes or external dispatchers.
type Executor interface {
	// Submit schedules a job for asynchronous execution. It may block while
	// every worker is busy.
	Submit(job func())
	// Close stops accepting jobs and waits for in-flight jobs to finish.
	Close()
}

// Pool is a fixed-size goroutine worker pool. Its size is the global
// concurrency cap of a run.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// NewPool starts a pool of the given number of workers. A non-positive count
// defaults to the number of CPUs.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{jobs: make(chan func())}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Submit hands a job to the next free worker, blocking while all are busy.
func (p *Pool) Submit(job func()) {
	p.jobs <- job
}

// Close drains the pool and waits for all workers to exit.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
