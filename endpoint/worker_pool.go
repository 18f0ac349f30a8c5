package endpoint

import (
	"log"
	"runtime"
	"sync"
)

const defaultQueueSize = 256

// WorkerPool runs submitted tasks on a fixed set of goroutines fed by a
// bounded FIFO queue. Submit blocks while the queue is full.
type WorkerPool struct {
	tasks  chan func()
	logger *log.Logger
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts workers goroutines. Non-positive values select
// runtime.NumCPU() workers and a queue of 256.
func NewWorkerPool(workers, queueSize int, logger *log.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &WorkerPool{tasks: make(chan func(), queueSize), logger: logger}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("worker task panicked: %v", r)
		}
	}()
	task()
}

// Submit queues task, blocking while the queue is full.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.tasks <- task
	return nil
}

// Close stops accepting work, runs everything already queued and waits for
// the workers to exit. Calling Close twice is safe.
func (p *WorkerPool) Close() {
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
