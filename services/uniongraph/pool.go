package uniongraph

import "sync"

// pool runs tasks on at most maxWorkers goroutines. Up to core workers are started eagerly,
// further tasks wait in a queue of queueSize and extra workers are only started
// once that queue is full. Submit rejects a task when both are exhausted.
type pool struct {
	core, maxWorkers int
	queue            chan func()

	mu      sync.Mutex
	workers int
	closed  bool
	wg      sync.WaitGroup
}

func newPool(core, maxWorkers, queueSize int) *pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if core > maxWorkers {
		core = maxWorkers
	}
	return &pool{
		core:       core,
		maxWorkers: maxWorkers,
		queue:      make(chan func(), queueSize),
	}
}

// Submit reports whether the task was accepted
func (p *pool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if p.workers < p.core {
		p.spawn(task)
		return true
	}
	select {
	case p.queue <- task:
		return true
	default:
	}
	if p.workers < p.maxWorkers {
		p.spawn(task)
		return true
	}
	return false
}

// spawn must be called with mu held
func (p *pool) spawn(task func()) {
	p.workers++
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for task != nil {
			task()
			task = p.next()
		}
	}()
}

// next returns a queued task, or nil after retiring the calling worker
func (p *pool) next() func() {
	select {
	case task := <-p.queue:
		return task
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case task := <-p.queue:
		return task
	default:
		p.workers--
		return nil
	}
}

// Active returns the number of running workers
func (p *pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Shutdown rejects new tasks and waits for the accepted ones to finish.
func (p *pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
