package worker

import (
	"context"
	"sync"
)

// Pool fans queue work out to a fixed set of workers and gives the shutdown
// orchestrator separate control over intake and in-flight processing.
type Pool struct {
	workers []*Worker

	mu         sync.Mutex
	started    bool
	pullCancel context.CancelFunc
	procCancel context.CancelFunc
	done       chan struct{}
}

// NewPool creates a Pool over the given workers.
func NewPool(workers []*Worker) *Pool {
	return &Pool{workers: workers, done: make(chan struct{})}
}

// Start launches every worker. The pull and processing contexts both derive
// from ctx; StopPulling and CancelProcessing cancel them independently.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	pullCtx, pullCancel := context.WithCancel(ctx)
	procCtx, procCancel := context.WithCancel(ctx)
	p.pullCancel = pullCancel
	p.procCancel = procCancel

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(pullCtx, procCtx)
		}(w)
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
}

// StopPulling stops workers from dequeuing new items. In-flight items keep
// processing.
func (p *Pool) StopPulling() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pullCancel != nil {
		p.pullCancel()
	}
}

// CancelProcessing cancels in-flight work.
func (p *Pool) CancelProcessing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.procCancel != nil {
		p.procCancel()
	}
	if p.pullCancel != nil {
		p.pullCancel()
	}
}

// Wait blocks until every worker goroutine has returned or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size reports the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}
