// Package workers runs inbound processor events on a fixed pool where
// every transaction id is pinned to one worker. That pins all events
// for a transaction to a single goroutine, so lifecycle handlers never
// race each other for the same transaction.
package workers

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"payout-core/pkg/logging"
)

// Task is one unit of work keyed by the transaction it touches.
type Task struct {
	Key string
	Run func(ctx context.Context)
}

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("worker pool is stopped")

// Pool is a set of single-goroutine workers, each draining its own
// queue. Tasks with the same key always land on the same worker.
type Pool struct {
	queues []chan Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

// NewPool starts n workers with the given per-worker queue depth.
func NewPool(n, depth int) *Pool {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queues: make([]chan Task, n),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range p.queues {
		p.queues[i] = make(chan Task, depth)
		p.wg.Add(1)
		go p.run(i)
	}
	logging.Infof("Event worker pool started - workers: %d, queue depth: %d", n, depth)
	return p
}

func (p *Pool) run(i int) {
	defer p.wg.Done()
	for task := range p.queues[i] {
		task.Run(p.ctx)
	}
}

// Submit enqueues a task. Blocks when the target worker's queue is
// full; inbound HTTP handlers rely on that backpressure instead of
// dropping events.
func (p *Pool) Submit(key string, run func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	p.queues[p.bucket(key)] <- Task{Key: key, Run: run}
	return nil
}

func (p *Pool) bucket(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Stop drains the queues and waits for in-flight tasks, then cancels
// the context handed to task functions.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
	p.cancel()
	logging.Infof("Event worker pool stopped")
}
