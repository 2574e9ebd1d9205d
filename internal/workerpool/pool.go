// Package workerpool runs background jobs, such as recording uploads, on a
// fixed number of goroutines with a bounded queue.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/streamcore/internal/logging"
)

var log = logging.L("workerpool")

// Task is a named unit of work. ctx is cancelled when the pool is drained
// past its deadline.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stats counts task outcomes.
type Stats struct {
	Submitted uint64
	Rejected  uint64
	Succeeded uint64
	Failed    uint64
}

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	queue     chan Task
	wg        sync.WaitGroup
	workers   sync.WaitGroup
	accepting atomic.Bool
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Uint64
	rejected  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64

	onError func(name string, err error)
}

// New creates a pool with maxWorkers goroutines and a queue of queueSize.
func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.accepting.Store(true)

	p.workers.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// OnError registers a hook called after a task fails. Set it before
// submitting work.
func (p *Pool) OnError(fn func(name string, err error)) {
	p.onError = fn
}

// Submit enqueues a task. It returns false if the pool is draining or the
// queue is full.
func (p *Pool) Submit(task Task) bool {
	if !p.accepting.Load() {
		p.rejected.Add(1)
		return false
	}

	// Add before enqueue so Drain cannot miss the task.
	p.wg.Add(1)
	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return true
	default:
		p.wg.Done()
		p.rejected.Add(1)
		log.Warn("worker pool queue full, task rejected", "task", task.Name)
		return false
	}
}

// Drain stops accepting tasks and waits for queued and running ones. If ctx
// ends first, running tasks see their context cancelled. Workers have
// exited when Drain returns.
func (p *Pool) Drain(ctx context.Context) error {
	p.accepting.Store(false)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("worker pool drain: %w", ctx.Err())
		log.Warn("worker pool drain timed out, cancelling tasks")
		p.cancel()
		<-done
	}

	p.closeOnce.Do(func() {
		close(p.queue)
	})
	p.workers.Wait()
	p.cancel()
	return err
}

// Stats returns the task counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for task := range p.queue {
		p.runTask(task)
	}
}

// runTask executes one task with panic recovery.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("task panicked", "task", task.Name, "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("task %s panicked: %v", task.Name, r)
			}
		}()
		return task.Run(p.ctx)
	}()

	if err != nil {
		p.failed.Add(1)
		log.Warn("task failed", "task", task.Name, "error", err, logging.KeyDurationMs, time.Since(start).Milliseconds())
		if p.onError != nil {
			p.onError(task.Name, err)
		}
		return
	}
	p.succeeded.Add(1)
	log.Info("task finished", "task", task.Name, logging.KeyDurationMs, time.Since(start).Milliseconds())
}
