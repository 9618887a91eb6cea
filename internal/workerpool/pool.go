// Package workerpool runs artifact deliveries on a bounded set of
// goroutines so a slow sink never blocks the recorder.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/surfacerec/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work. ctx is cancelled once the pool has drained.
type Task func(ctx context.Context)

// Stats counts what the pool has done so far.
type Stats struct {
	Submitted uint64
	Rejected  uint64
	Completed uint64
	Panicked  uint64
}

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	maxWorkers int
	queue      chan Task
	wg         sync.WaitGroup
	accepting  atomic.Bool
	stopOnce   sync.Once
	closeOnce  sync.Once
	stopChan   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	panicked  atomic.Uint64
}

// New creates a pool with maxWorkers goroutines and a task queue of queueSize.
func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		maxWorkers: maxWorkers,
		queue:      make(chan Task, queueSize),
		stopChan:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	log.Info("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Context is cancelled when the pool finishes draining, so long-running
// tasks such as uploads can abort.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit enqueues a task. Returns false if the pool is stopped or the queue is full.
// wg.Add is called here (before enqueue) to prevent a race with Drain.
func (p *Pool) Submit(task Task) bool {
	if !p.accepting.Load() {
		p.rejected.Add(1)
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return true
	default:
		p.wg.Done() // undo the Add since task was not enqueued
		p.rejected.Add(1)
		log.Warn("worker pool queue full, task rejected")
		return false
	}
}

// StopAccepting prevents new tasks from being submitted.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Drain waits for all in-flight and queued tasks to complete, respecting the
// context deadline. It stops accepting new tasks first. After Drain returns
// the pool context is cancelled and the workers exit.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("worker pool drained", "completed", p.completed.Load())
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
	}

	p.cancel()
	// Close queue so worker goroutines exit and are not leaked
	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

// Shutdown is StopAccepting followed by Drain.
func (p *Pool) Shutdown(ctx context.Context) {
	p.StopAccepting()
	p.Drain(ctx)
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.stopChan:
			// Drain remaining queued tasks
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task)
				default:
					return
				}
			}
		}
	}
}

// runTask executes a single task with panic recovery. wg.Done is called here
// to match the wg.Add in Submit.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			return
		}
		p.completed.Add(1)
	}()
	task(p.ctx)
}
