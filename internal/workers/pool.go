// Package workers provides the bounded worker pool that executes background
// agent runs. Pool size caps concurrency; the scheduler calls TrySubmit and
// leaves an agent armed for the next tick when the pool is saturated.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nightshift-run/nightshift/internal/logger"
)

const (
	DefaultPoolSize  = 5
	DefaultQueueSize = 100
)

// Task is one unit of work, usually a single agent run.
type Task struct {
	ID      string
	AgentID string
	Run     func(ctx context.Context) (string, error)
}

// Result is the outcome of an executed task.
type Result struct {
	TaskID   string
	AgentID  string
	Output   string
	Err      error
	Duration time.Duration
}

// Metrics tracks pool counters.
type Metrics struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
}

// Pool runs tasks on a fixed number of goroutines.
type Pool struct {
	taskQueue chan Task
	resultCh  chan Result
	workers   int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	log       *logger.Logger

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64

	stopOnce sync.Once
}

// NewPool creates a pool. Zero values fall back to the defaults.
func NewPool(workers, queueSize int, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		taskQueue: make(chan Task, queueSize),
		resultCh:  make(chan Result, queueSize),
		workers:   workers,
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.log.Info("starting worker pool",
		logger.Field{Key: "workers", Value: p.workers},
		logger.Field{Key: "queue_size", Value: cap(p.taskQueue)},
	)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// TrySubmit enqueues a task without blocking. Returns false when the queue
// is full; the caller decides whether to retry later.
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

// Submit enqueues a task, blocking until there is room or ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the channel task outcomes are delivered on.
func (p *Pool) Results() <-chan Result {
	return p.resultCh
}

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.taskQueue)
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stop cancels the workers and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		close(p.resultCh)

		m := p.Metrics()
		p.log.Info("worker pool stopped",
			logger.Field{Key: "submitted", Value: m.Submitted},
			logger.Field{Key: "completed", Value: m.Completed},
			logger.Field{Key: "failed", Value: m.Failed},
		)
	})
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.taskQueue:
			p.process(id, task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) process(workerID int, task Task) {
	start := time.Now()
	output, err := p.run(workerID, task)
	result := Result{
		TaskID:   task.ID,
		AgentID:  task.AgentID,
		Output:   output,
		Err:      err,
		Duration: time.Since(start),
	}

	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}

	select {
	case p.resultCh <- result:
	case <-p.ctx.Done():
		p.log.Warn("result dropped, pool shutting down",
			logger.Field{Key: "task_id", Value: task.ID})
	}
}

// run executes one task, converting a panic into a failed result so the
// consumer always sees an outcome for a submitted task.
func (p *Pool) run(workerID int, task Task) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.log.Error("worker panic recovered", err,
				logger.Field{Key: "worker_id", Value: workerID},
				logger.Field{Key: "task_id", Value: task.ID},
			)
		}
	}()
	return task.Run(p.ctx)
}
