// Package worker provides the bounded goroutine pool the Writer uses to
// fan tile preparation, filtering and storage writes out across
// attributes and dimensions within a single write() call. Only I/O and
// filter calls may block; pool sizing is the write config's thread_num.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one field's worth of tile work: preparing, filtering, and
// handing a tile off to the storage backend for a single attribute or
// dimension within one write() call.
type Task struct {
	ID      string
	Fn      func(context.Context) error
	Context context.Context
}

// Config sizes a WorkerPool. Name identifies the pool in logs; a writer
// node runs exactly one, sized by WorkerConfig.ThreadNum.
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// WorkerPool fans Tasks out across a fixed number of goroutines, queuing
// submissions that arrive faster than the pool can drain them up to
// QueueSize before rejecting. Counters are plain atomics rather than a
// mutex: the hot path is Submit/execute, and every counter is read only
// for Stats().
type WorkerPool struct {
	name       string
	maxWorkers int
	queueSize  int
	queue      chan Task
	logger     *zap.Logger

	workers   sync.WaitGroup
	drainOnce sync.Once
	done      chan struct{}

	inFlight  atomic.Int32
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// NewWorkerPool builds and starts a pool of cfg.MaxWorkers goroutines,
// each draining the shared task queue until the pool is stopped.
func NewWorkerPool(cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &WorkerPool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		queueSize:  cfg.QueueSize,
		queue:      make(chan Task, cfg.QueueSize),
		logger:     cfg.Logger,
		done:       make(chan struct{}),
	}

	for i := 0; i < p.maxWorkers; i++ {
		p.workers.Add(1)
		go p.drain(i)
	}

	p.logger.Info("worker pool started",
		zap.String("pool", p.name),
		zap.Int("max_workers", p.maxWorkers),
		zap.Int("queue_size", p.queueSize))

	return p
}

// drain is one worker goroutine's loop: pull a task, run it, repeat,
// until the pool is stopped.
func (p *WorkerPool) drain(workerID int) {
	defer p.workers.Done()

	for {
		select {
		case <-p.done:
			return
		case task := <-p.queue:
			p.run(workerID, task)
		}
	}
}

// run executes one task with panic recovery and records its outcome.
func (p *WorkerPool) run(workerID int, task Task) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	start := time.Now()
	err := p.recoverAndExecute(task)
	elapsed := time.Since(start)

	if err != nil {
		p.failed.Add(1)
		p.logger.Error("task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	p.succeeded.Add(1)
	p.logger.Debug("task completed",
		zap.String("pool", p.name),
		zap.Int("worker_id", workerID),
		zap.String("task_id", task.ID),
		zap.Duration("elapsed", elapsed))
}

// recoverAndExecute runs task.Fn, converting a panic into an error so one
// bad tile can't take down the whole pool.
func (p *WorkerPool) recoverAndExecute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", task.ID, r)
			p.logger.Error("task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	ctx := task.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return task.Fn(ctx)
}

// Submit enqueues task without blocking, failing if the pool is stopped
// or the queue is already full.
func (p *WorkerPool) Submit(task Task) error {
	if p.stopped() {
		p.rejected.Add(1)
		return fmt.Errorf("worker pool %q is stopped", p.name)
	}
	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("worker pool %q queue is full", p.name)
	}
}

// SubmitWithContext enqueues task, blocking until it is accepted, the
// pool stops, or ctx is cancelled.
func (p *WorkerPool) SubmitWithContext(ctx context.Context, task Task) error {
	select {
	case <-p.done:
		p.rejected.Add(1)
		return fmt.Errorf("worker pool %q is stopped", p.name)
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	}
}

// TrySubmit is Submit without an error return, for callers that only
// care whether the task was accepted.
func (p *WorkerPool) TrySubmit(task Task) bool {
	return p.Submit(task) == nil
}

func (p *WorkerPool) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop signals every worker to exit once its current task finishes and
// waits up to timeout for them to drain. Safe to call more than once;
// only the first call has effect.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var stopErr error
	p.drainOnce.Do(func() {
		p.logger.Info("stopping worker pool", zap.String("pool", p.name))
		close(p.done)

		exited := make(chan struct{})
		go func() {
			p.workers.Wait()
			close(exited)
		}()

		select {
		case <-exited:
			p.logger.Info("worker pool stopped", zap.String("pool", p.name))
		case <-time.After(timeout):
			stopErr = fmt.Errorf("worker pool %q did not drain within %v", p.name, timeout)
			p.logger.Warn("worker pool stop timed out", zap.String("pool", p.name))
		}
	})
	return stopErr
}

// Stats is a point-in-time snapshot of a WorkerPool's saturation and
// throughput, exported to Prometheus by the ops server.
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueueSize      int
	QueuedTasks    int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

// Stats snapshots the pool's current counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(p.inFlight.Load()),
		QueueSize:      p.queueSize,
		QueuedTasks:    len(p.queue),
		TotalTasks:     p.submitted.Load(),
		CompletedTasks: p.succeeded.Load(),
		FailedTasks:    p.failed.Load(),
		RejectedTasks:  p.rejected.Load(),
	}
}

// QueueUtilization is the fraction of QueueSize currently occupied, as a
// percentage.
func (s Stats) QueueUtilization() float64 {
	if s.QueueSize == 0 {
		return 0
	}
	return (float64(s.QueuedTasks) / float64(s.QueueSize)) * 100.0
}

// WorkerUtilization is the fraction of MaxWorkers currently busy, as a
// percentage.
func (s Stats) WorkerUtilization() float64 {
	if s.MaxWorkers == 0 {
		return 0
	}
	return (float64(s.ActiveWorkers) / float64(s.MaxWorkers)) * 100.0
}

// SuccessRate is the fraction of submitted tasks that completed without
// error, as a percentage. A pool that has run no tasks reports 100.
func (s Stats) SuccessRate() float64 {
	if s.TotalTasks == 0 {
		return 100.0
	}
	return (float64(s.CompletedTasks) / float64(s.TotalTasks)) * 100.0
}
