package worker

import (
	"context"
	"fmt"
	"sync"
)

// Group runs a fixed set of jobs across the pool and blocks until every
// job has completed, collecting the first error (if any). The Writer uses
// this for per-attribute/dimension fan-out within one write() call, where
// every tile must be prepared, filtered and queued for I/O before the
// call can return. Jobs are submitted with generic, index-derived task
// IDs; callers that can name each job's field should use GroupLabeled
// instead, so pool logs and panics point at the attribute or dimension
// that was being tiled.
func (p *WorkerPool) Group(ctx context.Context, jobs []func(context.Context) error) error {
	labels := make([]string, len(jobs))
	for i := range labels {
		labels[i] = fmt.Sprintf("group-%d", i)
	}
	return p.GroupLabeled(ctx, labels, jobs)
}

// GroupLabeled is Group with a caller-supplied task ID per job. The Writer
// fans tile preparation out one job per attribute/dimension; labeling each
// task with its field name means a panic recovered mid-fan-out, or a log
// line from run(), names the field that was being tiled rather than an
// opaque index.
func (p *WorkerPool) GroupLabeled(ctx context.Context, labels []string, jobs []func(context.Context) error) error {
	if len(jobs) == 0 {
		return nil
	}
	if len(labels) != len(jobs) {
		return fmt.Errorf("worker pool %q: %d labels for %d jobs", p.name, len(labels), len(jobs))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	wg.Add(len(jobs))

	for i, job := range jobs {
		job := job
		label := labels[i]
		task := Task{
			ID:      label,
			Context: ctx,
			Fn: func(taskCtx context.Context) error {
				defer wg.Done()
				// A panicking job becomes the group's error before the
				// panic continues on to the pool's own recovery.
				defer func() {
					if r := recover(); r != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = fmt.Errorf("task %q panicked: %v", label, r)
						}
						mu.Unlock()
						panic(r)
					}
				}()
				err := job(taskCtx)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
				return err
			},
		}
		if err := p.SubmitWithContext(ctx, task); err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}

	wg.Wait()
	return firstErr
}
