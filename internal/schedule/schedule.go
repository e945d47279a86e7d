// Package schedule runs a bounded-concurrency pool of analysis tasks,
// merging their results under mutual exclusion.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of scheduled work: analyse a single binary (or a single
// function within one) and report what it found.
type Task struct {
	// Name identifies the task in Result and in error messages.
	Name string
	// Run does the work. It must be safe to call concurrently with other
	// tasks' Run methods; any shared state it touches is the caller's
	// responsibility to protect.
	Run func(ctx context.Context) error
}

// Result is the outcome of running one Task.
type Result struct {
	Name string
	Err  error
}

// Pool bounds how many Tasks run concurrently and how long each may run.
type Pool struct {
	// Limit is the maximum number of Tasks running at once. Zero means
	// unbounded.
	Limit int
	// Timeout, if non-zero, is applied per task via context.WithTimeout.
	Timeout time.Duration
}

// Run executes every task, at most Limit concurrently, and returns one
// Result per task in the order tasks were given. A task that panics is not
// recovered; callers wanting isolation should recover inside Task.Run.
func (p Pool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))

	limit := p.Limit
	if limit <= 0 {
		limit = len(tasks)
	}
	if limit == 0 {
		return results
	}
	sem := semaphore.NewWeighted(int64(limit))

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = Result{Name: task.Name, Err: fmt.Errorf("schedule: %s: %w", task.Name, err)}
				return nil
			}
			defer sem.Release(1)

			taskCtx := gctx
			var cancel context.CancelFunc
			if p.Timeout > 0 {
				taskCtx, cancel = context.WithTimeout(gctx, p.Timeout)
				defer cancel()
			}

			if err := task.Run(taskCtx); err != nil {
				results[i] = Result{Name: task.Name, Err: fmt.Errorf("schedule: %s: %w", task.Name, err)}
				return nil
			}
			results[i] = Result{Name: task.Name}
			return nil
		})
	}
	// g.Wait's error is always nil: every Task error is captured in
	// results rather than aborting the group, so the whole pool always
	// finishes and reports per-task outcomes.
	_ = g.Wait()
	return results
}

// MergeGuard serializes access to a shared accumulator (typically an
// internal/clone.Comparator) across concurrently running Tasks.
type MergeGuard struct {
	mu sync.Mutex
}

// Do runs fn while holding the guard's lock.
func (m *MergeGuard) Do(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}
