// Package worker provides a bounded task pool for run-to-completion batches.
//
// A Pool runs at most Workers tasks at a time and delivers exactly one Result
// per submitted Task, in completion order. Each task gets its own deadline:
// when it passes, the Result is reported as ErrTimeout straight away and the
// task context is cancelled. The task goroutine keeps its slot until the task
// function actually returns, so a stuck task never lets the pool exceed its
// worker count; whatever it returns late is discarded.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrTimeout is reported for a task that did not finish within TaskTimeout.
	ErrTimeout = errors.New("task timed out")

	// ErrNotScheduled is reported for a task that never got a worker slot,
	// e.g. because the run context was cancelled first.
	ErrNotScheduled = errors.New("task not scheduled")

	// ErrCancelled is reported for a task that was running when the run
	// context was cancelled.
	ErrCancelled = errors.New("task cancelled")
)

// Task is a unit of work identified by ID.
type Task[T any] struct {
	ID  string
	Run func(ctx context.Context) T
}

// Result carries a task's value, or Err when the value is missing.
type Result[T any] struct {
	ID    string
	Value T
	Err   error
}

// Config configures the worker pool
type Config struct {
	Workers     int           // maximum tasks in flight, at least 1
	TaskTimeout time.Duration // per-task ceiling measured from task start; 0 disables
}

// Pool manages bounded concurrent execution of tasks
type Pool[T any] struct {
	cfg Config
}

// NewPool creates a new worker pool
func NewPool[T any](cfg Config) *Pool[T] {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pool[T]{cfg: cfg}
}

// Workers returns the effective worker count.
func (p *Pool[T]) Workers() int {
	return p.cfg.Workers
}

// Run starts all tasks and returns a channel yielding one Result per task as
// tasks complete. The channel is closed once every task has been accounted for.
func (p *Pool[T]) Run(ctx context.Context, tasks []Task[T]) <-chan Result[T] {
	results := make(chan Result[T], len(tasks))
	slots := semaphore.NewWeighted(int64(p.cfg.Workers))

	go func() {
		var wg sync.WaitGroup
		for _, task := range tasks {
			if err := slots.Acquire(ctx, 1); err != nil {
				results <- Result[T]{ID: task.ID, Err: fmt.Errorf("%w: %w", ErrNotScheduled, err)}
				continue
			}

			wg.Add(1)
			go func(task Task[T]) {
				defer wg.Done()
				results <- p.execute(ctx, slots, task)
			}(task)
		}
		wg.Wait()
		close(results)
	}()

	return results
}

// execute runs one task holding a slot, which is released only when the task
// function returns.
func (p *Pool[T]) execute(ctx context.Context, slots *semaphore.Weighted, task Task[T]) Result[T] {
	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if p.cfg.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan T, 1)
	go func() {
		defer slots.Release(1)
		done <- task.Run(taskCtx)
	}()

	select {
	case v := <-done:
		return Result[T]{ID: task.ID, Value: v}
	case <-taskCtx.Done():
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Result[T]{ID: task.ID, Err: fmt.Errorf("%w after %s", ErrTimeout, p.cfg.TaskTimeout)}
		}
		return Result[T]{ID: task.ID, Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
	}
}
