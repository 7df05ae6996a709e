// Package workerpool runs independent units of work with bounded parallelism.
package workerpool

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Config configures a Pool.
type Config struct {
	MaxConcurrent int // Maximum concurrent work items (default: NumCPU)
}

// Pool bounds how many work items execute at once. It uses a semaphore to
// limit outstanding items, so a new item starts as soon as a slot frees up.
type Pool struct {
	config Config
	logger *zap.Logger
}

// New creates a pool.
func New(config Config, logger *zap.Logger) *Pool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = runtime.NumCPU()
	}
	return &Pool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	return p.config.MaxConcurrent
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult represents the result of a work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all work items with bounded parallelism and waits for
// every one of them. Results are returned in submission order. Processing
// continues when some items fail; items that never got a slot before ctx was
// cancelled report ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *Pool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	done := make(chan int, len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item WorkItem[T]) {
			defer wg.Done()
			defer func() { done <- i }()

			// Acquire semaphore slot (blocks if at max concurrency)
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = WorkResult[T]{ID: item.ID, Err: ctx.Err()}
				return
			}

			result, err := item.Execute(ctx)
			if err != nil {
				pool.logger.Debug("Work item failed", zap.String("id", item.ID), zap.Error(err))
			}
			results[i] = WorkResult[T]{ID: item.ID, Result: result, Err: err}
		}(i, item)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	completed := 0
	for range done {
		completed++
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}

	return results
}
