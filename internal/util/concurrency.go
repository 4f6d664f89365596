package util

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ConcurrentTask represents a task that can be executed concurrently
type ConcurrentTask func() error

// RunConcurrentWithContext runs every task unless ctx is cancelled, then
// returns the first error encountered. A failing task does not stop the
// others. At most maxConcurrency tasks run at once.
func RunConcurrentWithContext(ctx context.Context, tasks []ConcurrentTask, maxConcurrency int) error {
	if len(tasks) == 0 {
		return nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	record := func(err error) {
		once.Do(func() { firstErr = err })
	}

	for _, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			record(err)
			break
		}
		if err := ctx.Err(); err != nil {
			sem.Release(1)
			record(err)
			break
		}
		wg.Add(1)
		go func(t ConcurrentTask) {
			defer wg.Done()
			defer sem.Release(1)
			if err := t(); err != nil {
				record(err)
			}
		}(task)
	}

	wg.Wait()
	return firstErr
}
