package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunConcurrentWithContextBoundsParallelism(t *testing.T) {
	var running, peak int32
	var tasks []ConcurrentTask
	for i := 0; i < 12; i++ {
		tasks = append(tasks, func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}

	if err := RunConcurrentWithContext(context.Background(), tasks, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak > 3 {
		t.Errorf("expected at most 3 concurrent tasks, saw %d", peak)
	}
}

func TestRunConcurrentWithContextRunsAll(t *testing.T) {
	var done int32
	tasks := []ConcurrentTask{
		func() error { atomic.AddInt32(&done, 1); return errors.New("first") },
		func() error { atomic.AddInt32(&done, 1); return nil },
		func() error { atomic.AddInt32(&done, 1); return nil },
	}
	if err := RunConcurrentWithContext(context.Background(), tasks, 1); err == nil {
		t.Fatalf("expected error to be reported")
	}
	if done != 3 {
		t.Errorf("expected all tasks to run, ran %d", done)
	}
}

func TestRunConcurrentWithCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran int32
	err := RunConcurrentWithContext(ctx, []ConcurrentTask{func() error { atomic.AddInt32(&ran, 1); return nil }}, 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ran != 0 {
		t.Errorf("no task should run on a cancelled context")
	}
}

func TestRunConcurrentWithContextEmpty(t *testing.T) {
	if err := RunConcurrentWithContext(context.Background(), nil, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
