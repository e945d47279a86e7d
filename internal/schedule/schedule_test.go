package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunAllSucceed(t *testing.T) {
	var n int32
	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = Task{
			Name: "t",
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&n, 1)
				return nil
			},
		}
	}

	results := Pool{Limit: 3}.Run(context.Background(), tasks)
	if len(results) != 10 {
		t.Fatalf("len(results) = %d, want 10", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("unexpected error: %v", r.Err)
		}
	}
	if n != 10 {
		t.Errorf("ran %d tasks, want 10", n)
	}
}

func TestPoolRunCollectsPerTaskErrors(t *testing.T) {
	failing := errors.New("boom")
	tasks := []Task{
		{Name: "ok", Run: func(ctx context.Context) error { return nil }},
		{Name: "bad", Run: func(ctx context.Context) error { return failing }},
	}

	results := Pool{Limit: 2}.Run(context.Background(), tasks)
	if results[0].Err != nil {
		t.Errorf("task 0 err = %v, want nil", results[0].Err)
	}
	if results[1].Err == nil || !errors.Is(results[1].Err, failing) {
		t.Errorf("task 1 err = %v, want wrapped %v", results[1].Err, failing)
	}
}

func TestPoolRunRespectsLimit(t *testing.T) {
	var active, maxActive int32
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = Task{
			Name: "t",
			Run: func(ctx context.Context) error {
				cur := atomic.AddInt32(&active, 1)
				for {
					prev := atomic.LoadInt32(&maxActive)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			},
		}
	}

	Pool{Limit: 4}.Run(context.Background(), tasks)
	if maxActive > 4 {
		t.Errorf("max concurrent tasks = %d, want <= 4", maxActive)
	}
}

func TestPoolRunTimeout(t *testing.T) {
	tasks := []Task{
		{Name: "slow", Run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
				return nil
			}
		}},
	}

	results := Pool{Limit: 1, Timeout: time.Millisecond}.Run(context.Background(), tasks)
	if results[0].Err == nil {
		t.Error("expected a timeout error")
	}
}

func TestMergeGuardSerializes(t *testing.T) {
	var guard MergeGuard
	total := 0
	tasks := make([]Task, 50)
	for i := range tasks {
		tasks[i] = Task{
			Name: "t",
			Run: func(ctx context.Context) error {
				guard.Do(func() { total++ })
				return nil
			},
		}
	}
	Pool{Limit: 8}.Run(context.Background(), tasks)
	if total != 50 {
		t.Errorf("total = %d, want 50", total)
	}
}
