package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wudi/stablegate/internal/config"
)

func TestExecuteRunsUnderLimit(t *testing.T) {
	l := New(config.ConcurrencyConfig{MaxConcurrent: 1})
	var inFlight, maxObserved int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Execute(context.Background(), func() error {
				mu.Lock()
				inFlight++
				if inFlight > maxObserved {
					maxObserved = inFlight
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxObserved != 1 {
		t.Fatalf("expected at most 1 concurrent execution, observed %d", maxObserved)
	}
	if l.Stats().Executed != 5 {
		t.Fatalf("expected 5 executions recorded, got %d", l.Stats().Executed)
	}
}

func TestExecutePropagatesError(t *testing.T) {
	l := New(config.ConcurrencyConfig{MaxConcurrent: 2})
	err := l.Execute(context.Background(), func() error { return errors.New("boom") })
	if err == nil {
		t.Fatal("expected error from fn to propagate")
	}
	if l.Stats().Running != 0 {
		t.Fatal("expected slot to be released even on error")
	}
}

func TestAcquireRespectsCancellation(t *testing.T) {
	l := New(config.ConcurrencyConfig{MaxConcurrent: 1})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected Acquire to fail once the context deadline passes with no free slot")
	}
	if l.Stats().Rejected != 1 {
		t.Fatalf("expected rejected count to increment, got %d", l.Stats().Rejected)
	}
}
