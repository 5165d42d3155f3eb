package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCommitLimiter_AcquireRelease(t *testing.T) {
	limiter := NewCommitLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.Status().Available; got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	if limiter.TryAcquire() {
		t.Error("TryAcquire succeeded on a full limiter")
	}

	limiter.Release()
	limiter.Release()

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("after Release, ActiveCount = %d, want 0", got)
	}
}

func TestCommitLimiter_TimesOutWhenFull(t *testing.T) {
	limiter := NewCommitLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	if err := limiter.Acquire(ctx); !errors.Is(err, ErrTooManyCommits) {
		t.Errorf("expected ErrTooManyCommits, got %v", err)
	}
}

func TestCommitLimiter_ContextCancellation(t *testing.T) {
	limiter := NewCommitLimiter(1, time.Minute)
	if !limiter.TryAcquire() {
		t.Fatal("TryAcquire failed on an empty limiter")
	}
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCommitLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewCommitLimiter(maxConcurrent, time.Second)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		maxObserved int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer limiter.Release()

			mu.Lock()
			if n := limiter.ActiveCount(); n > maxObserved {
				maxObserved = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("observed %d concurrent commits, limit is %d", maxObserved, maxConcurrent)
	}
}

func TestCommitLimiter_WaitForDrain(t *testing.T) {
	limiter := NewCommitLimiter(1, time.Second)
	if !limiter.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		limiter.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain returned %v", err)
	}
}

func TestCommitLimiter_Defaults(t *testing.T) {
	limiter := NewCommitLimiter(0, 0)
	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentCommits {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentCommits)
	}
}
