package core

// commit_limiter.go bounds how many commits write to the store at once.
//
// Commits are the only step that inserts inventory in bulk. When every slot is
// taken, a commit waits up to maxWait before failing with ErrTooManyCommits.
// WaitForDrain lets shutdown block until in-flight commits finish.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyCommits is returned when no commit slot frees up in time.
// Clients should retry after a short delay.
var ErrTooManyCommits = errors.New("too many concurrent commits, please try again later")

const (
	// DefaultMaxConcurrentCommits is the default limit for parallel commits.
	DefaultMaxConcurrentCommits = 4

	// DefaultCommitWait is how long a commit waits for a slot before failing.
	DefaultCommitWait = 30 * time.Second
)

// CommitLimiter is a weighted semaphore with a bounded wait.
type CommitLimiter struct {
	sem     *semaphore.Weighted
	max     int
	maxWait time.Duration
	active  atomic.Int64
}

// NewCommitLimiter allows at most maxConcurrent commits at once.
func NewCommitLimiter(maxConcurrent int, maxWait time.Duration) *CommitLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentCommits
	}
	if maxWait <= 0 {
		maxWait = DefaultCommitWait
	}
	return &CommitLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     maxConcurrent,
		maxWait: maxWait,
	}
}

// Acquire takes a slot. The caller must Release it.
func (l *CommitLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyCommits
	}
	l.active.Add(1)
	return nil
}

// TryAcquire takes a slot without waiting.
func (l *CommitLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.active.Add(1)
	return true
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *CommitLimiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// ActiveCount returns the number of commits holding a slot.
func (l *CommitLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the slot count.
func (l *CommitLimiter) MaxConcurrent() int {
	return l.max
}

// WaitForDrain blocks until no commit holds a slot or ctx is done.
func (l *CommitLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot for the health endpoint.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *CommitLimiter) Status() LimiterStatus {
	active := l.ActiveCount()
	return LimiterStatus{
		Active:        active,
		Available:     l.max - active,
		MaxConcurrent: l.max,
	}
}
