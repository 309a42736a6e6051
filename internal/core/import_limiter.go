package core

// import_limiter.go serializes imports.
//
// Two overlapping applies can sweep away each other's creates and lose one
// side of a bonded pair, so only one import may hold the store at a time.
// The limiter is a one-slot semaphore: a second apply waits up to maxWait
// and then fails with ErrImportBusy.
//
// The limiter only sees one process. Stores shared between processes also
// implement ImportLocker, which Service takes after the limiter.
//
// The limiter also supports graceful shutdown via WaitForDrain, which blocks
// until the running import completes.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrImportBusy is returned when another import holds the lock and the wait
// timeout expires. Clients should retry after the running import finishes.
var ErrImportBusy = errors.New("another import is in progress, please try again later")

// DefaultImportWaitTime is how long to wait for the lock before rejecting.
const DefaultImportWaitTime = 30 * time.Second

// ImportLocker is implemented by stores that several processes can share.
// LockImports takes the store-wide import lock for importID, waiting up to
// maxWait before returning ErrImportBusy. A maxWait of zero tries once.
// The caller MUST call release exactly once.
type ImportLocker interface {
	LockImports(ctx context.Context, importID string, maxWait time.Duration) (release func(), err error)
}

// ImportLimiter is the single-writer lock around apply.
type ImportLimiter struct {
	slot    chan struct{}
	maxWait time.Duration

	mu      sync.RWMutex
	holder  string
	since   time.Time
	waiting int
}

// NewImportLimiter creates a limiter. Callers that cannot take the lock
// within maxWait receive ErrImportBusy.
func NewImportLimiter(maxWait time.Duration) *ImportLimiter {
	if maxWait <= 0 {
		maxWait = DefaultImportWaitTime
	}

	return &ImportLimiter{
		slot:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire takes the lock for the import identified by importID.
// Returns nil on success, ErrImportBusy if the wait expires, or the context
// error if ctx ends first. The caller MUST call Release (use defer).
func (l *ImportLimiter) Acquire(ctx context.Context, importID string) error {
	return l.AcquireWithin(ctx, importID, l.maxWait)
}

// AcquireWithin is Acquire with its own wait. A free lock is always taken,
// even when wait is zero.
func (l *ImportLimiter) AcquireWithin(ctx context.Context, importID string, wait time.Duration) error {
	if l.TryAcquire(importID) {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
	}()

	select {
	case l.slot <- struct{}{}:
		l.take(importID)
		return nil

	case <-waitCtx.Done():
		// Caller cancellation wins over our own timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrImportBusy
	}
}

// TryAcquire takes the lock without blocking.
func (l *ImportLimiter) TryAcquire(importID string) bool {
	select {
	case l.slot <- struct{}{}:
		l.take(importID)
		return true
	default:
		return false
	}
}

func (l *ImportLimiter) take(importID string) {
	l.mu.Lock()
	l.holder = importID
	l.since = time.Now()
	l.mu.Unlock()
}

// Release frees the lock. Must be called exactly once per successful
// Acquire/TryAcquire.
func (l *ImportLimiter) Release() {
	l.mu.Lock()
	l.holder = ""
	l.since = time.Time{}
	l.mu.Unlock()

	<-l.slot
}

// Busy reports whether an import currently holds the lock.
func (l *ImportLimiter) Busy() bool {
	return len(l.slot) == 1
}

// WaitForDrain blocks until no import holds the lock or ctx is cancelled.
// Used for graceful shutdown.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !l.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ImportLimiterStatus is a snapshot of the limiter for monitoring.
type ImportLimiterStatus struct {
	Busy     bool      `json:"busy"`
	ImportID string    `json:"importId,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Waiting  int       `json:"waiting"`
}

// Status returns the current limiter state.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return ImportLimiterStatus{
		Busy:     l.holder != "",
		ImportID: l.holder,
		Since:    l.since,
		Waiting:  l.waiting,
	}
}
