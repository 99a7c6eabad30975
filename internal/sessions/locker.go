package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a turn lock times out.
var ErrLockTimeout = errors.New("sessions: lock acquisition timeout")

// Locker serializes turns per owner: one concurrent turn per
// ownerKey, later arrivals wait up to the configured timeout.
type Locker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocker creates a locker. timeout bounds how long Acquire waits
// for a busy owner; <= 0 uses 30 seconds.
func NewLocker(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Locker{
		timeout: timeout,
		locks:   make(map[string]chan struct{}),
	}
}

// Acquire takes the owner's turn lock, waiting for the holder if
// necessary. Returns a release function, or an error on timeout or
// context cancellation.
func (l *Locker) Acquire(ctx context.Context, ownerKey string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[ownerKey]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[ownerKey] = ch
	}
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrLockTimeout
	}
}

// TryAcquire takes the lock only if it is free. Used by background
// maintenance that must never delay a live turn.
func (l *Locker) TryAcquire(ownerKey string) (func(), bool) {
	l.mu.Lock()
	ch, ok := l.locks[ownerKey]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[ownerKey] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return nil, false
	}
}
