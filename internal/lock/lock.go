package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock could not be taken before ctx was done.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker serialises allocation cycles. Acquire blocks until the lock is held or
// ctx is done; the returned release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Local is an in-process lock.
type Local struct {
	ch chan struct{}
}

func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		return func() { <-l.ch }, nil
	case <-ctx.Done():
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
}
