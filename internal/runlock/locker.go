// Package runlock serializes pipeline stages per key (usually an asset id).
package runlock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned when a lock is released by a caller that no longer owns it.
var ErrNotHeld = errors.New("run lock not held")

// Locker acquires exclusive run locks keyed by name.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	// The returned release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker backed by one buffered channel per key.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

var _ Locker = (*Local)(nil)

// Acquire takes the slot for key, waiting for the current holder if any.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	slot := l.slot(key)

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}
