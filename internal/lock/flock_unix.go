//go:build !windows

// Package lock provides the watchdog's singleton-instance guard: a single
// advisory file lock that prevents a second watchdog from attaching to the
// same modules directory and spawning a competing pair of daemons.
package lock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Singleton wraps a held exclusive flock, releasing it on Close.
type Singleton struct {
	fl *flock.Flock
}

// Acquire blocks until path's exclusive lock is obtained. Suitable for
// any single-writer, read-modify-write operation that needs serialization
// across separate CLI invocations, not just the watchdog's own use.
func Acquire(path string) (*Singleton, error) {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	return &Singleton{fl: fl}, nil
}

// TryAcquire attempts a non-blocking exclusive lock on path. ok is false,
// with a nil Singleton and nil error, if another process already holds it.
func TryAcquire(path string) (s *Singleton, ok bool, err error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, false, nil
	}
	return &Singleton{fl: fl}, true, nil
}

// Close releases the lock and closes its backing file descriptor.
func (s *Singleton) Close() error {
	return s.fl.Unlock()
}
