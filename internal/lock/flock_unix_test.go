//go:build !windows

package lock

import (
	"path/filepath"
	"testing"
)

func TestTryAcquireExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog.lock")

	first, ok, err := TryAcquire(path)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !ok {
		t.Fatal("expected the first TryAcquire to succeed")
	}
	defer first.Close()

	_, ok, err = TryAcquire(path)
	if err != nil {
		t.Fatalf("TryAcquire (second): %v", err)
	}
	if ok {
		t.Fatal("expected the second TryAcquire to fail while the first holds the lock")
	}
}

func TestTryAcquireSucceedsAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog.lock")

	first, ok, err := TryAcquire(path)
	if err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, ok, err := TryAcquire(path)
	if err != nil {
		t.Fatalf("TryAcquire (after close): %v", err)
	}
	if !ok {
		t.Fatal("expected TryAcquire to succeed once the first lock was released")
	}
	second.Close()
}
