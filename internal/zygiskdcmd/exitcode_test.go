package zygiskdcmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/zygisksu/zygiskd/internal/exitcode"
)

func TestAsExitErrorUnwrapsCodedError(t *testing.T) {
	err := fmt.Errorf("spawning watchdog: %w", exitcode.New(exitcode.ErrLockHeld, "another instance holds the lock"))

	code, ok := asExitError(err)
	if !ok {
		t.Fatal("expected asExitError to recognize a wrapped *exitcode.Error")
	}
	if code != exitcode.ErrLockHeld {
		t.Fatalf("got code %d, want %d", code, exitcode.ErrLockHeld)
	}
}

func TestAsExitErrorRejectsPlainError(t *testing.T) {
	if _, ok := asExitError(errors.New("boom")); ok {
		t.Fatal("expected asExitError to reject a plain error")
	}
}

func TestAsExitErrorRejectsNil(t *testing.T) {
	if _, ok := asExitError(nil); ok {
		t.Fatal("expected asExitError to reject a nil error")
	}
}
