package companion

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// TestDispatchOneClosesUnchangedFd verifies the fstat-equality idiom: when
// the module entry leaves the fd untouched, dispatchOne closes it.
func TestDispatchOneClosesUnchangedFd(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "companion-fd-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	fd := int(f.Fd())

	dispatchOne(func(int) {}, fd)

	if err := unix.Close(fd); err == nil {
		t.Fatal("expected fd to already be closed by dispatchOne")
	}
}

// TestDispatchOneLeavesReopenedFdAlone verifies that when the module
// closes the fd and the kernel recycles the number for something else,
// dispatchOne does not close the new file.
func TestDispatchOneLeavesReopenedFdAlone(t *testing.T) {
	dir := t.TempDir()
	f, err := os.CreateTemp(dir, "original-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	fd := int(f.Fd())

	reopened, err := os.CreateTemp(dir, "reopened-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer reopened.Close()

	entry := func(fd int) {
		unix.Close(fd)
		// Simulate the kernel recycling fd for an unrelated file by
		// dup2'ing the reopened file onto the same descriptor number.
		if err := unix.Dup2(int(reopened.Fd()), fd); err != nil {
			t.Fatalf("Dup2: %v", err)
		}
	}

	dispatchOne(entry, fd)

	// fd must still be open and point at reopened's file, i.e. dispatchOne
	// must not have closed it.
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		t.Fatalf("fd was closed when it should have been left alone: %v", err)
	}
	unix.Close(fd)
}
