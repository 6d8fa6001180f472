package companion

import (
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zygisksu/zygiskd/internal/wire"
)

// The tests below exercise Slot.spawnLocked's real exec/re-exec path (spec
// property: at most one companion process per module, serialized under
// concurrent requests) against this same test binary, re-invoked as a fake
// companion via the TestMain helper-process pattern from os/exec_test.go
// rather than the real zygiskd binary.

const helperProcessEnv = "ZYGISKD_COMPANION_TEST_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperProcessEnv) == "1" {
		runHelperCompanion()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// runHelperCompanion plays the child side of the spawn protocol, parsing
// the fd number from argv exactly as internal/zygiskdcmd/companion.go's
// runCompanion does (os.Args here is ["<bin>", "companion", "<fd>"), so a
// regression in spawnLocked's argv/ExtraFiles pairing fails this test
// instead of silently passing against a hardcoded fd: read the module
// name, receive and drop the sealed library fd, signal ready, then keep
// accepting and discarding client fds until the parent closes the
// connection.
func runHelperCompanion() {
	if len(os.Args) < 3 {
		os.Exit(1)
	}
	fd, err := strconv.Atoi(os.Args[2])
	if err != nil {
		os.Exit(1)
	}
	f := os.NewFile(uintptr(fd), "companion-child")
	fc, err := net.FileConn(f)
	if err != nil {
		os.Exit(1)
	}
	conn := fc.(*net.UnixConn)

	if _, err := wire.ReadString(conn); err != nil {
		os.Exit(1)
	}
	libFd, err := wire.RecvFd(conn)
	if err != nil {
		os.Exit(1)
	}
	wire.CloseQuietly(libFd)

	if err := wire.WriteUint8(conn, 1); err != nil {
		os.Exit(1)
	}

	for {
		fd, err := wire.RecvFd(conn)
		if err != nil {
			return
		}
		wire.CloseQuietly(fd)
	}
}

func newHelperSlot(t *testing.T, moduleName string) *Slot {
	t.Helper()
	lib, err := wire.NewSealedLibrary("companion-test-lib", []byte("fake-so-bytes"))
	if err != nil {
		t.Fatalf("NewSealedLibrary: %v", err)
	}
	t.Cleanup(func() { lib.Close() })

	slot := NewSlot(moduleName, lib, os.Args[0])
	return slot
}

// withHelperEnv makes spawnLocked's re-exec of this test binary take the
// runHelperCompanion branch in TestMain instead of trying to run the real
// "companion" subcommand, which does not exist in a test binary.
func withHelperEnv(t *testing.T) {
	t.Helper()
	prev := os.Getenv(helperProcessEnv)
	os.Setenv(helperProcessEnv, "1")
	t.Cleanup(func() { os.Setenv(helperProcessEnv, prev) })
}

// dummyClientConn stands in for an app's connection to the daemon.
// RequestSocket needs a *net.UnixConn so it can call .File() on it, which
// net.Pipe's in-memory conn cannot provide, so this builds a real unix
// socketpair instead.
func dummyClientConn(t *testing.T) (*net.UnixConn, func()) {
	t.Helper()
	parent, child, err := wire.NewSocketpair()
	if err != nil {
		t.Fatalf("NewSocketpair: %v", err)
	}
	pc, err := net.FileConn(parent)
	if err != nil {
		t.Fatalf("FileConn: %v", err)
	}
	parent.Close()
	cleanup := func() {
		pc.Close()
		child.Close()
	}
	return pc.(*net.UnixConn), cleanup
}

func TestSpawnLockedStartsExactlyOneCompanion(t *testing.T) {
	withHelperEnv(t)
	slot := newHelperSlot(t, "concurrent-mod")

	const n = 8
	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, cleanup := dummyClientConn(t)
			defer cleanup()
			ok, err := slot.RequestSocket(conn)
			if err != nil {
				t.Errorf("RequestSocket: %v", err)
				return
			}
			if ok {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&successes); got != n {
		t.Fatalf("got %d successful hand-offs, want %d", got, n)
	}

	slot.lock.Lock()
	defer slot.lock.Unlock()
	if slot.state != StateLive {
		t.Fatalf("slot state = %v, want StateLive", slot.state)
	}
	if slot.cmd == nil || slot.cmd.Process == nil {
		t.Fatal("expected exactly one companion process to have been started")
	}
}

func TestInvalidateDropsLiveSlot(t *testing.T) {
	withHelperEnv(t)
	slot := newHelperSlot(t, "invalidate-mod")

	conn, cleanup := dummyClientConn(t)
	defer cleanup()
	if ok, err := slot.RequestSocket(conn); err != nil || !ok {
		t.Fatalf("RequestSocket: ok=%v err=%v", ok, err)
	}

	slot.Invalidate()

	slot.lock.Lock()
	defer slot.lock.Unlock()
	if slot.state != StateUnspawned {
		t.Fatalf("state = %v after Invalidate, want StateUnspawned", slot.state)
	}
}
