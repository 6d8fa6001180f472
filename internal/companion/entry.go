package companion

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/zygisksu/zygiskd/internal/wire"
	"golang.org/x/sys/unix"
)

// ModuleEntry is a module's companion entry point: called once per handed-
// off client fd. Modules in this ecosystem are native shared objects
// exporting a C symbol resolved via dlopen/dlsym, not a Go-native plugin;
// EntryLoader is the seam a real cgo dlopen-based loader plugs into, kept
// separate from the dispatch loop so the loop itself is testable with a
// synthetic entry function.
type ModuleEntry func(fd int)

// EntryLoader resolves a module image (given as a /proc/self/fd path) to
// its companion entry point, or nil if the module does not export one.
type EntryLoader func(procPath string) (ModuleEntry, error)

// Run is the companion process's main loop, started after this process has
// been re-exec'd with argv[1]=="companion" and the inherited control fd
// already cleared of FD_CLOEXEC. It returns right after reporting a module
// with no companion entry, and otherwise keeps dispatching until the
// control stream closes.
func Run(controlFd int, load EntryLoader) error {
	if err := wire.SetParentDeathSignal(unix.SIGKILL); err != nil {
		return fmt.Errorf("setting parent-death signal: %w", err)
	}

	f := os.NewFile(uintptr(controlFd), "companion-control")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("wrapping control fd: %w", err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("control fd is not a unix socket")
	}
	defer unixConn.Close()

	name, err := wire.ReadString(unixConn)
	if err != nil {
		return fmt.Errorf("reading module name: %w", err)
	}

	libFd, err := wire.RecvFd(unixConn)
	if err != nil {
		return fmt.Errorf("receiving library fd for %s: %w", name, err)
	}

	entry, err := load(fmt.Sprintf("/proc/self/fd/%d", libFd))
	unix.Close(libFd)
	if err != nil {
		return fmt.Errorf("loading companion entry for %s: %w", name, err)
	}

	if entry == nil {
		return wire.WriteUint8(unixConn, 0)
	}
	if err := wire.WriteUint8(unixConn, 1); err != nil {
		return fmt.Errorf("writing ready byte: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		fd, err := wire.RecvFd(unixConn)
		if err != nil {
			return nil
		}
		wg.Add(1)
		go func(fd int) {
			defer wg.Done()
			dispatchOne(entry, fd)
		}(fd)
	}
}

// dispatchOne invokes entry with fd and applies the fstat-equality
// close-or-forget idiom: if the fd still refers to the same file after the
// call returns, the module left it open and this loop closes it; if it
// differs (the module closed it and the kernel recycled the number for
// something else), closing it here would close an unrelated file, so it
// is deliberately left alone.
func dispatchOne(entry ModuleEntry, fd int) {
	before, beforeErr := wire.StatFd(fd)

	entry(fd)

	after, afterErr := wire.StatFd(fd)
	if beforeErr != nil || afterErr != nil {
		return
	}
	if before.Dev == after.Dev && before.Ino == after.Ino {
		unix.Close(fd)
	}
}
