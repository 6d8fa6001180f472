package wire

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ProbePeerClosed reports whether the peer on a stream socket has closed
// its end, without blocking and without consuming any data still in the
// receive buffer. The companion slot's steady-state probe uses it to poll
// for POLLHUP/POLLRDHUP this way instead of
// attempting a zero-length read, which would not reliably distinguish "no
// data yet" from "peer gone" on a stream socket.
func ProbePeerClosed(fd int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLHUP | unix.POLLRDHUP}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		return false, fmt.Errorf("poll fd %d: %w", fd, err)
	}
	if n == 0 {
		return false, nil
	}
	return fds[0].Revents&(unix.POLLHUP|unix.POLLRDHUP) != 0, nil
}

// SetParentDeathSignal arranges for this process to receive sig when its
// parent dies, so a daemon or companion process orphaned by a killed
// watchdog does not linger. Must be called from the child after fork/exec
// setup and rechecked once (getppid) immediately after, since the parent
// may have already died in the race between fork and the prctl call.
func SetParentDeathSignal(sig unix.Signal) error {
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(sig), 0, 0, 0); err != nil {
		return fmt.Errorf("prctl PR_SET_PDEATHSIG: %w", err)
	}
	return nil
}
