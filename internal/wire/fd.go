package wire

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// SendFd sends a single file descriptor as SCM_RIGHTS ancillary data over
// conn, along with a one-byte payload so the write is never a zero-length
// datagram. The sender retains ownership of fd and must close it itself;
// duping across the socket does not consume the sender's copy.
func SendFd(conn *net.UnixConn, fd int) error {
	rights := unix.UnixRights(fd)
	f, err := conn.File()
	if err != nil {
		return fmt.Errorf("obtaining socket file for fd send: %w", err)
	}
	defer f.Close()

	n, oob, err := 0, 0, error(nil)
	n, oob, err = unix.Sendmsg(int(f.Fd()), []byte{0}, rights, nil, 0)
	_ = oob
	if err != nil {
		return fmt.Errorf("sendmsg with SCM_RIGHTS: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("sendmsg wrote %d bytes, want 1", n)
	}
	return nil
}

// RecvFd receives a single file descriptor sent by SendFd. The returned fd
// is owned by the caller: it is a fresh descriptor in this process's table,
// unrelated to whatever number it had on the sending side.
func RecvFd(conn *net.UnixConn) (int, error) {
	f, err := conn.File()
	if err != nil {
		return -1, fmt.Errorf("obtaining socket file for fd recv: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(int(f.Fd()), buf, oob, 0)
	if err != nil {
		return -1, fmt.Errorf("recvmsg for SCM_RIGHTS: %w", err)
	}
	if n == 0 {
		return -1, fmt.Errorf("recvmsg: peer closed before sending fd")
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("parsing control message: %w", err)
	}
	for _, msg := range msgs {
		fds, err := unix.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		if len(fds) == 0 {
			continue
		}
		for _, extra := range fds[1:] {
			unix.Close(extra)
		}
		return fds[0], nil
	}
	return -1, fmt.Errorf("recvmsg: no SCM_RIGHTS control message present")
}

// SameFile reports whether two open file descriptors refer to the same
// underlying file (device and inode match), checked at one moment. The
// companion-side per-request loop applies the same device/inode comparison
// to one fd before and after a module entry call, using StatFd for each
// side rather than this function.
func SameFile(fd1, fd2 int) bool {
	var st1, st2 unix.Stat_t
	if err := unix.Fstat(fd1, &st1); err != nil {
		return false
	}
	if err := unix.Fstat(fd2, &st2); err != nil {
		return false
	}
	return st1.Dev == st2.Dev && st1.Ino == st2.Ino
}

// StatFd is a thin wrapper used by callers that need the raw stat_t to
// compare against a later StatFd result via SameFile's logic inline,
// without opening a second fd in between.
func StatFd(fd int) (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return st, fmt.Errorf("fstat fd %d: %w", fd, err)
	}
	return st, nil
}

// CloseQuietly closes fd and discards any error, for use in defers where
// the operation already succeeded and a close failure is not actionable.
func CloseQuietly(fd int) {
	_ = unix.Close(fd)
}

// DupCloseOnExec duplicates fd and marks the copy close-on-exec, the
// standard way to hand out a descriptor that must not leak into a future
// exec of this process while still being inheritable by an explicit
// re-exec that clears FD_CLOEXEC on the specific descriptors it wants to
// keep (see the companion spawn path, which does exactly that on the
// inherited socketpair end).
func DupCloseOnExec(fd int) (int, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("dup_cloexec fd %d: %w", fd, err)
	}
	return nfd, nil
}

// ClearCloexec removes FD_CLOEXEC from fd so it survives a subsequent
// exec. Used on the companion manager's end of a freshly created
// socketpair immediately before re-exec'ing argv[0] into the companion
// role, so the child inherits the socket without needing SCM_RIGHTS.
func ClearCloexec(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("fcntl F_GETFD fd %d: %w", fd, err)
	}
	flags &^= unix.FD_CLOEXEC
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("fcntl F_SETFD fd %d: %w", fd, err)
	}
	return nil
}

// NewSocketpair creates a SOCK_STREAM socketpair for companion spawn,
// returning the parent-side and child-side ends as *os.File so they can be
// passed through exec.Cmd.ExtraFiles or handled manually.
func NewSocketpair() (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "companion-parent"),
		os.NewFile(uintptr(fds[1]), "companion-child"), nil
}
