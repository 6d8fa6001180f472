package zygiskd

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/zygisksu/zygiskd/internal/control"
	"github.com/zygisksu/zygiskd/internal/telemetry"
	"github.com/zygisksu/zygiskd/internal/wire"
	"golang.org/x/sys/unix"
)

// daemonSocketBacklog is the listen(2) backlog for the per-bitness daemon
// socket: this is a singleton control channel zygote and a handful of app
// processes dial, not a high-fan-in listener, so the default backlog the
// stdlib net package would otherwise pick is unnecessary headroom.
const daemonSocketBacklog = 2

// Daemon owns one bitness's module registry and accept loop.
type Daemon struct {
	Bitness string
	Logger  *log.Logger
	Metrics *telemetry.Metrics

	modules    []*Module
	control    *net.UnixConn
	socketPath string

	restartMu sync.Mutex
}

// New constructs a Daemon. Call SetParentDeathSignal before Serve so an
// orphaned daemon (watchdog killed) does not linger.
func New(bitness string, modules []*Module, controlConn *net.UnixConn, logger *log.Logger, metrics *telemetry.Metrics) *Daemon {
	return &Daemon{
		Bitness: bitness,
		Logger:  logger,
		Metrics: metrics,
		modules: modules,
		control: controlConn,
	}
}

// SetParentDeathSignal arranges for this daemon to die if its watchdog
// parent does.
func SetParentDeathSignal() error {
	return wire.SetParentDeathSignal(unix.SIGKILL)
}

// Serve listens on socketPath (in the SELinux zygote socket-create
// context, which the caller must already have set via
// setsockcreatecon/prctl before calling this) and dispatches accepted
// connections to workers until ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context, socketPath string) error {
	listener, err := listenUnixWithBacklog(socketPath, daemonSocketBacklog)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer listener.Close()
	d.socketPath = socketPath

	if d.control != nil {
		if err := control.SendInfo(d.control, d.readySummary()); err != nil {
			d.Logger.Printf("failed to report readiness: %v", err)
		}
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept on %s: %w", socketPath, err)
			}
		}
		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}
		d.Metrics.RecordConnectionAccepted(ctx)
		connID := uuid.NewString()
		go d.handleConnection(ctx, unixConn, connID)
	}
}

// listenUnixWithBacklog builds a unix SOCK_STREAM listener the same way
// internal/wire's fd helpers build sockets, dropping to raw syscalls
// because net.Listen gives no way to choose the listen(2) backlog. The
// raw fd is wrapped back into a *net.UnixListener so the rest of Serve's
// Accept loop is unchanged.
func listenUnixWithBacklog(socketPath string, backlog int) (*net.UnixListener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	// A stale socket file from a prior daemon instance (killed without
	// cleanup) must be removed before bind(2); bind fails with EADDRINUSE
	// otherwise. Missing file is not an error.
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		unix.Close(fd)
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	addr := &unix.SockaddrUnix{Name: socketPath}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), socketPath)
	defer f.Close()
	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("wrapping listener fd: %w", err)
	}
	unixListener, ok := l.(*net.UnixListener)
	if !ok {
		l.Close()
		return nil, fmt.Errorf("fd %s did not wrap to a unix listener", socketPath)
	}
	return unixListener, nil
}

func (d *Daemon) readySummary() string {
	return fmt.Sprintf("daemon(%s): %d module(s) loaded", d.Bitness, len(d.modules))
}

func (d *Daemon) handleConnection(ctx context.Context, conn *net.UnixConn, connID string) {
	defer conn.Close()

	action, err := wire.ReadUint8(conn)
	if err != nil {
		return
	}

	a := Action(action)
	if !a.Valid() {
		d.Logger.Printf("conn=%s protocol violation: unknown action byte %d", connID, action)
		return
	}
	d.Metrics.RecordRequestDispatched(ctx, a.String())

	if err := d.dispatch(ctx, a, conn, connID); err != nil {
		d.Logger.Printf("conn=%s action=%s error: %v", connID, a, err)
	}
}
