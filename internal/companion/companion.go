// Package companion manages, per module, at most one long-lived helper
// process and the hand-off of app connection fds into it.
package companion

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/zygisksu/zygiskd/internal/wire"
)

// State is a CompanionSlot's lifecycle stage.
type State int

const (
	StateUnspawned State = iota
	StateLive
	StateDead
)

// Slot owns the spawn/respawn lifecycle and control stream for one
// module's companion process. Each module gets its own Slot with its own
// mutex; slots never cross-lock each other.
type Slot struct {
	moduleName string
	libImage   *wire.SealedLibrary
	exePath    string

	lock   sync.Mutex
	state  State
	conn   *net.UnixConn
	cmd    *exec.Cmd
	hasCompanionEntry *bool // nil until the spawn protocol resolves it
}

// NewSlot builds an Unspawned slot for one module. exePath is this
// process's own binary, re-exec'd with the companion subcommand.
func NewSlot(moduleName string, libImage *wire.SealedLibrary, exePath string) *Slot {
	return &Slot{moduleName: moduleName, libImage: libImage, exePath: exePath}
}

// RequestSocket is the steady-state entry point: it ensures a live
// companion exists (spawning or respawning as needed), hands the given
// client stream fd to it, and reports whether the hand-off happened. A
// false return means "reply 0 to the client". A failed spawn or a failure
// to obtain the client fd is also returned as an error alongside false; a
// declined module or a failed fd send returns false with a nil error.
func (s *Slot) RequestSocket(clientConn *net.UnixConn) (ok bool, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == StateLive {
		dead, err := s.probeDeadLocked()
		if err != nil || dead {
			s.dropLocked()
		}
	}

	if s.state == StateUnspawned {
		if err := s.spawnLocked(); err != nil {
			return false, fmt.Errorf("spawning companion for %s: %w", s.moduleName, err)
		}
	}

	if s.state != StateLive {
		// Latched "no companion" (module declined) or spawn failed silently.
		return false, nil
	}

	clientFile, err := clientConn.File()
	if err != nil {
		return false, fmt.Errorf("obtaining client fd: %w", err)
	}
	defer clientFile.Close()

	if err := wire.SendFd(s.conn, int(clientFile.Fd())); err != nil {
		s.dropLocked()
		return false, nil
	}
	return true, nil
}

// probeDeadLocked polls the control stream for a peer close. Must be
// called with s.lock held.
func (s *Slot) probeDeadLocked() (bool, error) {
	f, err := s.conn.File()
	if err != nil {
		return true, nil
	}
	defer f.Close()
	return wire.ProbePeerClosed(int(f.Fd()))
}

// Invalidate forces the slot back to Unspawned, regardless of its current
// liveness. Used on a ZygoteRestart notification so post-restart app
// processes spawn a fresh companion rather than reusing one that predates
// the restart. A permanently-declined slot (module has no companion
// entry) is left alone: there is nothing to invalidate.
func (s *Slot) Invalidate() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == StateLive {
		s.dropLocked()
	}
}

// dropLocked resets the slot to Unspawned after detecting a dead
// companion. Must be called with s.lock held.
func (s *Slot) dropLocked() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.cmd = nil
	s.state = StateUnspawned
}

// spawnLocked runs the spawn protocol: create a socketpair, clear
// FD_CLOEXEC on the child's end, re-exec this binary with the companion
// subcommand inheriting that fd, then hand the module name and sealed
// library fd across the stream and read back the ready/declined byte.
// Must be called with s.lock held.
func (s *Slot) spawnLocked() error {
	parent, child, err := wire.NewSocketpair()
	if err != nil {
		return fmt.Errorf("creating companion socketpair: %w", err)
	}
	defer child.Close()

	if err := wire.ClearCloexec(int(child.Fd())); err != nil {
		parent.Close()
		return fmt.Errorf("clearing cloexec on companion fd: %w", err)
	}

	// ExtraFiles[0] always lands on fd 3 in the child regardless of what
	// number child.Fd() happens to be in this process (see exec.Cmd.ExtraFiles).
	const companionFd = 3
	cmd := exec.Command(s.exePath, "companion", fmt.Sprintf("%d", companionFd))
	cmd.Args[0] = s.exePath + "-" + s.moduleName
	cmd.ExtraFiles = []*os.File{child}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		parent.Close()
		return fmt.Errorf("starting companion process: %w", err)
	}

	parentConn, err := net.FileConn(parent)
	parent.Close()
	if err != nil {
		return fmt.Errorf("wrapping companion parent fd: %w", err)
	}
	unixConn, ok := parentConn.(*net.UnixConn)
	if !ok {
		parentConn.Close()
		return fmt.Errorf("companion parent fd is not a unix socket")
	}

	if err := wire.WriteString(unixConn, s.moduleName); err != nil {
		unixConn.Close()
		return fmt.Errorf("writing module name to companion: %w", err)
	}
	if err := wire.SendFd(unixConn, s.libImage.Fd()); err != nil {
		unixConn.Close()
		return fmt.Errorf("sending library fd to companion: %w", err)
	}

	ready, err := wire.ReadUint8(unixConn)
	if err != nil {
		unixConn.Close()
		return fmt.Errorf("reading companion ready byte: %w", err)
	}

	hasEntry := ready == 1
	s.hasCompanionEntry = &hasEntry
	if !hasEntry {
		unixConn.Close()
		s.state = StateDead
		return nil
	}

	s.conn = unixConn
	s.cmd = cmd
	s.state = StateLive
	return nil
}
