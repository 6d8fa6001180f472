package zygiskd

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/zygisksu/zygiskd/internal/control"
	"github.com/zygisksu/zygiskd/internal/rootimpl"
	"github.com/zygisksu/zygiskd/internal/wire"
)

func (d *Daemon) dispatch(ctx context.Context, action Action, conn *net.UnixConn, connID string) error {
	switch action {
	case ActionPingHeartbeat:
		return d.handlePingHeartbeat(ctx)
	case ActionRequestLogcatFd:
		return d.handleRequestLogcatFd(conn, connID)
	case ActionGetProcessFlags:
		return d.handleGetProcessFlags(conn)
	case ActionReadModules:
		return d.handleReadModules(conn)
	case ActionRequestCompanionSocket:
		return d.handleRequestCompanionSocket(conn)
	case ActionGetModuleDir:
		return d.handleGetModuleDir(conn)
	case ActionZygoteRestart:
		return d.handleZygoteRestart(ctx)
	case ActionSystemServerStarted:
		return d.handleSystemServerStarted()
	default:
		return fmt.Errorf("unreachable: validated action %v fell through dispatch", action)
	}
}

// handlePingHeartbeat forwards a liveness datagram to the watchdog; no
// reply on the connection itself.
func (d *Daemon) handlePingHeartbeat(ctx context.Context) error {
	d.Metrics.RecordHeartbeat(ctx)
	if d.control == nil {
		return nil
	}
	return control.SendMilestone(d.control, control.Heartbeat)
}

// handleRequestLogcatFd streams (level, tag, message) triples from the
// client until it half-closes, forwarding each to the host log.
func (d *Daemon) handleRequestLogcatFd(conn *net.UnixConn, connID string) error {
	for {
		level, err := wire.ReadUint8(conn)
		if err != nil {
			return nil // client half-closed; not an error
		}
		tag, err := wire.ReadString(conn)
		if err != nil {
			return fmt.Errorf("reading logcat tag: %w", err)
		}
		message, err := wire.ReadString(conn)
		if err != nil {
			return fmt.Errorf("reading logcat message: %w", err)
		}
		d.Logger.Printf("conn=%s logcat level=%d tag=%s: %s", connID, level, tag, message)
	}
}

// handleGetProcessFlags computes the ProcessFlags bitset for a uid from
// the active root backend. If IsManager is set, the other policy bits are
// suppressed: a manager app is never itself subject to denylist/umount
// policy.
func (d *Daemon) handleGetProcessFlags(conn *net.UnixConn) error {
	rawUID, err := wire.ReadUint32(conn)
	if err != nil {
		return fmt.Errorf("reading uid: %w", err)
	}
	uid := int32(rawUID)

	var flags ProcessFlags
	if rootimpl.UidIsManager(uid) {
		flags |= ProcessIsManager
	} else {
		if rootimpl.UidGrantedRoot(uid) {
			flags |= ProcessGrantedRoot
		}
		if rootimpl.UidShouldUmount(uid) {
			flags |= ProcessOnDenylist
		}
	}

	switch rootimpl.GetImpl() {
	case rootimpl.TagKernelSU:
		flags |= ProcessRootIsKSU
	case rootimpl.TagMagisk:
		flags |= ProcessRootIsMagisk
	case rootimpl.TagAPatch:
		flags |= ProcessRootIsAPatch
	case rootimpl.TagKPatch:
		flags |= ProcessRootIsKPatch
	}

	return wire.WriteUint32(conn, uint32(flags))
}

// handleReadModules writes the module count, then for each module its
// name and sealed library fd.
func (d *Daemon) handleReadModules(conn *net.UnixConn) error {
	if err := wire.WriteSize(conn, uint64(len(d.modules))); err != nil {
		return fmt.Errorf("writing module count: %w", err)
	}
	for _, m := range d.modules {
		if err := wire.WriteString(conn, m.Name); err != nil {
			return fmt.Errorf("writing module name %s: %w", m.Name, err)
		}
		if err := wire.SendFd(conn, m.LibImage.Fd()); err != nil {
			return fmt.Errorf("sending library fd for %s: %w", m.Name, err)
		}
	}
	return nil
}

// handleRequestCompanionSocket reads a module index and proxies a duplex
// fd hand-off between the requesting client and that module's companion,
// replying 0 if anything along the way fails.
func (d *Daemon) handleRequestCompanionSocket(conn *net.UnixConn) error {
	index, err := wire.ReadSize(conn)
	if err != nil {
		return fmt.Errorf("reading module index: %w", err)
	}
	if index >= uint64(len(d.modules)) {
		return wire.WriteUint8(conn, 0)
	}
	module := d.modules[index]

	ok, err := module.Slot.RequestSocket(conn)
	if err != nil {
		d.Logger.Printf("companion request for %s failed: %v", module.Name, err)
		return wire.WriteUint8(conn, 0)
	}
	if !ok {
		return wire.WriteUint8(conn, 0)
	}
	return wire.WriteUint8(conn, 1)
}

// handleGetModuleDir opens a module's on-disk directory and passes its fd.
func (d *Daemon) handleGetModuleDir(conn *net.UnixConn) error {
	index, err := wire.ReadSize(conn)
	if err != nil {
		return fmt.Errorf("reading module index: %w", err)
	}
	if index >= uint64(len(d.modules)) {
		return fmt.Errorf("module index %d out of range", index)
	}
	module := d.modules[index]

	dir, err := os.Open(module.Dir)
	if err != nil {
		return fmt.Errorf("opening module dir %s: %w", module.Dir, err)
	}
	defer dir.Close()

	return wire.SendFd(conn, int(dir.Fd()))
}

// handleZygoteRestart invalidates every companion slot so post-restart app
// processes start with fresh companions.
func (d *Daemon) handleZygoteRestart(ctx context.Context) error {
	for _, m := range d.modules {
		m.Slot.Invalidate()
	}
	return nil
}

// handleSystemServerStarted emits a one-shot datagram to the control
// channel.
func (d *Daemon) handleSystemServerStarted() error {
	if d.control == nil {
		return nil
	}
	return control.SendMilestone(d.control, control.SystemServerStarted)
}
