package zygiskd

import (
	"fmt"
	"net"

	"github.com/zygisksu/zygiskd/internal/wire"
	"golang.org/x/sys/unix"
)

// Client is a thin request/response wrapper over one daemon connection,
// used by operator-facing tooling (status, monitor) rather than by Zygote
// itself, which speaks the wire protocol directly.
type Client struct {
	conn *net.UnixConn
}

// Dial opens a new connection to a daemon's unix socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Heartbeat sends ActionPingHeartbeat and waits for the connection to be
// accepted, the simplest possible liveness probe.
func (c *Client) Heartbeat() error {
	return wire.WriteUint8(c.conn, uint8(ActionPingHeartbeat))
}

// ModuleSummary is one module as reported by ReadModules, with the
// library fd closed immediately since this client has no use for it.
type ModuleSummary struct {
	Name string
}

// ReadModules fetches the module registry this daemon currently serves.
func (c *Client) ReadModules() ([]ModuleSummary, error) {
	if err := wire.WriteUint8(c.conn, uint8(ActionReadModules)); err != nil {
		return nil, fmt.Errorf("sending action: %w", err)
	}
	count, err := wire.ReadSize(c.conn)
	if err != nil {
		return nil, fmt.Errorf("reading module count: %w", err)
	}
	summaries := make([]ModuleSummary, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := wire.ReadString(c.conn)
		if err != nil {
			return nil, fmt.Errorf("reading module name %d: %w", i, err)
		}
		fd, err := wire.RecvFd(c.conn)
		if err != nil {
			return nil, fmt.Errorf("receiving library fd for %s: %w", name, err)
		}
		unix.Close(fd)
		summaries = append(summaries, ModuleSummary{Name: name})
	}
	return summaries, nil
}

// GetProcessFlags queries the ProcessFlags bitset for uid.
func (c *Client) GetProcessFlags(uid int32) (ProcessFlags, error) {
	if err := wire.WriteUint8(c.conn, uint8(ActionGetProcessFlags)); err != nil {
		return 0, fmt.Errorf("sending action: %w", err)
	}
	if err := wire.WriteUint32(c.conn, uint32(uid)); err != nil {
		return 0, fmt.Errorf("sending uid: %w", err)
	}
	raw, err := wire.ReadUint32(c.conn)
	if err != nil {
		return 0, fmt.Errorf("reading process flags: %w", err)
	}
	return ProcessFlags(raw), nil
}
