// Package control implements the watchdog's control-socket datagram
// protocol: the unix SOCK_DGRAM channel daemons use to report heartbeats,
// milestones, and human-readable status strings back to the watchdog that
// spawned them.
package control

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Well-known small-integer payloads a daemon emits as a single datagram
// with no further framing.
const (
	ZygoteInjected      uint32 = 1
	SystemServerStarted uint32 = 2
	Heartbeat           uint32 = 3
)

// Frame tags for the structured (tag, length, payload) messages carrying
// human-readable status info. Distinguished from the bare small-integer
// datagrams above by always being at least 5 bytes (1 tag byte + 4 length
// bytes + payload), whereas the milestone payloads above are exactly 4
// bytes.
const (
	tagDaemonSetInfo      byte = 0xD1
	tagDaemonSetErrorInfo byte = 0xD2
)

// Dial opens the watchdog control socket for a daemon to write to.
func Dial(path string) (*net.UnixConn, error) {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("dialing control socket %s: %w", path, err)
	}
	return conn, nil
}

// Listen opens the watchdog's end of the control socket.
func Listen(path string) (*net.UnixConn, error) {
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("listening on control socket %s: %w", path, err)
	}
	return conn, nil
}

// SendMilestone emits one of the well-known small-integer payloads.
func SendMilestone(conn *net.UnixConn, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if _, err := conn.Write(buf[:]); err != nil {
		return fmt.Errorf("writing milestone %d: %w", value, err)
	}
	return nil
}

// SendInfo emits a DAEMON_SET_INFO status string, e.g.
// "Root: KernelSU,module(3): foo,bar,baz".
func SendInfo(conn *net.UnixConn, text string) error {
	return sendFrame(conn, tagDaemonSetInfo, text)
}

// SendErrorInfo emits a DAEMON_SET_ERROR_INFO status string.
func SendErrorInfo(conn *net.UnixConn, text string) error {
	return sendFrame(conn, tagDaemonSetErrorInfo, text)
}

func sendFrame(conn *net.UnixConn, tag byte, text string) error {
	payload := []byte(text)
	buf := make([]byte, 1+4+len(payload))
	buf[0] = tag
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("writing %s frame: %w", frameName(tag), err)
	}
	return nil
}

func frameName(tag byte) string {
	switch tag {
	case tagDaemonSetInfo:
		return "DAEMON_SET_INFO"
	case tagDaemonSetErrorInfo:
		return "DAEMON_SET_ERROR_INFO"
	default:
		return fmt.Sprintf("tag(0x%x)", tag)
	}
}

// Message is a decoded datagram read off the control socket: either a bare
// milestone value or a structured info/error frame.
type Message struct {
	Milestone   uint32 // valid when IsMilestone
	IsMilestone bool
	IsError     bool // valid when !IsMilestone
	Text        string
}

// Decode parses one datagram payload as read from the control socket.
// A 4-byte payload is a milestone; anything starting with a recognized
// frame tag followed by a matching length is a status-info frame.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 4 {
		return Message{Milestone: binary.LittleEndian.Uint32(payload), IsMilestone: true}, nil
	}
	if len(payload) < 5 {
		return Message{}, fmt.Errorf("control datagram too short: %d bytes", len(payload))
	}
	tag := payload[0]
	length := binary.LittleEndian.Uint32(payload[1:5])
	if int(length) != len(payload)-5 {
		return Message{}, fmt.Errorf("control frame length mismatch: header says %d, have %d", length, len(payload)-5)
	}
	switch tag {
	case tagDaemonSetInfo:
		return Message{Text: string(payload[5:])}, nil
	case tagDaemonSetErrorInfo:
		return Message{Text: string(payload[5:]), IsError: true}, nil
	default:
		return Message{}, fmt.Errorf("unrecognized control frame tag 0x%x", tag)
	}
}
