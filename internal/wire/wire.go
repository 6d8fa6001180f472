// Package wire implements the length-prefixed, tagged binary protocol and
// the file-descriptor passing primitives shared by the daemon, the
// watchdog's control channel, and the companion manager.
//
// All fixed-width integers on the wire are little-endian. Every Android ABI
// this module targets (arm, arm64, x86, x86_64) is little-endian, so this
// coincides with "native-endian"; pinning it avoids a silent incompatibility
// if a component were ever cross-compiled for a big-endian host.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadUint8 reads a single byte, typically an action tag or boolean reply.
func ReadUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading u8: %w", err)
	}
	return buf[0], nil
}

// WriteUint8 writes a single byte.
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	if err != nil {
		return fmt.Errorf("writing u8: %w", err)
	}
	return nil
}

// ReadUint32 reads a little-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading u32: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes a little-endian uint32.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing u32: %w", err)
	}
	return nil
}

// ReadSize reads a size_t-equivalent length prefix: a little-endian uint64.
func ReadSize(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading size: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteSize writes a size_t-equivalent length prefix.
func WriteSize(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing size: %w", err)
	}
	return nil
}

// maxStringLen bounds a single length-prefixed string read from an untrusted
// peer (Zygote is privileged, but a malformed first byte should never make
// the daemon try to allocate gigabytes).
const maxStringLen = 1 << 20

// ReadString reads a length-prefixed string: an 8-byte little-endian length
// followed by that many bytes, with no trailing NUL.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadSize(r)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("string length %d exceeds maximum %d", n, maxStringLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("reading string body: %w", err)
	}
	return string(buf), nil
}

// WriteString writes a length-prefixed string.
func WriteString(w io.Writer, s string) error {
	if err := WriteSize(w, uint64(len(s))); err != nil {
		return err
	}
	if _, err := w.Write([]byte(s)); err != nil {
		return fmt.Errorf("writing string body: %w", err)
	}
	return nil
}
