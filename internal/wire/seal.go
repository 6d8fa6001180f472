package wire

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// SealedLibrary is an anonymous, sealed memory file holding an immutable
// shared-library image. Once built it cannot be resized or rewritten, only
// read and mapped; callers consume it via its PathInProc, which is the form
// a dynamic linker or a module's own code expects (a regular path, not an
// fd number).
type SealedLibrary struct {
	file *os.File
}

// NewSealedLibrary creates a memfd, writes data into it, and applies the
// seal set (shrink, grow, write, seal) that makes the region immutable for
// the remaining lifetime of the descriptor. The fd is never exposed to a
// path on disk; only /proc/self/fd/<n> references it.
func NewSealedLibrary(name string, data []byte) (*SealedLibrary, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create %q: %w", name, err)
	}
	f := os.NewFile(uintptr(fd), name)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing %d bytes into memfd %q: %w", len(data), name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seeking memfd %q back to start: %w", name, err)
	}

	seals := unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, seals); err != nil {
		f.Close()
		return nil, fmt.Errorf("sealing memfd %q: %w", name, err)
	}

	return &SealedLibrary{file: f}, nil
}

// Fd returns the underlying memfd descriptor. The caller must not close it
// directly; use Close on the SealedLibrary instead.
func (s *SealedLibrary) Fd() int {
	return int(s.file.Fd())
}

// PathInProc returns the /proc/self/fd path a dynamic linker should open to
// map this library's contents. Valid only for the lifetime of the process
// that holds the fd open — it is not a stable filesystem path and must not
// be persisted or handed to another process by name.
func (s *SealedLibrary) PathInProc() string {
	return fmt.Sprintf("/proc/self/fd/%d", s.file.Fd())
}

// Close releases the memfd. Any mapping already made from PathInProc
// remains valid until unmapped; only the descriptor itself is released.
func (s *SealedLibrary) Close() error {
	return s.file.Close()
}

// VerifySealed confirms the full shrink/grow/write/seal set is present on
// fd, guarding against a library image that was supposed to be immutable
// but somehow lost a seal (e.g. constructed by a future code path that
// forgot one). Returns nil when all four seals are set.
func VerifySealed(fd int) error {
	got, err := unix.FcntlInt(uintptr(fd), unix.F_GET_SEALS, 0)
	if err != nil {
		return fmt.Errorf("fcntl F_GET_SEALS: %w", err)
	}
	want := unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL
	if got&want != want {
		return fmt.Errorf("memfd missing seals: have 0x%x, want 0x%x", got, want)
	}
	return nil
}
