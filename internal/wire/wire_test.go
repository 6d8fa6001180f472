package wire

import (
	"bytes"
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := "foo,bar,baz"
	if err := WriteString(&buf, want); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	got, err := ReadString(&buf)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteUint32(&buf, 0xdeadbeef); err != nil {
		t.Fatalf("WriteUint32: %v", err)
	}
	got, err := ReadUint32(&buf)
	if err != nil {
		t.Fatalf("ReadUint32: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("got 0x%x, want 0xdeadbeef", got)
	}
}

func TestReadStringRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSize(&buf, maxStringLen+1); err != nil {
		t.Fatalf("WriteSize: %v", err)
	}
	if _, err := ReadString(&buf); err == nil {
		t.Fatal("expected error for oversized length prefix")
	}
}

func TestSealedLibraryRejectsMutation(t *testing.T) {
	sealed, err := NewSealedLibrary("jit-cache-test", []byte("fake elf contents"))
	if err != nil {
		t.Fatalf("NewSealedLibrary: %v", err)
	}
	defer sealed.Close()

	if err := VerifySealed(sealed.Fd()); err != nil {
		t.Fatalf("VerifySealed: %v", err)
	}

	if _, err := unix.Write(sealed.Fd(), []byte("x")); err == nil {
		t.Fatal("expected write to sealed memfd to fail")
	}
	if err := unix.Ftruncate(sealed.Fd(), 4096); err == nil {
		t.Fatal("expected grow (ftruncate) on sealed memfd to fail")
	}
	if err := unix.Ftruncate(sealed.Fd(), 1); err == nil {
		t.Fatal("expected shrink (ftruncate) on sealed memfd to fail")
	}

	seals := unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL
	if _, err := unix.FcntlInt(uintptr(sealed.Fd()), unix.F_ADD_SEALS, seals); err == nil {
		t.Fatal("expected re-sealing an already-sealed memfd to fail")
	}
}

func TestSendRecvFd(t *testing.T) {
	parent, child, err := NewSocketpair()
	if err != nil {
		t.Fatalf("NewSocketpair: %v", err)
	}
	defer parent.Close()
	defer child.Close()

	parentConn, err := net.FileConn(parent)
	if err != nil {
		t.Fatalf("FileConn parent: %v", err)
	}
	defer parentConn.Close()
	childConn, err := net.FileConn(child)
	if err != nil {
		t.Fatalf("FileConn child: %v", err)
	}
	defer childConn.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "payload-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer tmp.Close()
	if _, err := tmp.WriteString("hello"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- SendFd(parentConn.(*net.UnixConn), int(tmp.Fd()))
	}()

	recvFd, err := RecvFd(childConn.(*net.UnixConn))
	if err != nil {
		t.Fatalf("RecvFd: %v", err)
	}
	defer unix.Close(recvFd)

	if err := <-done; err != nil {
		t.Fatalf("SendFd: %v", err)
	}

	var st1, st2 unix.Stat_t
	if err := unix.Fstat(int(tmp.Fd()), &st1); err != nil {
		t.Fatalf("fstat original: %v", err)
	}
	if err := unix.Fstat(recvFd, &st2); err != nil {
		t.Fatalf("fstat received: %v", err)
	}
	if st1.Ino != st2.Ino || st1.Dev != st2.Dev {
		t.Fatal("received fd does not refer to the same file as the sent fd")
	}
}
