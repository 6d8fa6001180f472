package control

import (
	"net"
	"path/filepath"
	"testing"
)

func socketPair(t *testing.T) (server, client *net.UnixConn) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control.sock")

	server, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	client, err = Dial(path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return server, client
}

func recvOne(t *testing.T, server *net.UnixConn) Message {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	msg, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return msg
}

func TestSendMilestoneRoundTrip(t *testing.T) {
	server, client := socketPair(t)

	if err := SendMilestone(client, ZygoteInjected); err != nil {
		t.Fatalf("SendMilestone: %v", err)
	}
	msg := recvOne(t, server)
	if !msg.IsMilestone || msg.Milestone != ZygoteInjected {
		t.Fatalf("got %+v, want milestone %d", msg, ZygoteInjected)
	}
}

func TestSendInfoRoundTrip(t *testing.T) {
	server, client := socketPair(t)

	want := "Root: KernelSU,module(3): foo,bar,baz"
	if err := SendInfo(client, want); err != nil {
		t.Fatalf("SendInfo: %v", err)
	}
	msg := recvOne(t, server)
	if msg.IsMilestone || msg.IsError || msg.Text != want {
		t.Fatalf("got %+v, want info text %q", msg, want)
	}
}

func TestSendErrorInfoRoundTrip(t *testing.T) {
	server, client := socketPair(t)

	want := "module foo: dlopen failed"
	if err := SendErrorInfo(client, want); err != nil {
		t.Fatalf("SendErrorInfo: %v", err)
	}
	msg := recvOne(t, server)
	if msg.IsMilestone || !msg.IsError || msg.Text != want {
		t.Fatalf("got %+v, want error text %q", msg, want)
	}
}

func TestDecodeRejectsShortPayload(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for a 2-byte payload")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	payload := []byte{tagDaemonSetInfo, 0xFF, 0x00, 0x00, 0x00, 'h', 'i'}
	if _, err := Decode(payload); err == nil {
		t.Fatal("expected a length-mismatch error")
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	payload := []byte{0xAB, 0x00, 0x00, 0x00, 0x00}
	if _, err := Decode(payload); err == nil {
		t.Fatal("expected an unrecognized-tag error")
	}
}
