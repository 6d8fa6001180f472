package exitcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrWrongUser, "not root")
	if err.Code != ErrWrongUser {
		t.Errorf("Code = %d, want %d", err.Code, ErrWrongUser)
	}
	if err.Message != "not root" {
		t.Errorf("Message = %q, want %q", err.Message, "not root")
	}
}

func TestWrapf(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrapf(ErrLockHeld, cause, "failed to connect to %s on port %d", "localhost", 8080)

	if err.Code != ErrLockHeld {
		t.Errorf("Code = %d, want %d", err.Code, ErrLockHeld)
	}
	wantMsg := "failed to connect to localhost on port 8080"
	if err.Message != wantMsg {
		t.Errorf("Message = %q, want %q", err.Message, wantMsg)
	}
	if err.Cause != cause {
		t.Error("Wrapf should preserve cause")
	}
	wantErr := "failed to connect to localhost on port 8080: connection refused"
	if err.Error() != wantErr {
		t.Errorf("Error() = %q, want %q", err.Error(), wantErr)
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(ErrWrongUser, "uid is not 0"),
			want: "uid is not 0",
		},
		{
			name: "with cause",
			err:  Wrapf(ErrLockHeld, errors.New("timeout"), "acquiring lock"),
			want: "acquiring lock: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"coded error", New(ErrWrongUser, "not root"), ErrWrongUser},
		{"wrapped coded", Wrapf(ErrLockHeld, errors.New("ctx"), "locking"), ErrLockHeld},
		{"plain error", errors.New("plain"), ErrGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(ErrProtocolViolation, "unknown action tag")

	if !Is(err, ErrProtocolViolation) {
		t.Error("Is should return true for matching code")
	}
	if Is(err, ErrWrongUser) {
		t.Error("Is should return false for non-matching code")
	}
}

func TestDomainConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "WrongUser",
			err:      WrongUser(1000, 1000),
			wantCode: ErrWrongUser,
			wantMsg:  "watchdog must run as uid=0 gid=0, got uid=1000 gid=1000",
		},
		{
			name:     "WrongSELinuxContext",
			err:      WrongSELinuxContext("u:r:untrusted_app:s0"),
			wantCode: ErrWrongSELinux,
			wantMsg:  `unexpected SELinux context "u:r:untrusted_app:s0"`,
		},
		{
			name:     "ModulesDirMissing",
			err:      ModulesDirMissing("/data/adb/modules"),
			wantCode: ErrModulesDirMissing,
			wantMsg:  "modules directory /data/adb/modules does not exist",
		},
		{
			name:     "LockHeld",
			err:      LockHeld("/dev/socket/zygiskwd"),
			wantCode: ErrLockHeld,
			wantMsg:  "singleton lock /dev/socket/zygiskwd already held",
		},
		{
			name:     "CrashLoopExhausted",
			err:      CrashLoopExhausted("daemon64"),
			wantCode: ErrCrashLoopExhausted,
			wantMsg:  "daemon64 crash-looped past its lives budget",
		},
		{
			name:     "ProtocolViolation",
			err:      ProtocolViolation("unknown tag 9"),
			wantCode: ErrProtocolViolation,
			wantMsg:  "protocol violation: unknown tag 9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.wantMsg)
			}
		})
	}
}

func TestCodeWithWrappedErrors(t *testing.T) {
	original := CrashLoopExhausted("daemon32")
	wrapped := fmt.Errorf("failed to process: %w", original)
	doubleWrapped := fmt.Errorf("operation failed: %w", wrapped)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"original", original, ErrCrashLoopExhausted},
		{"single wrapped", wrapped, ErrCrashLoopExhausted},
		{"double wrapped", doubleWrapped, ErrCrashLoopExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrapf(ErrLockHeld, cause, "API call failed")

	if err.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("errors.Unwrap should work with Error")
	}

	errNoCause := New(ErrWrongUser, "not found")
	if errNoCause.Unwrap() != nil {
		t.Error("Unwrap should return nil when no cause")
	}
}

func TestErrorInterface(t *testing.T) {
	var _ error = &Error{}
	var _ error = New(ErrGeneral, "test")
	var _ error = Wrapf(ErrGeneral, nil, "test")
	var _ error = CrashLoopExhausted("test")
}
