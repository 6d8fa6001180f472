package watchdog

import (
	"log"
	"testing"
	"time"

	"github.com/zygisksu/zygiskd/internal/config"
)

func newTestWatchdog(t *testing.T) *Watchdog {
	t.Helper()
	cfg := config.Default()
	cfg.Restart.InitialLives = 3
	cfg.Restart.ResetWindow = "30s"
	return &Watchdog{
		cfg:    cfg,
		logger: log.New(testWriter{t}, "", 0),
		lives:  cfg.Restart.InitialLives,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func TestRecordIterationExhaustsLivesWithinWindow(t *testing.T) {
	wd := newTestWatchdog(t)

	for i := 0; i < 3; i++ {
		if err := wd.RecordIteration(); err != nil {
			t.Fatalf("iteration %d should still have lives: %v", i, err)
		}
	}
	if err := wd.RecordIteration(); err == nil {
		t.Fatal("expected lives to be exhausted on the 4th iteration within the window")
	}
}

func TestRecordIterationResetsAfterWindow(t *testing.T) {
	wd := newTestWatchdog(t)
	wd.cfg.Restart.ResetWindow = "1ms"

	for i := 0; i < 3; i++ {
		if err := wd.RecordIteration(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
	time.Sleep(5 * time.Millisecond)
	if err := wd.RecordIteration(); err != nil {
		t.Fatalf("expected lives to reset after the window elapsed: %v", err)
	}
}

func TestRecordIterationCoversBothBitnessesTogether(t *testing.T) {
	// Spec's supervise loop decrements a single lives counter per
	// wake-kill-restart cycle, not one per bitness: three iterations must
	// exhaust the budget regardless of how many daemons each one covered.
	wd := newTestWatchdog(t)

	for i := 0; i < 3; i++ {
		if err := wd.RecordIteration(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
	if err := wd.RecordIteration(); err == nil {
		t.Fatal("expected the shared counter to be exhausted after InitialLives iterations")
	}
}
