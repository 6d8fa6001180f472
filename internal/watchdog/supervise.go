package watchdog

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/zygisksu/zygiskd/internal/androidprop"
	"github.com/zygisksu/zygiskd/internal/control"
	"github.com/zygisksu/zygiskd/internal/moduleprop"
)

// ctrlRestartProperty and zygoteSerialProp are the Android system
// properties used to trigger and observe a zygote restart.
const (
	ctrlRestartProperty = "ctl.restart"
	zygoteSerialProp    = "init.svc.zygote"
)

// serialPollInterval is how often a supervise iteration polls
// zygoteSerialProp while waiting for an externally-triggered restart.
const serialPollInterval = 500 * time.Millisecond

// iterationSettleDelay is a backstop so Supervise never busy-loops between
// one wake-kill-restart cycle and the next.
const iterationSettleDelay = 500 * time.Millisecond

// wakeEvent reports what woke a supervise iteration: either a named
// bitness whose process exited, or an externally-observed Zygote restart
// (empty bitness), or ctx cancellation.
type wakeEvent struct {
	bitness string
	exitErr error
	ctxErr  error
}

// Supervise runs the coupled supervise loop for the lifetime of ctx: each
// iteration spawns both daemon bitnesses together, waits for any of them
// to exit or for Zygote to restart outside our control, kills whichever
// children are still alive, consumes one life from the shared budget, and
// unconditionally requests a fresh Zygote restart before looping. The
// per-bitness RestartTracker's persisted backoff and crash-loop detection
// sit on top of this as a supplement: they gate and pace each bitness's
// spawn within an iteration. The watchdog gives up for good when the
// iteration-level lives counter runs out, and also when the tracker
// declines both bitnesses so that no daemon can be spawned.
func (wd *Watchdog) Supervise(ctx context.Context, exePath string) error {
	controlConn, err := control.Listen(wd.cfg.ControlSocketPath)
	if err != nil {
		return fmt.Errorf("listening on control socket: %w", err)
	}
	defer controlConn.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		wd.watchControl(ctx, controlConn)
	}()

	runErr := wd.runSuperviseLoop(ctx, exePath)

	wg.Wait()
	return runErr
}

// runSuperviseLoop implements the per-iteration supervise algorithm.
func (wd *Watchdog) runSuperviseLoop(ctx context.Context, exePath string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cmds, err := wd.spawnIteration(ctx, exePath)
		if err != nil {
			wd.logger.Printf("spawn: %v", err)
			_ = wd.overlay.WriteStatus(moduleprop.StatusCrashed)
			return err
		}

		event := wd.waitForWake(ctx, cmds)
		if event.ctxErr != nil {
			wd.killSurvivors(cmds, "")
			return nil
		}

		wd.killSurvivors(cmds, event.bitness)

		if event.bitness != "" {
			wd.logger.Printf("%s: exited: %v", event.bitness, event.exitErr)
		} else {
			wd.logger.Printf("zygote: externally-triggered restart observed")
		}

		if err := wd.RecordIteration(); err != nil {
			wd.logger.Printf("supervise: %v", err)
			_ = wd.overlay.WriteStatus(moduleprop.StatusCrashed)
			return err
		}

		if err := wd.TriggerZygoteRestart(ctx); err != nil {
			wd.logger.Printf("triggering zygote restart: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(iterationSettleDelay):
		}
	}
}

// spawnIteration starts both bitnesses for one supervise iteration,
// consulting each bitness's persisted RestartTracker for crash-loop
// refusal and backoff pacing before spawning it. At least one bitness
// must start or the iteration fails.
func (wd *Watchdog) spawnIteration(ctx context.Context, exePath string) (map[string]*exec.Cmd, error) {
	cmds := map[string]*exec.Cmd{}
	for _, bitness := range []string{Daemon32, Daemon64} {
		if wd.tracker.IsInCrashLoop(bitness) {
			wd.logger.Printf("%s: in crash loop, declining to spawn", bitness)
			continue
		}

		backoff, err := wd.tracker.RecordRestart(bitness)
		if err != nil {
			wd.logger.Printf("%s: %v", bitness, err)
			continue
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		cmd := exec.CommandContext(ctx, exePath, "daemon", bitness)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			wd.logger.Printf("%s: spawning: %v", bitness, err)
			continue
		}
		wd.logger.Printf("%s: spawned pid=%d", bitness, cmd.Process.Pid)
		cmds[bitness] = cmd
	}

	if len(cmds) == 0 {
		return nil, fmt.Errorf("no daemon could be spawned this iteration")
	}
	return cmds, nil
}

// waitForWake blocks until one of cmds exits, an externally-triggered
// Zygote restart is observed on zygoteSerialProp, or ctx is cancelled.
func (wd *Watchdog) waitForWake(ctx context.Context, cmds map[string]*exec.Cmd) wakeEvent {
	iterCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan wakeEvent, len(cmds)+1)

	for bitness, cmd := range cmds {
		go func(bitness string, cmd *exec.Cmd) {
			err := cmd.Wait()
			select {
			case events <- wakeEvent{bitness: bitness, exitErr: err}:
			case <-iterCtx.Done():
			}
		}(bitness, cmd)
	}

	baseline, err := androidprop.Serial(zygoteSerialProp)
	if err != nil {
		wd.logger.Printf("zygote serial: %v (external-restart detection disabled this iteration)", err)
	} else {
		go wd.watchZygoteSerial(iterCtx, baseline, events)
	}

	select {
	case <-ctx.Done():
		return wakeEvent{ctxErr: ctx.Err()}
	case ev := <-events:
		return ev
	}
}

// watchZygoteSerial polls zygoteSerialProp and reports a wake event the
// first time it differs from baseline, i.e. something other than this
// watchdog's own TriggerZygoteRestart changed it.
func (wd *Watchdog) watchZygoteSerial(ctx context.Context, baseline uint32, events chan<- wakeEvent) {
	ticker := time.NewTicker(serialPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := androidprop.Serial(zygoteSerialProp)
			if err != nil {
				continue
			}
			if current != baseline {
				select {
				case events <- wakeEvent{}:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}

// killSurvivors kills every still-running child in cmds other than
// woken (which has already exited on its own), per supervise loop step 3.
func (wd *Watchdog) killSurvivors(cmds map[string]*exec.Cmd, woken string) {
	for bitness, cmd := range cmds {
		if bitness == woken {
			continue
		}
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Kill(); err != nil {
			wd.logger.Printf("%s: killing pid=%d: %v", bitness, cmd.Process.Pid, err)
		}
		_ = cmd.Wait()
	}
}

// watchControl relays DAEMON_SET_INFO and ZYGOTE_INJECTED datagrams into
// module.prop status updates, until ctx is cancelled. DAEMON_SET_ERROR_INFO
// and the other milestones are only logged.
func (wd *Watchdog) watchControl(ctx context.Context, conn *net.UnixConn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		msg, err := control.Decode(buf[:n])
		if err != nil {
			wd.logger.Printf("control: %v", err)
			continue
		}
		switch {
		case msg.IsMilestone:
			wd.handleMilestone(msg.Milestone)
		case msg.IsError:
			wd.logger.Printf("daemon error: %s", msg.Text)
		default:
			wd.logger.Printf("daemon status: %s", msg.Text)
			_ = wd.overlay.WriteStatus(moduleprop.StatusLoaded)
		}
	}
}

func (wd *Watchdog) handleMilestone(value uint32) {
	switch value {
	case control.ZygoteInjected:
		wd.logger.Printf("zygote injected")
		_ = wd.overlay.WriteStatus(moduleprop.StatusLoaded)
	case control.SystemServerStarted:
		wd.logger.Printf("system_server started")
	case control.Heartbeat:
		// liveness only; no status change
	}
}

// TriggerZygoteRestart restarts the zygote service and blocks until the
// property service reports a new serial, confirming init actually
// processed the restart rather than the ctl.restart write silently
// racing a service already mid-transition. Called unconditionally at the
// end of every supervise iteration (step 5). Because it returns only after
// the serial has moved, the next iteration's waitForWake reads its baseline
// after this self-induced change, so the restart is never mistaken for an
// external one.
func (wd *Watchdog) TriggerZygoteRestart(ctx context.Context) error {
	induced, err := androidprop.RestartZygote(ctrlRestartProperty, zygoteSerialProp)
	if err != nil {
		return fmt.Errorf("triggering zygote restart: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := androidprop.WaitForSerialChange(waitCtx, zygoteSerialProp, induced, 200*time.Millisecond); err != nil {
		return fmt.Errorf("waiting for zygote restart to land: %w", err)
	}
	return nil
}
