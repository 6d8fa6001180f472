// Package watchdog implements the long-lived supervisor: it validates its
// own execution environment, takes the singleton lock, detects the active
// root backend, spawns and restarts the 32- and 64-bit daemons, and
// publishes operator-visible status through the module.prop overlay.
package watchdog

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/zygisksu/zygiskd/internal/config"
	"github.com/zygisksu/zygiskd/internal/exitcode"
	"github.com/zygisksu/zygiskd/internal/lock"
	"github.com/zygisksu/zygiskd/internal/moduleprop"
	"github.com/zygisksu/zygiskd/internal/rootimpl"
)

// Bitnesses supervised by every watchdog instance.
const (
	Daemon32 = "daemon32"
	Daemon64 = "daemon64"
)

// selinuxContextPath is where a process reads its own SELinux domain.
const selinuxContextPath = "/proc/self/attr/current"

// allowedSELinuxContexts are the domains a watchdog is permitted to run
// under; anything else means init launched it somewhere unexpected.
var allowedSELinuxContexts = []string{"u:r:su:s0", "u:r:magisk:s0"}

// Watchdog owns one running supervisor instance: its configuration, the
// singleton lock, the module.prop status overlay, and the restart
// bookkeeping for its supervise loop.
type Watchdog struct {
	cfg       *config.Config
	logger    *log.Logger
	overlay   *moduleprop.Overlay
	tracker   *RestartTracker
	singleton *lock.Singleton

	// lives is the single iteration-level "lives" counter from the
	// supervise loop's step 4: decremented once per wake-kill-restart
	// cycle covering both bitnesses together, not per daemon.
	lives      int
	livesSince time.Time
}

// checkPermission verifies the calling process is uid/gid 0 under one of
// the SELinux domains a root daemon is expected to run as.
func checkPermission() error {
	uid := os.Getuid()
	gid := os.Getgid()
	if uid != 0 || gid != 0 {
		return exitcode.WrongUser(uid, gid)
	}

	raw, err := os.ReadFile(selinuxContextPath)
	if err != nil {
		// A kernel without SELinux (or with it disabled) has nothing to
		// check here; treat as permitted.
		return nil
	}
	context := strings.TrimRight(strings.TrimSpace(string(raw)), "\x00")
	for _, allowed := range allowedSELinuxContexts {
		if context == allowed {
			return nil
		}
	}
	return exitcode.WrongSELinuxContext(context)
}

// New validates the environment, takes the singleton lock, opens the
// module.prop overlay, and resolves the active root backend. Permission,
// missing-modules-directory and held-lock failures are *exitcode.Error
// values so main can set the process exit status directly; lock and
// overlay I/O failures are plain wrapped errors, which exitcode.Code maps
// to ErrGeneral.
func New(cfg *config.Config, logger *log.Logger) (*Watchdog, error) {
	if err := checkPermission(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.ModulesDir); err != nil {
		return nil, exitcode.ModulesDirMissing(cfg.ModulesDir)
	}

	lockPath := cfg.StateDir + "/watchdog.lock"
	singleton, ok, err := lock.TryAcquire(lockPath)
	if err != nil {
		return nil, fmt.Errorf("acquiring singleton lock: %w", err)
	}
	if !ok {
		return nil, exitcode.LockHeld(lockPath)
	}

	overlay, err := moduleprop.NewOverlay(cfg.ModulePropPath)
	if err != nil {
		singleton.Close()
		return nil, fmt.Errorf("opening module.prop overlay: %w", err)
	}

	tracker := NewRestartTracker(cfg.StateDir)
	if err := tracker.Load(); err != nil {
		logger.Printf("restart tracker: starting fresh after load error: %v", err)
	}

	wd := &Watchdog{
		cfg:       cfg,
		logger:    logger,
		overlay:   overlay,
		tracker:   tracker,
		singleton: singleton,
		lives:     cfg.Restart.InitialLives,
	}

	tag := resolveRootImpl(cfg)
	wd.publishRootStatus(tag)

	return wd, nil
}

// resolveRootImpl runs the detection algorithm once, honoring a config
// override for test rigs without a real kernel backend.
func resolveRootImpl(cfg *config.Config) rootimpl.Tag {
	if cfg.RootOverride != "" {
		return rootimpl.Setup(overrideBackend(cfg.RootOverride))
	}
	return rootimpl.Setup(rootimpl.DefaultBackends())
}

func overrideBackend(name string) []rootimpl.Backend {
	var tag rootimpl.Tag
	switch name {
	case "KernelSU":
		tag = rootimpl.TagKernelSU
	case "Magisk":
		tag = rootimpl.TagMagisk
	case "APatch":
		tag = rootimpl.TagAPatch
	case "KPatch":
		tag = rootimpl.TagKPatch
	default:
		tag = rootimpl.TagNone
	}
	return []rootimpl.Backend{{
		Tag:        tag,
		Probe:      func() (int64, error) { return 1, nil },
		MinVersion: 0,
		MaxVersion: 1 << 30,
	}}
}

// publishRootStatus writes the module.prop hint matching tag, or leaves
// the loaded hint to be written once a daemon actually comes up if tag is
// one of the four concrete supported backends.
func (wd *Watchdog) publishRootStatus(tag rootimpl.Tag) {
	var hint string
	switch tag {
	case rootimpl.TagNone:
		hint = moduleprop.StatusUnknownRoot
	case rootimpl.TagTooOld:
		hint = moduleprop.StatusRootTooOld
	case rootimpl.TagAbnormal:
		hint = moduleprop.StatusRootAbnormal
	case rootimpl.TagMultiple:
		hint = moduleprop.StatusMultipleRootImpl
	default:
		return // concrete backend: a later successful daemon spawn reports Loaded
	}
	if err := wd.overlay.WriteStatus(hint); err != nil {
		wd.logger.Printf("writing status %q: %v", hint, err)
	}
}

// Close releases the singleton lock. Call once, on shutdown.
func (wd *Watchdog) Close() error {
	return wd.singleton.Close()
}

// RecordIteration applies the tight in-memory 5-lives/30s rule (spec's
// supervise-loop step 4, the startup-storm guard) independently of the
// persisted RestartTracker's longer-window exponential backoff: one
// wake-kill-restart cycle of the supervise loop, covering both bitnesses
// together, consumes one life. A cycle that starts more than ResetWindow
// after the counter was last reset refreshes it back to InitialLives
// before consuming a life, so only a rapid run of cycles exhausts it.
func (wd *Watchdog) RecordIteration() error {
	resetWindow, err := time.ParseDuration(wd.cfg.Restart.ResetWindow)
	if err != nil {
		resetWindow = 30 * time.Second
	}

	now := time.Now()
	if wd.livesSince.IsZero() || now.Sub(wd.livesSince) > resetWindow {
		wd.lives = wd.cfg.Restart.InitialLives
		wd.livesSince = now
	}

	wd.lives--
	if wd.lives < 0 {
		return exitcode.CrashLoopExhausted("supervise loop")
	}
	return nil
}

