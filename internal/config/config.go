// Package config holds the shared configuration record the watchdog and
// each daemon load at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration shape for watchdog and daemon
// processes. Every field has a sensible compiled-in default; the TOML file
// only needs to mention what it overrides.
type Config struct {
	// ModulesDir is the directory containing one subdirectory per
	// installed module.
	ModulesDir string `toml:"modules_dir"`

	// SocketDir is the directory the per-bitness daemon sockets are
	// created in, for variants that use filesystem-path sockets rather
	// than the abstract namespace.
	SocketDir string `toml:"socket_dir"`

	// ControlSocketPath is the watchdog's SOCK_DGRAM control channel.
	ControlSocketPath string `toml:"control_socket_path"`

	// StateDir holds the persisted restart tracker and any other
	// watchdog state that must survive a process restart.
	StateDir string `toml:"state_dir"`

	// ModulePropPath is the original module.prop the watchdog bind-mounts
	// a writable overlay over.
	ModulePropPath string `toml:"module_prop_path"`

	// Restart holds overrides for the watchdog's restart policy.
	Restart RestartConfig `toml:"restart"`

	// RootOverride forces the root-backend tag instead of running
	// auto-detection, for test rigs without a real kernel backend.
	// Empty string means "auto-detect" (the default).
	RootOverride string `toml:"root_override,omitempty"`
}

// RestartConfig overrides the watchdog's restart policy. Zero values mean
// "use the compiled-in default". InitialLives and ResetWindow drive the
// supervise loop's lives counter; CrashLoopWindow and CrashLoopThreshold
// are loaded and saved but not read by the RestartTracker, which uses its
// own compiled-in constants.
type RestartConfig struct {
	InitialLives       int    `toml:"initial_lives,omitempty"`
	ResetWindow        string `toml:"reset_window,omitempty"`
	CrashLoopWindow    string `toml:"crash_loop_window,omitempty"`
	CrashLoopThreshold int    `toml:"crash_loop_threshold,omitempty"`
}

// Default returns the compiled-in configuration used when no TOML file is
// present, matching the on-device layout this module assumes.
func Default() *Config {
	return &Config{
		ModulesDir:        "/data/adb/modules",
		SocketDir:         "/dev/socket",
		ControlSocketPath: "/dev/socket/zygiskwd_control",
		StateDir:          "/data/adb/zygisksu",
		ModulePropPath:    "/data/adb/modules/zygisksu/module.prop",
		Restart: RestartConfig{
			InitialLives:       5,
			ResetWindow:        "30s",
			CrashLoopWindow:    "15m",
			CrashLoopThreshold: 5,
		},
	}
}

// Load reads path as TOML and merges it over Default(); a missing file is
// not an error and yields Default() unchanged, the same optional-file
// behavior the rest of this module's configuration loading follows
// elsewhere in the pack.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var overlay Config
	if err := toml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	mergeOverrides(cfg, &overlay)
	return cfg, nil
}

func mergeOverrides(base, overlay *Config) {
	if overlay.ModulesDir != "" {
		base.ModulesDir = overlay.ModulesDir
	}
	if overlay.SocketDir != "" {
		base.SocketDir = overlay.SocketDir
	}
	if overlay.ControlSocketPath != "" {
		base.ControlSocketPath = overlay.ControlSocketPath
	}
	if overlay.StateDir != "" {
		base.StateDir = overlay.StateDir
	}
	if overlay.ModulePropPath != "" {
		base.ModulePropPath = overlay.ModulePropPath
	}
	if overlay.RootOverride != "" {
		base.RootOverride = overlay.RootOverride
	}
	if overlay.Restart.InitialLives != 0 {
		base.Restart.InitialLives = overlay.Restart.InitialLives
	}
	if overlay.Restart.ResetWindow != "" {
		base.Restart.ResetWindow = overlay.Restart.ResetWindow
	}
	if overlay.Restart.CrashLoopWindow != "" {
		base.Restart.CrashLoopWindow = overlay.Restart.CrashLoopWindow
	}
	if overlay.Restart.CrashLoopThreshold != 0 {
		base.Restart.CrashLoopThreshold = overlay.Restart.CrashLoopThreshold
	}
}

// Save writes cfg as TOML to path, creating parent directories as needed.
// Used by `zygiskd` tooling that seeds a default config file on first run.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config to %s: %w", path, err)
	}
	return nil
}

// SocketPath builds the per-bitness daemon socket path under SocketDir.
func (c *Config) SocketPath(bitness string) string {
	return filepath.Join(c.SocketDir, "zygiskd-"+bitness)
}
