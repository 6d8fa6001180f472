// Package androidprop provides the thin wrappers around Android's system
// property store that the watchdog and daemon need: reading the CPU ABI
// property, triggering a Zygote restart through its control property, and
// polling that property's change serial to detect restarts this process
// did not itself trigger.
//
// Property authoring beyond these thin wrappers is out of scope; this
// package shells out to the on-device `getprop`/`resetprop` tools rather
// than reimplementing the property-service wire protocol.
package androidprop

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const propertyCommandTimeout = 5 * time.Second

// runCommand is a seam over exec.CommandContext so tests can substitute a
// fake getprop/resetprop without requiring the real on-device tools.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Get reads a system property by name, returning "" if it is unset.
func Get(name string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), propertyCommandTimeout)
	defer cancel()
	out, err := runCommand(ctx, "getprop", name)
	if err != nil {
		return "", fmt.Errorf("getprop %s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Set writes a system property, using resetprop so persist.* and read-only
// properties can be touched the way the on-device root tooling expects.
func Set(name, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), propertyCommandTimeout)
	defer cancel()
	if _, err := runCommand(ctx, "resetprop", name, value); err != nil {
		return fmt.Errorf("resetprop %s %s: %w", name, value, err)
	}
	return nil
}

// CPUABI returns ro.product.cpu.abi, used by the daemon to pick its
// per-bitness module subdirectory (armeabi-v7a, arm64-v8a, x86, x86_64).
func CPUABI() (string, error) {
	abi, err := Get("ro.product.cpu.abi")
	if err != nil {
		return "", err
	}
	if abi == "" {
		return "", fmt.Errorf("ro.product.cpu.abi is unset")
	}
	return abi, nil
}

// Serial returns the current change serial for a property by running
// `getprop -T <name>` and parsing its trimmed output as a decimal uint32.
// There is no fallback: output that is not a number is returned as an
// error. The watchdog uses this to latch "the restart we just induced"
// against "an externally triggered restart".
func Serial(name string) (uint32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), propertyCommandTimeout)
	defer cancel()
	out, err := runCommand(ctx, "getprop", "-T", name)
	if err != nil {
		return 0, fmt.Errorf("getprop -T %s: %w", name, err)
	}
	serial, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing serial for %s from %q: %w", name, out, err)
	}
	return uint32(serial), nil
}

// RestartZygote sets the control property that tells init to restart the
// zygote service, returning the serial observed immediately before the
// write so the caller can latch it as "our" restart.
func RestartZygote(controlProperty, serialProperty string) (inducedSerial uint32, err error) {
	inducedSerial, err = Serial(serialProperty)
	if err != nil {
		return 0, fmt.Errorf("reading serial before restart: %w", err)
	}
	if err := Set(controlProperty, "zygote"); err != nil {
		return 0, fmt.Errorf("triggering zygote restart: %w", err)
	}
	return inducedSerial, nil
}

// WaitForSerialChange polls serialProperty's change serial until it
// differs from since, sleeping pollInterval between checks, or returns
// ctx's error if it is cancelled first.
func WaitForSerialChange(ctx context.Context, serialProperty string, since uint32, pollInterval time.Duration) (uint32, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			current, err := Serial(serialProperty)
			if err != nil {
				continue
			}
			if current != since {
				return current, nil
			}
		}
	}
}
