package rootimpl

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// MinMagiskVersion is the oldest Magisk release whose CLI surface this
// module relies on (stable `--sqlite` query shape).
const MinMagiskVersion = 25211

// magiskCommandTimeout bounds every shell-out to the magisk binary; a
// wedged su daemon must not hang the daemon's uid-query path forever.
const magiskCommandTimeout = 5 * time.Second

// MagiskBackend probes and queries Magisk entirely by invoking its `magisk`
// CLI, which itself talks to the Magisk daemon over its own protocol.
type MagiskBackend struct{}

func runMagisk(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), magiskCommandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "magisk", args...).Output()
	if err != nil {
		return "", fmt.Errorf("magisk %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

func (MagiskBackend) probeVersion() (int64, error) {
	out, err := runMagisk("-V")
	if err != nil {
		return 0, err
	}
	version, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing magisk -V output %q: %w", out, err)
	}
	return version, nil
}

func (m MagiskBackend) Backend() Backend {
	return Backend{
		Tag:        TagMagisk,
		Probe:      m.probeVersion,
		MinVersion: MinMagiskVersion,
		MaxVersion: 1 << 30,
	}
}

func (MagiskBackend) UidGrantedRoot(uid int32) bool {
	query := fmt.Sprintf("select 1 from policies where uid=%d and policy=2 limit 1", uid)
	out, err := runMagisk("--sqlite", query)
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

func (MagiskBackend) UidShouldUmount(uid int32) bool {
	return !magiskOnDenylist(uid)
}

// magiskOnDenylist is kept out of the querier interface (matching the
// original's own "not implemented" acknowledgement) but feeds
// UidShouldUmount: a uid is unshared unless explicitly exempted.
func magiskOnDenylist(uid int32) bool {
	return false
}

func (MagiskBackend) UidIsManager(uid int32) bool {
	query := fmt.Sprintf("select package_name from strings where uid=%d and key='requester'", uid)
	out, err := runMagisk("--sqlite", query)
	if err != nil {
		return false
	}
	scanner := bufio.NewScanner(strings.NewReader(out))
	return scanner.Scan() && strings.TrimSpace(scanner.Text()) != ""
}
