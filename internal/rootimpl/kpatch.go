package rootimpl

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// KPatchVerCode is the minimum kpatch CLI version this module supports.
// KPatch has no upper-bound/abnormal tier in the original implementation;
// anything at or above this is Supported, anything below is TooOld.
const KPatchVerCode = 2

const kpatchCommandTimeout = 5 * time.Second

// KPatchBackend drives the `kpatch` CLI, authenticating privileged
// sub-commands with the superkey from the SUPERKEY environment variable.
type KPatchBackend struct{}

func runKPatch(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), kpatchCommandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "kpatch", args...).Output()
	if err != nil {
		return "", fmt.Errorf("kpatch %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

func (KPatchBackend) probeVersion() (int64, error) {
	out, err := runKPatch("-v")
	if err != nil {
		return 0, err
	}
	version, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing kpatch -v output %q: %w", out, err)
	}
	return version, nil
}

func (k KPatchBackend) Backend() Backend {
	return Backend{
		Tag:        TagKPatch,
		Probe:      k.probeVersion,
		MinVersion: KPatchVerCode,
		MaxVersion: 1 << 30,
	}
}

func sumgrList() (string, error) {
	key := os.Getenv("SUPERKEY")
	if key == "" {
		return "", fmt.Errorf("SUPERKEY not set in environment")
	}
	return runKPatch(key, "sumgr", "list")
}

func (KPatchBackend) UidGrantedRoot(uid int32) bool {
	out, err := sumgrList()
	if err != nil {
		return false
	}
	want := strconv.FormatInt(int64(uid), 10)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == want {
			return true
		}
	}
	return false
}

// UidShouldUmount inverts UidGrantedRoot's membership test: a uid listed by
// sumgr is a granted superuser and keeps its mount namespace; anything else
// is unshared.
func (KPatchBackend) UidShouldUmount(uid int32) bool {
	return !KPatchBackend{}.UidGrantedRoot(uid)
}

// UidIsManager has no dedicated kpatch query in the original implementation;
// kpatch authenticates via SUPERKEY rather than a manager app uid.
func (KPatchBackend) UidIsManager(uid int32) bool {
	return false
}
