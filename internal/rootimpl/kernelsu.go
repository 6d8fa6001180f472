package rootimpl

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const kernelSUOption = 0xdeadbeef

const (
	kernelSUCmdGetVersion      = 2
	kernelSUCmdUidGrantedRoot  = 12
	kernelSUCmdUidShouldUmount = 13
)

// Compiled-in supported version range for the kernel module's own
// self-reported protocol version, not the Android app's version.
const (
	MinKernelSUVersion = 10940
	MaxKernelSUVersion = 19999
)

// KernelSUBackend queries the running kernel directly through the
// KernelSU prctl backdoor; no userspace binary is involved.
type KernelSUBackend struct{}

func (KernelSUBackend) probeVersion() (int64, error) {
	var version int32
	if err := unix.Prctl(kernelSUOption, kernelSUCmdGetVersion, uintptr(unsafe.Pointer(&version)), 0, 0); err != nil {
		return 0, fmt.Errorf("kernelsu get_version prctl: %w", err)
	}
	return int64(version), nil
}

// Backend builds the generic Backend descriptor consumed by Resolve.
func (k KernelSUBackend) Backend() Backend {
	return Backend{
		Tag:        TagKernelSU,
		Probe:      k.probeVersion,
		MinVersion: MinKernelSUVersion,
		MaxVersion: MaxKernelSUVersion,
	}
}

// uidQuery issues a KernelSU uid-predicate prctl. The kernel writes the
// boolean result into out and echoes the magic option word into a result
// slot; if that echo does not match, the query is treated as failed.
func uidQuery(cmd int, uid int32, out *bool) bool {
	var result uint32
	err := unix.Prctl(kernelSUOption, cmd, uintptr(uid), uintptr(unsafe.Pointer(out)), uintptr(unsafe.Pointer(&result)))
	if err != nil || result != kernelSUOption {
		return false
	}
	return *out
}

func (KernelSUBackend) UidGrantedRoot(uid int32) bool {
	var granted bool
	return uidQuery(kernelSUCmdUidGrantedRoot, uid, &granted)
}

func (KernelSUBackend) UidShouldUmount(uid int32) bool {
	var umount bool
	return uidQuery(kernelSUCmdUidShouldUmount, uid, &umount)
}

// UidIsManager always reports false here. Upstream KernelSU does dispatch
// this to a per-uid kernel query like the other backends' manager checks,
// but the ioctl command code for it did not make it into this backend's
// retrieved reference source, so there is nothing to query against yet.
func (KernelSUBackend) UidIsManager(uid int32) bool {
	return false
}
