package rootimpl

import (
	"fmt"
	"sync"
)

// lateInit is a single-writer, many-reader cell: only the first Init call
// stores a value (later calls are ignored), and Get panics if called before
// Init. The latched root-backend tag is its only user.
type lateInit[T any] struct {
	once sync.Once
	set  bool
	mu   sync.RWMutex
	val  T
}

func (l *lateInit[T]) Init(v T) {
	l.once.Do(func() {
		l.mu.Lock()
		l.val = v
		l.set = true
		l.mu.Unlock()
	})
}

func (l *lateInit[T]) Get() T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.set {
		panic("rootimpl: Get called before Init")
	}
	return l.val
}

var currentTag lateInit[Tag]

// querierFor returns the UidQuerier implementing the four concrete
// backends; nil for every other tag.
func querierFor(tag Tag) UidQuerier {
	switch tag {
	case TagKernelSU:
		return KernelSUBackend{}
	case TagMagisk:
		return MagiskBackend{}
	case TagAPatch:
		return APatchBackend{}
	case TagKPatch:
		return KPatchBackend{}
	default:
		return nil
	}
}

// DefaultBackends lists every concrete root-solution probe in priority-
// neutral order; Resolve's tie-break logic is symmetric in its input order,
// so this list's order only affects which Supported tag callers observe
// first in debug logging, never the resolved outcome.
func DefaultBackends() []Backend {
	return []Backend{
		KernelSUBackend{}.Backend(),
		MagiskBackend{}.Backend(),
		APatchBackend{}.Backend(),
		KPatchBackend{}.Backend(),
	}
}

// Setup runs the detection algorithm once and latches the process-wide
// backend tag. It never fails: an unsupported/ambiguous environment is
// recorded as a value (TagTooOld, TagAbnormal, TagMultiple, TagNone), not
// an error, so callers can still write the corresponding status hint.
func Setup(backends []Backend) Tag {
	tag := Resolve(backends)
	currentTag.Init(tag)
	return tag
}

// GetImpl returns the tag latched by Setup. Panics if called before Setup.
func GetImpl() Tag {
	return currentTag.Get()
}

func requireSupported(tag Tag) {
	if !tag.Supported() {
		panic(fmt.Sprintf("%v: current tag is %v", ErrUnsupportedTag, tag))
	}
}

// UidGrantedRoot reports whether uid is granted root by the currently
// detected backend. Panics if GetImpl() is not one of the four supported
// concrete backends.
func UidGrantedRoot(uid int32) bool {
	tag := GetImpl()
	requireSupported(tag)
	return querierFor(tag).UidGrantedRoot(uid)
}

// UidShouldUmount reports whether uid's mount namespace should be unshared
// from the global one. Same precondition as UidGrantedRoot.
func UidShouldUmount(uid int32) bool {
	tag := GetImpl()
	requireSupported(tag)
	return querierFor(tag).UidShouldUmount(uid)
}

// UidIsManager reports whether uid is the manager app of the active root
// solution. Same precondition as UidGrantedRoot.
func UidIsManager(uid int32) bool {
	tag := GetImpl()
	requireSupported(tag)
	return querierFor(tag).UidIsManager(uid)
}
