package zygiskdcmd

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>

typedef void (*zygiskd_companion_entry_fn)(int);

static void zygiskd_invoke_companion_entry(void *fn, int fd) {
	((zygiskd_companion_entry_fn)fn)(fd);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/zygisksu/zygiskd/internal/companion"
)

// companionEntrySymbol is the C symbol every module's shared object may
// export to receive handed-off client fds in its companion process.
const companionEntrySymbol = "zygisk_companion_entry"

// loadNativeEntry is the concrete companion.EntryLoader for this
// platform: it dlopens the sealed library at procPath and resolves
// companionEntrySymbol. A module with no such symbol is not an error;
// it simply has no companion, which companion.Run reports back to the
// daemon as a declined slot.
func loadNativeEntry(procPath string) (companion.ModuleEntry, error) {
	cPath := C.CString(procPath)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.dlopen(cPath, C.RTLD_NOW)
	if handle == nil {
		return nil, fmt.Errorf("dlopen %s: %s", procPath, C.GoString(C.dlerror()))
	}

	cSym := C.CString(companionEntrySymbol)
	defer C.free(unsafe.Pointer(cSym))

	sym := C.dlsym(handle, cSym)
	if sym == nil {
		return nil, nil
	}

	return func(fd int) {
		C.zygiskd_invoke_companion_entry(sym, C.int(fd))
	}, nil
}
