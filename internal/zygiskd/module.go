package zygiskd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zygisksu/zygiskd/internal/companion"
	"github.com/zygisksu/zygiskd/internal/wire"
)

// Module is one loaded module: its sealed library image, companion slot,
// and on-disk directory. Published once at daemon startup as part of an
// immutable slice; read concurrently by every connection worker without
// any additional locking.
type Module struct {
	Name     string
	Dir      string
	LibImage *wire.SealedLibrary
	Slot     *companion.Slot
}

// LoadResult is what LoadModules reports for diagnostics/metrics, beyond
// the modules slice itself.
type LoadResult struct {
	Modules []*Module
	Skipped map[string]string // name -> reason
}

// LoadModules enumerates modulesDir, sealing each module's ABI-matching
// shared object into an anonymous memory file. A module is skipped,
// never fatal to the daemon, when it is disabled or has no library for
// this ABI.
func LoadModules(modulesDir, abi, exePath string) (*LoadResult, error) {
	entries, err := os.ReadDir(modulesDir)
	if err != nil {
		return nil, fmt.Errorf("reading modules directory %s: %w", modulesDir, err)
	}

	result := &LoadResult{Skipped: make(map[string]string)}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		dir := filepath.Join(modulesDir, name)

		if _, err := os.Stat(filepath.Join(dir, "disable")); err == nil {
			result.Skipped[name] = "disabled"
			continue
		}

		soPath := filepath.Join(dir, "zygisk", abi+".so")
		data, err := os.ReadFile(soPath)
		if err != nil {
			result.Skipped[name] = fmt.Sprintf("no library for abi %s", abi)
			continue
		}

		sealed, err := wire.NewSealedLibrary("jit-cache", data)
		if err != nil {
			result.Skipped[name] = fmt.Sprintf("sealing library: %v", err)
			continue
		}

		result.Modules = append(result.Modules, &Module{
			Name:     name,
			Dir:      dir,
			LibImage: sealed,
			Slot:     companion.NewSlot(name, sealed, exePath),
		})
	}

	return result, nil
}
