package zygiskdcmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zygisksu/zygiskd/internal/androidprop"
	"github.com/zygisksu/zygiskd/internal/config"
	"github.com/zygisksu/zygiskd/internal/control"
	"github.com/zygisksu/zygiskd/internal/telemetry"
	"github.com/zygisksu/zygiskd/internal/watchdog"
	"github.com/zygisksu/zygiskd/internal/zygiskd"
)

var daemonCmd = &cobra.Command{
	Use:       "daemon <daemon32|daemon64>",
	Short:     "Run one bitness's injection daemon (invoked by the watchdog)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{watchdog.Daemon32, watchdog.Daemon64},
	RunE:      runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

// abiForBitness picks the CPU ABI a given daemon bitness loads modules
// for. 64-bit uses the device's primary ABI; 32-bit uses the first entry
// of its ABI compatibility list, since ro.product.cpu.abi itself may
// already be a 64-bit ABI on a 64-bit-only device.
func abiForBitness(bitness string) (string, error) {
	switch bitness {
	case watchdog.Daemon64:
		return androidprop.CPUABI()
	case watchdog.Daemon32:
		raw, err := androidprop.Get("ro.product.cpu.abilist32")
		if err != nil || raw == "" {
			return "", fmt.Errorf("no 32-bit ABI available on this device")
		}
		return strings.SplitN(raw, ",", 2)[0], nil
	default:
		return "", fmt.Errorf("unknown bitness %q", bitness)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	bitness := args[0]

	if err := zygiskd.SetParentDeathSignal(); err != nil {
		return fmt.Errorf("setting parent death signal: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	abi, err := abiForBitness(bitness)
	if err != nil {
		return err
	}

	exePath, err := os.Executable()
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, fmt.Sprintf("%s: ", bitness), log.LstdFlags)

	loadResult, err := zygiskd.LoadModules(cfg.ModulesDir, abi, exePath)
	if err != nil {
		return fmt.Errorf("loading modules: %w", err)
	}
	for name, reason := range loadResult.Skipped {
		logger.Printf("skipping module %s: %s", name, reason)
	}
	logger.Printf("loaded %d module(s) for abi=%s", len(loadResult.Modules), abi)

	metrics, err := telemetry.New(bitness)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	metrics.SetLivesRemaining(int64(cfg.Restart.InitialLives))

	conn, err := control.Dial(cfg.ControlSocketPath)
	if err != nil {
		logger.Printf("dialing control socket: %v (continuing without status reporting)", err)
	}

	d := zygiskd.New(bitness, loadResult.Modules, conn, logger, metrics)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return d.Serve(ctx, cfg.SocketPath(bitness))
}
