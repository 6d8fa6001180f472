package zygiskdcmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zygisksu/zygiskd/internal/config"
	"github.com/zygisksu/zygiskd/internal/rootimpl"
	"github.com/zygisksu/zygiskd/internal/watchdog"
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Run the supervisor that spawns and restarts the injection daemons",
	RunE:  runWatchdog,
}

func init() {
	rootCmd.AddCommand(watchdogCmd)
}

func runWatchdog(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "watchdog: ", log.LstdFlags)

	wd, err := watchdog.New(cfg, logger)
	if err != nil {
		return err
	}
	defer wd.Close()

	if tag := rootimpl.GetImpl(); !tag.Supported() {
		logger.Printf("root implementation %v: nothing to supervise", tag)
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return wd.Supervise(ctx, exePath)
}
