// Package zygiskdcmd implements the zygiskd CLI: the watchdog supervisor,
// the per-bitness daemon, the companion re-exec entrypoint, and the
// operator-facing status/monitor/modules commands.
package zygiskdcmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "zygiskd",
	Short: "Zygisk module loader and root-backend coordinator",
	Long: `zygiskd supervises the 32- and 64-bit injection daemons, brokers
per-module companion processes, and abstracts over the installed root
solution (KernelSU, Magisk, APatch, KPatch).`,
	SilenceUsage: true,
}

// Execute runs the root command and returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if coded, ok := asExitError(err); ok {
			return coded
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/data/adb/zygisksu/config.toml", "path to the TOML configuration overlay")
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand; run '%s --help' for usage", cmd.CommandPath())
	}
	return fmt.Errorf("unknown subcommand %q for %q", args[0], cmd.CommandPath())
}
