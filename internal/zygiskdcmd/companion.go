package zygiskdcmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zygisksu/zygiskd/internal/companion"
)

var companionCmd = &cobra.Command{
	Use:    "companion <inherited-fd>",
	Short:  "Companion process entrypoint (re-exec target, not for direct use)",
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE:   runCompanion,
}

func init() {
	rootCmd.AddCommand(companionCmd)
}

func runCompanion(cmd *cobra.Command, args []string) error {
	fd, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("parsing inherited fd %q: %w", args[0], err)
	}
	return companion.Run(fd, loadNativeEntry)
}
