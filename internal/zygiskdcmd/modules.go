package zygiskdcmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/zygisksu/zygiskd/internal/config"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Inspect installed modules",
	RunE:  requireSubcommand,
}

var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed module directories",
	RunE:  runModulesList,
}

var modulesDescribeCmd = &cobra.Command{
	Use:   "describe <module>",
	Short: "Render a module's README.md",
	Args:  cobra.ExactArgs(1),
	RunE:  runModulesDescribe,
}

func init() {
	rootCmd.AddCommand(modulesCmd)
	modulesCmd.AddCommand(modulesListCmd)
	modulesCmd.AddCommand(modulesDescribeCmd)
}

func runModulesList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(cfg.ModulesDir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", cfg.ModulesDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		disabled := ""
		if _, err := os.Stat(filepath.Join(cfg.ModulesDir, entry.Name(), "disable")); err == nil {
			disabled = " (disabled)"
		}
		fmt.Printf("%s%s\n", entry.Name(), disabled)
	}
	return nil
}

func runModulesDescribe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	name := args[0]
	readmePath := filepath.Join(cfg.ModulesDir, name, "README.md")

	raw, err := os.ReadFile(readmePath)
	if err != nil {
		return fmt.Errorf("module %s has no README.md: %w", name, err)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("building markdown renderer: %w", err)
	}
	out, err := renderer.Render(string(raw))
	if err != nil {
		return fmt.Errorf("rendering %s: %w", readmePath, err)
	}
	fmt.Print(out)
	return nil
}
