package zygiskdcmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/zygisksu/zygiskd/internal/config"
	"github.com/zygisksu/zygiskd/internal/watchdog"
	"github.com/zygisksu/zygiskd/internal/zygiskd"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a one-shot snapshot of both daemons and the restart tracker",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type bitnessStatus struct {
	bitness string
	reached bool
	modules []zygiskd.ModuleSummary
	err     error
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tracker := watchdog.NewRestartTracker(cfg.StateDir)
	if err := tracker.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: loading restart tracker: %v\n", err)
	}

	var statuses []bitnessStatus
	for _, bitness := range []string{watchdog.Daemon32, watchdog.Daemon64} {
		statuses = append(statuses, queryBitness(cfg, bitness))
	}

	printer := message.NewPrinter(language.English)

	if term.IsTerminal(int(os.Stdout.Fd())) {
		printTable(printer, statuses, tracker)
	} else {
		printPlain(printer, statuses, tracker)
	}
	return nil
}

func queryBitness(cfg *config.Config, bitness string) bitnessStatus {
	s := bitnessStatus{bitness: bitness}

	client, err := zygiskd.Dial(cfg.SocketPath(bitness))
	if err != nil {
		s.err = err
		return s
	}
	defer client.Close()
	s.reached = true

	modules, err := client.ReadModules()
	if err != nil {
		s.err = err
		return s
	}
	s.modules = modules
	return s
}

func printTable(p *message.Printer, statuses []bitnessStatus, tracker *watchdog.RestartTracker) {
	w := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "BITNESS\tREACHED\tMODULES\tRESTARTS\tCRASH LOOP")
	for _, s := range statuses {
		status := tracker.GetStatus(s.bitness)
		restarts, crashLoop := 0, false
		if status != nil {
			restarts, crashLoop = status.RestartCount, status.CrashLoopDetected
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%d\t%v\n",
			s.bitness, s.reached, p.Sprintf("%d module(s)", len(s.modules)), restarts, crashLoop)
	}
}

func printPlain(p *message.Printer, statuses []bitnessStatus, tracker *watchdog.RestartTracker) {
	for _, s := range statuses {
		status := tracker.GetStatus(s.bitness)
		restarts := 0
		if status != nil {
			restarts = status.RestartCount
		}
		if s.err != nil {
			fmt.Printf("%s: unreachable (%v)\n", s.bitness, s.err)
			continue
		}
		fmt.Println(p.Sprintf("%s: %d module(s) loaded, %d restart(s)", s.bitness, len(s.modules), restarts))
	}
}
