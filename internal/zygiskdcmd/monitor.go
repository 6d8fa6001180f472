package zygiskdcmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zygisksu/zygiskd/internal/config"
	"github.com/zygisksu/zygiskd/internal/watchdog"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll both daemons every second and show their modules and restart counts",
	RunE:  runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

var (
	monitorHeaderStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	monitorOkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	monitorBadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type monitorModel struct {
	cfg      *config.Config
	tracker  *watchdog.RestartTracker
	statuses map[string]bitnessStatus
	width    int
}

type monitorTickMsg time.Time
type monitorRefreshMsg map[string]bitnessStatus

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	tracker := watchdog.NewRestartTracker(cfg.StateDir)
	_ = tracker.Load()

	m := &monitorModel{cfg: cfg, tracker: tracker, statuses: map[string]bitnessStatus{}}
	_, err = tea.NewProgram(m).Run()
	return err
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tea.SetWindowTitle("zygiskd monitor"))
}

func (m *monitorModel) refresh() tea.Cmd {
	cfg := m.cfg
	return func() tea.Msg {
		result := map[string]bitnessStatus{}
		for _, bitness := range []string{watchdog.Daemon32, watchdog.Daemon64} {
			result[bitness] = queryBitness(cfg, bitness)
		}
		return monitorRefreshMsg(result)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" || msg.String() == "esc" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case monitorRefreshMsg:
		m.statuses = msg
		return m, tick()
	case monitorTickMsg:
		return m, m.refresh()
	}
	return m, nil
}

func (m *monitorModel) View() string {
	var b strings.Builder
	b.WriteString(monitorHeaderStyle.Render("zygiskd monitor") + "  (q to quit)\n\n")

	for _, bitness := range []string{watchdog.Daemon32, watchdog.Daemon64} {
		s, ok := m.statuses[bitness]
		if !ok {
			fmt.Fprintf(&b, "%s: waiting for first probe...\n", bitness)
			continue
		}
		status := m.tracker.GetStatus(bitness)
		restarts := 0
		if status != nil {
			restarts = status.RestartCount
		}

		if !s.reached {
			fmt.Fprintf(&b, "%s  %s  restarts=%d\n", bitness, monitorBadStyle.Render("unreachable"), restarts)
			continue
		}
		fmt.Fprintf(&b, "%s  %s  modules=%d  restarts=%d\n",
			bitness, monitorOkStyle.Render("live"), len(s.modules), restarts)
		for _, mod := range s.modules {
			fmt.Fprintf(&b, "    - %s\n", mod.Name)
		}
	}
	return b.String()
}
