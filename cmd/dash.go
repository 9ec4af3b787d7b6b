package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/zjrosen/taskhost/internal/flags"
	"github.com/zjrosen/taskhost/internal/ui/dashboard"
)

var (
	dashTasks    []string
	dashSpool    string
	dashExitIdle bool
)

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Run tasks with a live dashboard",
	Long: `Run tasks like "run" but show a dashboard with one progress bar per task.
The dashboard drives the task manager from its own event loop.

Keys: j/k move, x cancels the selected task, l toggles logs, q quits.`,
	RunE: runDash,
}

func init() {
	rootCmd.AddCommand(dashCmd)

	dashCmd.Flags().StringArrayVarP(&dashTasks, "task", "t", nil, "task to run (repeatable)")
	dashCmd.Flags().StringVar(&dashSpool, "spool", "", "directory to watch for job files")
	dashCmd.Flags().BoolVar(&dashExitIdle, "exit-when-idle", false, "quit once every task has finished")
}

func runDash(cmd *cobra.Command, _ []string) error {
	cleanup, err := startLogging("taskhost-dash")
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHost(ctx, cfg, hostOptions{SpoolDir: dashSpool})
	if err != nil {
		return err
	}
	defer h.Close()

	// Subscribe before admitting so the dashboard sees every transition.
	model := dashboard.New(dashboard.Config{
		Manager:      h.mgr,
		Registry:     h.registry,
		Jobs:         h.jobs,
		Flags:        flags.New(cfg.Flags),
		ExitWhenIdle: dashExitIdle,
	})
	if _, err := h.admit(dashTasks); err != nil {
		return err
	}

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running dashboard: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), h.mgr.Metrics().FormatSummary())
	return nil
}
