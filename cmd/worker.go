package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/task"
	"github.com/zjrosen/taskhost/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one task from stdin (used by process isolation)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cleanup, err := startLogging("taskhost-worker")
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Debug(log.CatWorker, "Child worker started", "pid", os.Getpid())
		return worker.Serve(ctx, os.Stdin, os.Stdout, task.Default())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
