package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/taskhost/internal/log"
)

var (
	runTasks []string
	runSpool string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run tasks headless and print their signals",
	Long: `Run tasks without a UI. Each --task is "kind" or "kind:key=value,...".
With --spool, job files dropped into the directory are admitted as they
appear and run continues until interrupted; otherwise it exits once every
task has finished.

Example:
  taskhost run --task sleep:duration=2s --task shell:command='ls -la'
  taskhost run --ceiling 2 --isolation process --spool ./jobs`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVarP(&runTasks, "task", "t", nil, "task to run (repeatable)")
	runCmd.Flags().StringVar(&runSpool, "spool", "", "directory to watch for job files")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cleanup, err := startLogging("taskhost-run")
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHost(ctx, cfg, hostOptions{SpoolDir: runSpool})
	if err != nil {
		return err
	}
	defer h.Close()

	if len(runTasks) == 0 && h.jobs == nil {
		return errors.New("nothing to run: pass --task or --spool")
	}

	p := printer{out: cmd.OutOrStdout()}
	tasks, err := h.admit(runTasks)
	for _, t := range tasks {
		p.watch(h.mgr, t)
	}
	if err != nil {
		return err
	}

	err = hostLoop(ctx, h, p)
	fmt.Fprintln(cmd.OutOrStdout(), h.mgr.Metrics().FormatSummary())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// hostLoop pumps the manager and admits spool jobs until ctx ends or, when
// there is no spool, until nothing is left to run.
func hostLoop(ctx context.Context, h *host, p printer) error {
	for {
		if h.jobs == nil && idle(h) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.mgr.Ready():
			h.mgr.Pump()
		case j, ok := <-h.jobs:
			if !ok {
				h.jobs = nil
				continue
			}
			t, err := j.Build(h.registry)
			if err != nil {
				log.ErrorErr(log.CatSpool, "Spool job rejected", err, "file", j.Source, "kind", j.Kind)
				fmt.Fprintf(p.out, "%s: %v\n", j.Source, err)
				continue
			}
			p.watch(h.mgr, t)
			if err := h.mgr.AddTask(t); err != nil {
				fmt.Fprintf(p.out, "%s: %v\n", j.Source, err)
			}
		}
	}
}

// idle reports whether no task can make further progress.
func idle(h *host) bool {
	return h.mgr.ActiveCount() == 0 || (h.mgr.Running() == 0 && h.mgr.Ceiling() == 0)
}
