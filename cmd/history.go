package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/zjrosen/taskhost/internal/history"
	"github.com/zjrosen/taskhost/internal/manager"
)

var (
	historyLimit int
	historyState string
	historyKind  string
	historyPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "List recorded task runs",
	Long: `List finished tasks from the history database, newest first.
Pass a task id to show a single run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs to list (0 = all)")
	historyCmd.Flags().StringVar(&historyState, "state", "", "only runs in this state (completed, failed, canceled)")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "only runs of this task kind")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete runs older than this before listing")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.History.Enabled {
		return errors.New("history is disabled (history.enabled: false)")
	}
	db, err := history.NewDB(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	runs := db.Runs()
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if len(args) == 1 {
		o, err := runs.FindOutcome(ctx, args[0])
		if err != nil {
			return err
		}
		printOutcome(out, o)
		return nil
	}

	if historyPrune > 0 {
		n, err := runs.Prune(ctx, time.Now().Add(-historyPrune).UnixMilli())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pruned %d runs\n", n)
	}

	list, err := runs.List(ctx, history.ListFilter{State: historyState, Kind: historyKind, Limit: historyLimit})
	if err != nil {
		return err
	}
	printHistory(out, list)
	return nil
}

var historyColumns = []struct {
	title string
	width int
}{
	{"FINISHED", 19},
	{"ID", 8},
	{"KIND", 10},
	{"STATE", 9},
	{"RUN", 9},
	{"WAIT", 9},
	{"REASON", 40},
}

func printHistory(w io.Writer, list []manager.Outcome) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	titles := make([]string, len(historyColumns))
	for i, c := range historyColumns {
		titles[i] = c.title
	}
	writeRow(w, titles)
	for _, o := range list {
		writeRow(w, []string{
			o.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(o.TaskID),
			o.Kind,
			string(o.State),
			o.RunTime().Round(time.Millisecond).String(),
			o.WaitTime().Round(time.Millisecond).String(),
			o.Reason,
		})
	}
}

func writeRow(w io.Writer, cells []string) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		width := historyColumns[i].width
		cell = runewidth.Truncate(strings.ReplaceAll(cell, "\n", " "), width, "…")
		if i < len(cells)-1 {
			cell = runewidth.FillRight(cell, width)
		}
		parts[i] = cell
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

func printOutcome(w io.Writer, o manager.Outcome) {
	fmt.Fprintf(w, "id:        %s\n", o.TaskID)
	fmt.Fprintf(w, "kind:      %s\n", o.Kind)
	fmt.Fprintf(w, "state:     %s\n", o.State)
	if o.Reason != "" {
		fmt.Fprintf(w, "reason:    %s\n", o.Reason)
	}
	fmt.Fprintf(w, "isolation: %s\n", o.Isolation)
	fmt.Fprintf(w, "signals:   %d\n", o.Signals)
	fmt.Fprintf(w, "admitted:  %s\n", o.AdmittedAt.Local().Format(time.RFC3339))
	if !o.StartedAt.IsZero() {
		fmt.Fprintf(w, "started:   %s\n", o.StartedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "finished:  %s\n", o.FinishedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "run time:  %s\n", o.RunTime().Round(time.Millisecond))
	fmt.Fprintf(w, "wait time: %s\n", o.WaitTime().Round(time.Millisecond))
	if len(o.Params) > 0 {
		fmt.Fprintln(w, "params:")
		for _, k := range sortedKeys(o.Params) {
			fmt.Fprintf(w, "  %s=%s\n", k, o.Params[k])
		}
	}
}
