package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zjrosen/taskhost/internal/config"
	"github.com/zjrosen/taskhost/internal/flags"
	"github.com/zjrosen/taskhost/internal/history"
	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/manager"
	"github.com/zjrosen/taskhost/internal/message"
	"github.com/zjrosen/taskhost/internal/spool"
	"github.com/zjrosen/taskhost/internal/task"
	"github.com/zjrosen/taskhost/internal/task/builtin"
	"github.com/zjrosen/taskhost/internal/tracing"
)

// host bundles a manager with the services configured around it.
type host struct {
	mgr      *manager.Manager
	registry *task.Registry
	tracer   *tracing.Provider
	db       *history.DB
	recorder *history.Recorder
	spool    *spool.Watcher
	jobs     <-chan spool.Job
}

// hostOptions are per-command inputs layered over the config.
type hostOptions struct {
	SpoolDir string
}

func newHost(ctx context.Context, c config.Config, opts hostOptions) (*host, error) {
	if err := config.Validate(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	h := &host{registry: task.Default()}
	ok := false
	defer func() {
		if !ok {
			h.Close()
		}
	}()

	tp, err := tracing.NewProvider(c.TracingConfig())
	if err != nil {
		return nil, fmt.Errorf("starting tracing: %w", err)
	}
	h.tracer = tp

	mcfg := manager.Config{
		Ceiling:    c.Ceiling,
		MaxPending: c.MaxPending,
		Isolation:  c.Isolation,
		OutcomeTTL: c.OutcomeTTL,
		Flags:      flags.New(c.Flags),
		Tracer:     tp.Tracer(),
		Context:    ctx,
	}

	if c.History.Enabled {
		db, err := history.NewDB(c.HistoryPath())
		if err != nil {
			// History is optional; run without it.
			log.ErrorErr(log.CatHistory, "History disabled", err, "path", c.HistoryPath())
		} else {
			h.db = db
			h.recorder = history.NewRecorder(db.Runs())
			mcfg.History = db.Runs()
			mcfg.Recorder = h.recorder
		}
	}

	mgr, err := manager.New(mcfg)
	if err != nil {
		return nil, err
	}
	h.mgr = mgr

	dir := opts.SpoolDir
	if dir == "" {
		dir = c.Spool.Dir
	}
	if dir != "" {
		w, err := spool.New(spool.Config{Dir: dir, DebounceDur: c.Spool.Debounce})
		if err != nil {
			return nil, err
		}
		h.spool = w
		jobs, err := w.Start()
		if err != nil {
			return nil, err
		}
		h.jobs = jobs
	}

	ok = true
	return h, nil
}

// Close stops the spool, cancels tasks, flushes history and traces.
func (h *host) Close() {
	if h.spool != nil {
		_ = h.spool.Stop()
	}
	if h.mgr != nil {
		h.mgr.Close()
	}
	if h.recorder != nil {
		h.recorder.Close()
	}
	if h.db != nil {
		_ = h.db.Close()
	}
	if h.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.tracer.Shutdown(ctx); err != nil {
			log.ErrorErr(log.CatTrace, "Tracer shutdown failed", err)
		}
	}
}

// admit builds every spec and adds it to the manager.
func (h *host) admit(specs []string) ([]task.Task, error) {
	out := make([]task.Task, 0, len(specs))
	for _, s := range specs {
		kind, params, err := parseTaskSpec(s)
		if err != nil {
			return out, err
		}
		t, err := h.registry.Build(kind, params)
		if err != nil {
			return out, fmt.Errorf("task %q: %w", s, err)
		}
		if err := h.mgr.AddTask(t); err != nil {
			return out, fmt.Errorf("task %q: %w", s, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// parseTaskSpec parses "kind" or "kind:key=value,key=value".
func parseTaskSpec(s string) (string, task.Params, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(s), ":")
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "", nil, fmt.Errorf("task spec %q: missing kind", s)
	}
	params := task.Params{}
	if strings.TrimSpace(rest) == "" {
		return kind, params, nil
	}
	for _, pair := range strings.Split(rest, ",") {
		k, v, found := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !found || k == "" {
			return "", nil, fmt.Errorf("task spec %q: expected key=value, got %q", s, pair)
		}
		params[k] = strings.TrimSpace(v)
	}
	return kind, params, nil
}

// printer writes one line per task event.
type printer struct {
	out io.Writer
}

// watch subscribes to the signals and terminal events of t.
func (p printer) watch(mgr *manager.Manager, t task.Task) {
	label := fmt.Sprintf("%s %-6s", shortID(t.ID()), t.Kind())
	for _, name := range []string{builtin.SignalProgress, builtin.SignalOutput} {
		mgr.OnTask(t, name, func(args ...any) {
			// args[0] is the worker.
			fmt.Fprintf(p.out, "%s %s %s\n", label, name, fmt.Sprint(args[1:]...))
		})
	}
	mgr.OnTask(t, message.EventCompleted, func(...any) {
		fmt.Fprintf(p.out, "%s completed\n", label)
	})
	mgr.OnTask(t, message.EventFailed, func(args ...any) {
		fmt.Fprintf(p.out, "%s failed: %v\n", label, args[len(args)-1])
	})
	mgr.OnTask(t, message.EventCanceled, func(...any) {
		fmt.Fprintf(p.out, "%s canceled\n", label)
	})
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}
