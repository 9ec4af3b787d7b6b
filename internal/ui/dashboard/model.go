// Package dashboard is a Bubble Tea host loop for the task manager. It pumps
// the manager from Update, so listeners and admission run on the UI
// goroutine, and renders one row per task with its progress.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/taskhost/internal/flags"
	"github.com/zjrosen/taskhost/internal/keys"
	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/manager"
	"github.com/zjrosen/taskhost/internal/pubsub"
	"github.com/zjrosen/taskhost/internal/spool"
	"github.com/zjrosen/taskhost/internal/task"
)

const (
	maxLogLines  = 8
	defaultWidth = 80
)

// lifecycleTypes are the manager transitions that change a row.
var lifecycleTypes = []pubsub.EventType{
	pubsub.AdmittedEvent,
	pubsub.PendingEvent,
	pubsub.StartedEvent,
	pubsub.SignalEvent,
	pubsub.FinishedEvent,
}

// Config holds configuration for creating a dashboard Model.
type Config struct {
	Manager *manager.Manager
	// Registry builds tasks for spool jobs. Defaults to task.Default().
	Registry *task.Registry
	// Jobs, if set, is read for tasks to admit while the dashboard runs.
	Jobs  <-chan spool.Job
	Flags *flags.Registry
	// ExitWhenIdle quits once nothing is running or pending and Jobs is nil.
	ExitWhenIdle bool
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// row is what the dashboard shows for one task.
type row struct {
	id       string
	kind     string
	state    manager.State
	percent  float64
	output   string
	reason   string
	admitted time.Time
	started  time.Time
	finished time.Time
}

// jobMsg carries a spool job to Update.
type jobMsg struct{ job spool.Job }

// Model holds the dashboard state.
type Model struct {
	mgr      *manager.Manager
	registry *task.Registry
	jobs     <-chan spool.Job
	exitIdle bool
	now      func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	lifecycle *pubsub.ContinuousListener[manager.Lifecycle]
	logs      *log.LogListener

	rows     map[string]*row
	order    []string
	selected int
	logLines []string
	showLogs bool
	showHelp bool
	lastErr  string

	keys    keys.KeyMap
	help    help.Model
	spinner spinner.Model
	bar     progress.Model

	width    int
	height   int
	quitting bool
}

// New creates a dashboard model. It subscribes to the manager's lifecycle
// broker immediately so no transition after New is missed.
func New(cfg Config) Model {
	ctx, cancel := context.WithCancel(context.Background())

	reg := cfg.Registry
	if reg == nil {
		reg = task.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	m := Model{
		mgr:       cfg.Manager,
		registry:  reg,
		jobs:      cfg.Jobs,
		exitIdle:  cfg.ExitWhenIdle,
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
		lifecycle: pubsub.NewContinuousListener(ctx, cfg.Manager.Lifecycle(), lifecycleTypes...),
		rows:      make(map[string]*row),
		showLogs:  cfg.Flags.Enabled(flags.FlagDashboardLogs),
		keys:      keys.DefaultKeyMap(),
		help:      help.New(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		width:     defaultWidth,
	}
	m.bar.Width = barWidth(m.width)
	if m.showLogs {
		m.logs = log.NewListener(ctx)
	}
	return m
}

// Track adds rows for tasks admitted before the dashboard was created.
func (m *Model) Track(ts ...task.Task) {
	for _, t := range ts {
		m.ensureRow(t.ID(), t.Kind())
		r := m.rows[t.ID()]
		r.state = m.mgr.State(t.ID())
		if o, err := m.mgr.Outcome(m.ctx, t.ID()); err == nil {
			r.admitted = o.AdmittedAt
			r.started = o.StartedAt
			r.finished = o.FinishedAt
			r.reason = o.Reason
		}
	}
}

// Init starts the pump, lifecycle, spinner and optional job/log listeners.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		manager.PumpCmd(m.mgr),
		m.lifecycle.Listen(),
		m.spinner.Tick,
	}
	if m.logs != nil {
		cmds = append(cmds, m.logs.Listen())
	}
	if m.jobs != nil {
		cmds = append(cmds, m.jobCmd())
	}
	return tea.Batch(cmds...)
}

func (m Model) jobCmd() tea.Cmd {
	return pubsub.RecvCmd(m.ctx, m.jobs, func(j spool.Job) tea.Msg { return jobMsg{job: j} })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case manager.PumpMsg:
		m.mgr.Pump()
		return m, tea.Batch(manager.PumpCmd(m.mgr), m.quitIfIdle())

	case pubsub.Event[manager.Lifecycle]:
		m.applyLifecycle(msg.Type, msg.Payload)
		return m, m.lifecycle.Listen()

	case log.LogEvent:
		m.appendLog(msg.Payload)
		if m.logs == nil {
			return m, nil
		}
		return m, m.logs.Listen()

	case jobMsg:
		m.admitJob(msg.job)
		return m, m.jobCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.bar.Width = barWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.cancel()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.order)-1 {
			m.selected++
		}
	case key.Matches(msg, m.keys.Cancel):
		if id, ok := m.selectedID(); ok {
			if err := m.mgr.Cancel(id); err != nil {
				m.lastErr = err.Error()
			}
		}
	case key.Matches(msg, m.keys.ToggleLogs):
		m.showLogs = !m.showLogs
		if m.showLogs && m.logs == nil {
			m.logs = log.NewListener(m.ctx)
			if m.logs != nil {
				return m, m.logs.Listen()
			}
		}
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
	}
	return m, nil
}

func (m *Model) applyLifecycle(t pubsub.EventType, l manager.Lifecycle) {
	m.ensureRow(l.TaskID, l.Kind)
	r := m.rows[l.TaskID]

	switch t {
	case pubsub.AdmittedEvent, pubsub.PendingEvent:
		if r.admitted.IsZero() {
			r.admitted = l.At
		}
		if r.state == manager.StateUnknown {
			r.state = manager.StatePending
		}
	case pubsub.StartedEvent:
		r.state = manager.StateRunning
		r.started = l.At
	case pubsub.SignalEvent:
		r.state = manager.StateRunning
		m.applySignal(r, l.Signal, l.Args)
	case pubsub.FinishedEvent:
		r.state = l.State
		r.reason = l.Reason
		r.finished = l.At
		if l.State == manager.StateCompleted {
			r.percent = 1
		}
	}
}

func (m *Model) applySignal(r *row, name string, args []any) {
	if len(args) == 0 {
		return
	}
	switch name {
	case "progress":
		if p, ok := toPercent(args[0]); ok {
			r.percent = p
		}
	default:
		r.output = fmt.Sprint(args...)
	}
}

func (m *Model) ensureRow(id, kind string) {
	if _, ok := m.rows[id]; ok {
		return
	}
	m.rows[id] = &row{id: id, kind: kind, state: manager.StateUnknown}
	m.order = append(m.order, id)
}

func (m *Model) admitJob(j spool.Job) {
	t, err := j.Build(m.registry)
	if err != nil {
		m.lastErr = fmt.Sprintf("%s: %v", j.Source, err)
		log.ErrorErr(log.CatUI, "Spool job rejected", err, "file", j.Source, "kind", j.Kind)
		return
	}
	if err := m.mgr.AddTask(t); err != nil {
		m.lastErr = err.Error()
		log.ErrorErr(log.CatUI, "Failed to admit spool job", err, "file", j.Source)
		return
	}
	m.ensureRow(t.ID(), t.Kind())
}

func (m *Model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
}

func (m Model) quitIfIdle() tea.Cmd {
	if !m.exitIdle || m.jobs != nil || m.mgr.ActiveCount() > 0 {
		return nil
	}
	m.cancel()
	return tea.Quit
}

func (m Model) selectedID() (string, bool) {
	if m.selected < 0 || m.selected >= len(m.order) {
		return "", false
	}
	return m.order[m.selected], true
}

// Rows returns task ids in the order they appeared.
func (m Model) Rows() []string {
	return append([]string(nil), m.order...)
}

// RowState returns the state shown for id.
func (m Model) RowState(id string) manager.State {
	if r, ok := m.rows[id]; ok {
		return r.state
	}
	return manager.StateUnknown
}

// RowPercent returns the progress shown for id in [0, 1].
func (m Model) RowPercent(id string) float64 {
	if r, ok := m.rows[id]; ok {
		return r.percent
	}
	return 0
}

// toPercent accepts a 0-100 progress value. Values crossing a process
// boundary arrive as float64.
func toPercent(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case float32:
		f = float64(n)
	default:
		return 0, false
	}
	f /= 100
	switch {
	case f < 0:
		f = 0
	case f > 1:
		f = 1
	}
	return f, true
}

func barWidth(total int) int {
	w := total / 4
	if w < 10 {
		w = 10
	}
	if w > 40 {
		w = 40
	}
	return w
}
