// Package manager admits tasks under a concurrency ceiling, starts a worker
// for each one, and turns the messages workers push onto the shared queue
// into per-task events on the host loop.
//
// A Manager is confined to one goroutine: the host loop that calls AddTask,
// Cancel and Pump. Workers only touch the outbound queue.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/taskhost/internal/cachemanager"
	"github.com/zjrosen/taskhost/internal/emitter"
	"github.com/zjrosen/taskhost/internal/flags"
	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/message"
	"github.com/zjrosen/taskhost/internal/metrics"
	"github.com/zjrosen/taskhost/internal/pubsub"
	"github.com/zjrosen/taskhost/internal/queue"
	"github.com/zjrosen/taskhost/internal/task"
	"github.com/zjrosen/taskhost/internal/tracing"
	"github.com/zjrosen/taskhost/internal/worker"
)

// DefaultCeiling is the number of tasks run at once unless configured.
const DefaultCeiling = 5

// Isolation modes.
const (
	IsolationGoroutine = "goroutine"
	IsolationProcess   = "process"
)

// closeGrace bounds how long Close waits for started workers to report.
const closeGrace = 5 * time.Second

// lifecycleBuffer is the per-subscriber buffer of the lifecycle broker.
const lifecycleBuffer = 256

var (
	ErrDuplicateTask = errors.New("task already admitted")
	ErrUnknownTask   = errors.New("unknown task")
	ErrBacklogFull   = errors.New("pending backlog is full")
	ErrClosed        = errors.New("manager is closed")
	ErrNegativeLimit = errors.New("ceiling must not be negative")
)

// OutcomeLoader finds the outcome of a task that is no longer in memory.
type OutcomeLoader interface {
	FindOutcome(ctx context.Context, taskID string) (Outcome, error)
}

// OutcomeRecorder receives every finished outcome on the pump goroutine.
// Implementations must not block.
type OutcomeRecorder interface {
	RecordOutcome(o Outcome)
}

// Config configures a Manager.
type Config struct {
	// Ceiling is the maximum number of running tasks. Zero is allowed and
	// means nothing ever starts.
	Ceiling int
	// MaxPending limits waiting tasks. Zero means unlimited.
	MaxPending int
	// Isolation selects the default launcher: "goroutine" or "process".
	Isolation string
	// Launcher overrides the launcher chosen by Isolation.
	Launcher worker.Launcher
	// OutcomeTTL is how long finished outcomes stay in memory.
	OutcomeTTL time.Duration
	// History is consulted for expired outcomes when the
	// history-read-through flag is on.
	History OutcomeLoader
	// Recorder, if set, is handed each outcome as the task finishes.
	Recorder OutcomeRecorder
	Flags    *flags.Registry
	Tracer   trace.Tracer
	// Context parents every worker. Defaults to context.Background().
	Context context.Context
}

// DefaultConfig returns a config with the default ceiling and in-process
// workers.
func DefaultConfig() Config {
	return Config{
		Ceiling:    DefaultCeiling,
		Isolation:  IsolationGoroutine,
		OutcomeTTL: cachemanager.DefaultExpiration,
	}
}

type entry struct {
	worker     *worker.Worker
	kind       string
	params     map[string]string
	admittedAt time.Time
	signals    int
}

// Manager is the task manager. Use New to create one.
type Manager struct {
	ceiling    int
	maxPending int
	isolation  string
	launcher   worker.Launcher
	lifo       bool

	ctx    context.Context
	cancel context.CancelFunc

	events    *emitter.Emitter
	outbox    *queue.Queue[message.Message]
	active    map[string]*entry
	pending   *doublylinkedlist.List
	lifecycle *pubsub.Broker[Lifecycle]
	spans     *tracing.TaskSpans
	stats     metrics.Collector

	outcomes *outcomeStore
	recorder OutcomeRecorder

	pumping bool
	closed  bool
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Ceiling < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeLimit, cfg.Ceiling)
	}
	if cfg.MaxPending < 0 {
		return nil, fmt.Errorf("max pending must not be negative: %d", cfg.MaxPending)
	}

	isolation := cfg.Isolation
	if isolation == "" {
		isolation = IsolationGoroutine
	}
	launcher := cfg.Launcher
	if launcher == nil {
		switch isolation {
		case IsolationGoroutine:
			launcher = worker.GoroutineLauncher{}
		case IsolationProcess:
			launcher = &worker.ProcessLauncher{}
		default:
			return nil, fmt.Errorf("unknown isolation %q", isolation)
		}
	}

	ttl := cfg.OutcomeTTL
	if ttl <= 0 {
		ttl = cachemanager.DefaultExpiration
	}

	parent := cfg.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	m := &Manager{
		ceiling:    cfg.Ceiling,
		maxPending: cfg.MaxPending,
		isolation:  isolation,
		launcher:   launcher,
		lifo:       cfg.Flags.Enabled(flags.FlagLIFOAdmission),
		ctx:        ctx,
		cancel:     cancel,
		events:     emitter.New(),
		outbox:     queue.New[message.Message](),
		active:     make(map[string]*entry),
		pending:    doublylinkedlist.New(),
		lifecycle:  pubsub.NewBrokerWithBuffer[Lifecycle](lifecycleBuffer),
		spans:      tracing.NewTaskSpans(cfg.Tracer),
		recorder:   cfg.Recorder,
	}
	var history OutcomeLoader
	if cfg.History != nil && cfg.Flags.Enabled(flags.FlagHistoryReadThrough) {
		history = cfg.History
	}
	m.outcomes = newOutcomeStore(ttl, history)

	log.Info(log.CatManager, "Manager created",
		"ceiling", m.ceiling,
		"maxPending", m.maxPending,
		"isolation", m.isolation,
		"lifo", m.lifo)
	return m, nil
}

// TaskEventName is the name a task's signal is re-emitted under.
func TaskEventName(name, taskID string) string {
	return "event:" + name + "_" + taskID
}

// AddTask admits t. It starts a worker when a slot is free; otherwise the
// registered worker waits in the pending list. Identifiers are single use:
// a task that is active, or finished within the outcome TTL, is rejected
// with ErrDuplicateTask.
func (m *Manager) AddTask(t task.Task) error {
	if m.closed {
		return ErrClosed
	}
	if err := task.Validate(t); err != nil {
		return err
	}
	id := t.ID()
	if _, ok := m.active[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	if o, ok := m.outcomes.recent(m.ctx, id); ok {
		return fmt.Errorf("%w: %s already %s", ErrDuplicateTask, id, o.State)
	}

	running := m.Running()
	startNow := running < m.ceiling
	if !startNow && m.maxPending > 0 && m.pending.Size() >= m.maxPending {
		return fmt.Errorf("%w: %d waiting", ErrBacklogFull, m.pending.Size())
	}

	w, err := worker.New(t, m.outbox)
	if err != nil {
		return err
	}

	e := &entry{worker: w, kind: t.Kind(), params: t.Params(), admittedAt: time.Now()}
	m.active[id] = e
	m.stats.Admitted()
	m.spans.Admit(id, e.kind, m.isolation)
	m.publish(pubsub.AdmittedEvent, Lifecycle{TaskID: id, Kind: e.kind, State: StatePending})

	if startNow {
		m.start(id, e)
		return nil
	}

	m.pending.Append(id)
	m.stats.Queued()
	m.spans.Pending(id, running, m.pending.Size())
	log.Debug(log.CatManager, "Task pending",
		"taskID", id,
		"running", running,
		"pending", m.pending.Size())
	m.publish(pubsub.PendingEvent, Lifecycle{TaskID: id, Kind: e.kind, State: StatePending})
	return nil
}

func (m *Manager) start(id string, e *entry) {
	e.worker.Start(m.ctx, m.launcher)
	running := m.Running()
	m.stats.Started(running)
	m.spans.Started(id, running)
	log.Debug(log.CatManager, "Task started",
		"taskID", id,
		"kind", e.kind,
		"running", running,
		"pending", m.pending.Size())
	m.publish(pubsub.StartedEvent, Lifecycle{TaskID: id, Kind: e.kind, State: StateRunning})
}

// OnTask subscribes cb to signal name of task t. The first argument cb
// receives is the task's *worker.Worker, followed by the signal arguments.
func (m *Manager) OnTask(t task.Task, name string, cb emitter.Listener) {
	m.events.On(TaskEventName(name, t.ID()), cb)
}

// On subscribes to a fully qualified event name.
func (m *Manager) On(name string, l emitter.Listener) {
	m.events.On(name, l)
}

// OnAny subscribes to every event the manager emits.
func (m *Manager) OnAny(l emitter.AnyListener) {
	m.events.OnAny(l)
}

// Cancel stops a task. A pending task is removed and its __canceled event
// is emitted at once. A running task is told to stop; its __canceled event
// arrives through the queue like any other terminal message.
func (m *Manager) Cancel(id string) error {
	e, ok := m.active[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	if idx := m.pending.IndexOf(id); idx >= 0 {
		m.pending.Remove(idx)
		delete(m.active, id)
		log.Debug(log.CatManager, "Pending task canceled", "taskID", id)
		m.finish(id, e, StateCanceled, "")
		m.events.Emit(TaskEventName(message.EventCanceled, id), e.worker)
		return nil
	}

	log.Debug(log.CatManager, "Running task cancel requested", "taskID", id)
	e.worker.Cancel()
	return nil
}

// Running returns |active| - |pending|.
func (m *Manager) Running() int {
	return len(m.active) - m.pending.Size()
}

// PendingCount returns the number of tasks waiting for a slot.
func (m *Manager) PendingCount() int {
	return m.pending.Size()
}

// ActiveCount returns running plus pending tasks.
func (m *Manager) ActiveCount() int {
	return len(m.active)
}

// Ceiling returns the configured ceiling.
func (m *Manager) Ceiling() int {
	return m.ceiling
}

// Pending returns the waiting task ids in the order they will start.
func (m *Manager) Pending() []string {
	vals := m.pending.Values()
	ids := make([]string, 0, len(vals))
	for _, v := range vals {
		ids = append(ids, v.(string))
	}
	if m.lifo {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	return ids
}

// State returns the state of id. Finished tasks are remembered for the
// outcome TTL.
func (m *Manager) State(id string) State {
	if e, ok := m.active[id]; ok {
		if e.worker.Started() {
			return StateRunning
		}
		return StatePending
	}
	if o, ok := m.outcomes.recent(m.ctx, id); ok {
		return o.State
	}
	return StateUnknown
}

// Outcome returns what happened to id. For a live task the state is
// current and FinishedAt is zero.
func (m *Manager) Outcome(ctx context.Context, id string) (Outcome, error) {
	if e, ok := m.active[id]; ok {
		return Outcome{
			TaskID:     id,
			Kind:       e.kind,
			Params:     e.params,
			Isolation:  m.isolation,
			State:      m.State(id),
			Signals:    e.signals,
			AdmittedAt: e.admittedAt,
			StartedAt:  e.worker.StartedAt(),
		}, nil
	}
	return m.outcomes.lookup(ctx, id)
}

// Metrics returns a snapshot of the counters.
func (m *Manager) Metrics() metrics.Snapshot {
	return m.stats.Snapshot()
}

// Lifecycle returns the broker transitions are published on.
func (m *Manager) Lifecycle() *pubsub.Broker[Lifecycle] {
	return m.lifecycle
}

// Isolation returns the isolation mode label.
func (m *Manager) Isolation() string {
	return m.isolation
}

func (m *Manager) publish(t pubsub.EventType, l Lifecycle) {
	l.Running = m.Running()
	l.Pending = m.pending.Size()
	l.At = time.Now()
	m.lifecycle.Publish(t, l)
}

// Close cancels every task and stops accepting new ones. It waits a short
// grace period for started workers to exit.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()

	var started []*worker.Worker
	for id, e := range m.active {
		if e.worker.Started() {
			started = append(started, e.worker)
		}
		m.spans.End(id, string(StateCanceled), "")
	}

	deadline := time.After(closeGrace)
	for _, w := range started {
		select {
		case <-w.Done():
		case <-deadline:
			log.Warn(log.CatManager, "Worker did not exit before close deadline", "taskID", w.ID())
		}
	}

	m.outbox.Close()
	m.lifecycle.Close()
	log.Info(log.CatManager, "Manager closed",
		"abandoned", len(m.active),
		"summary", m.stats.Snapshot().FormatSummary())
}
