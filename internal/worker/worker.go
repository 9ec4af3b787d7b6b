// Package worker runs one task in isolation and reports everything it does
// as messages on the shared outbound queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/message"
	"github.com/zjrosen/taskhost/internal/task"
)

// Outbox is the producer side of the outbound queue.
type Outbox interface {
	Push(msg message.Message) error
}

// Launcher executes a task's Run somewhere: in this process or in a child.
// Signals must be emitted on t.Emitter() before Launch returns.
type Launcher interface {
	Launch(ctx context.Context, t task.Task) error
}

// Control is a message on a worker's inbound channel.
type Control int

const (
	// ControlCancel asks the worker to stop its task.
	ControlCancel Control = iota + 1
)

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Worker binds a task to the outbound queue. A worker is started at most
// once and always ends with exactly one terminal message.
type Worker struct {
	task    task.Task
	outbox  Outbox
	control chan Control
	done    chan struct{}

	started   atomic.Bool
	finished  atomic.Bool
	canceled  atomic.Bool
	startedAt atomic.Int64
}

// New creates a worker for t and subscribes a forwarder to every signal the
// task emits. Signals emitted before Start are forwarded too.
func New(t task.Task, outbox Outbox) (*Worker, error) {
	if err := task.Validate(t); err != nil {
		return nil, err
	}
	if outbox == nil {
		return nil, errors.New("worker requires an outbox")
	}
	w := &Worker{
		task:    t,
		outbox:  outbox,
		control: make(chan Control, 1),
		done:    make(chan struct{}),
	}
	t.Emitter().OnAny(w.forward)
	return w, nil
}

// ID returns the task identifier.
func (w *Worker) ID() string { return w.task.ID() }

// Task returns the bound task.
func (w *Worker) Task() task.Task { return w.task }

// Started reports whether Start has been called.
func (w *Worker) Started() bool { return w.started.Load() }

// StartedAt returns when Start was called, or the zero time.
func (w *Worker) StartedAt() time.Time {
	ns := w.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Done is closed after the terminal message has been pushed.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) String() string { return "worker " + w.task.ID() }

func (w *Worker) forward(name string, args ...any) {
	if w.finished.Load() {
		log.Warn(log.CatWorker, "Signal after terminal message dropped",
			"taskID", w.ID(), "name", name)
		return
	}
	w.push(message.Signal{TaskID: w.ID(), Name: name, Args: args})
}

func (w *Worker) push(msg message.Message) {
	if err := w.outbox.Push(msg); err != nil {
		log.Debug(log.CatWorker, "Outbound push rejected",
			"taskID", w.ID(), "message", message.EventName(msg), "error", err)
	}
}

// Start runs the task through l on its own goroutine and returns immediately.
// A second call is a no-op.
func (w *Worker) Start(ctx context.Context, l Launcher) {
	if !w.started.CompareAndSwap(false, true) {
		log.Warn(log.CatWorker, "Worker already started", "taskID", w.ID())
		return
	}
	w.startedAt.Store(time.Now().UnixNano())

	runCtx, cancel := context.WithCancel(ctx)
	if w.canceled.Load() {
		cancel()
	}

	go w.watchControl(runCtx, cancel)
	go w.run(runCtx, cancel, l)
}

// Cancel sends a cancel control to the worker. Safe to call from any
// goroutine, before or after Start, any number of times.
func (w *Worker) Cancel() {
	w.canceled.Store(true)
	select {
	case w.control <- ControlCancel:
	default:
	}
}

func (w *Worker) watchControl(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-w.control:
			if c == ControlCancel {
				log.Debug(log.CatWorker, "Cancel requested", "taskID", w.ID())
				cancel()
				return
			}
		}
	}
}

func (w *Worker) run(ctx context.Context, cancel context.CancelFunc, l Launcher) {
	defer close(w.done)
	defer cancel()

	err := w.launch(ctx, l)

	w.finished.Store(true)
	w.push(w.terminal(ctx, err))
}

func (w *Worker) launch(ctx context.Context, l Launcher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error(log.CatWorker, "Task panic recovered",
				"taskID", w.ID(),
				"panic", r,
				"stack", string(stack))
			err = &PanicError{Value: r, Stack: stack}
		}
	}()
	return l.Launch(ctx, w.task)
}

func (w *Worker) terminal(ctx context.Context, err error) message.Message {
	id := w.ID()
	switch {
	case err == nil:
		log.Debug(log.CatWorker, "Task completed", "taskID", id)
		return message.Completed{TaskID: id}
	case ctx.Err() != nil && (w.canceled.Load() || errors.Is(err, context.Canceled)):
		log.Debug(log.CatWorker, "Task canceled", "taskID", id)
		return message.Canceled{TaskID: id}
	default:
		log.Debug(log.CatWorker, "Task failed", "taskID", id, "reason", err.Error())
		return message.Failed{TaskID: id, Reason: err.Error()}
	}
}
