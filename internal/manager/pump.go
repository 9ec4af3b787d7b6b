package manager

import (
	"context"
	"time"

	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/message"
	"github.com/zjrosen/taskhost/internal/pubsub"
)

// Ready fires after at least one worker message was queued since the last
// Pump. Hosts wait on it and then call Pump.
func (m *Manager) Ready() <-chan struct{} {
	return m.outbox.Ready()
}

// Pump drains every queued message without blocking and dispatches each
// one. It returns the number of messages handled. Calling Pump from inside
// a listener is a no-op.
func (m *Manager) Pump() int {
	if m.pumping {
		log.Warn(log.CatPump, "Nested Pump ignored")
		return 0
	}
	m.pumping = true
	defer func() { m.pumping = false }()

	msgs := m.outbox.Drain()
	for _, msg := range msgs {
		m.dispatch(msg)
	}
	if len(msgs) > 0 {
		log.Debug(log.CatPump, "Pumped messages",
			"count", len(msgs),
			"running", m.Running(),
			"pending", m.pending.Size())
	}
	return len(msgs)
}

// Run is a host loop for callers without one. It pumps until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.Ready():
			m.Pump()
		}
	}
}

// RunUntilIdle pumps until no task is running or pending.
func (m *Manager) RunUntilIdle(ctx context.Context) error {
	for len(m.active) > 0 {
		if m.Running() == 0 && m.ceiling == 0 {
			// Nothing can ever start.
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.Ready():
			m.Pump()
		}
	}
	return nil
}

func (m *Manager) dispatch(msg message.Message) {
	id := msg.Task()
	e, ok := m.active[id]
	if !ok {
		m.stats.DroppedMessage()
		log.Warn(log.CatPump, "Message for unknown task skipped",
			"taskID", id,
			"event", message.EventName(msg))
		return
	}

	switch msg := msg.(type) {
	case message.Signal:
		e.signals++
		m.stats.Signal()
		m.spans.Signal(id, msg.Name, msg.Args)
		m.publish(pubsub.SignalEvent, Lifecycle{
			TaskID: id, Kind: e.kind, State: StateRunning, Signal: msg.Name, Args: msg.Args,
		})
		m.events.Emit(TaskEventName(msg.Name, id), append([]any{e.worker}, msg.Args...)...)

	case message.Completed:
		m.taskFinished(id, e, StateCompleted, "")
		m.events.Emit(TaskEventName(message.EventCompleted, id), e.worker)

	case message.Failed:
		m.taskFinished(id, e, StateFailed, msg.Reason)
		m.events.Emit(TaskEventName(message.EventFailed, id), e.worker, msg.Reason)

	case message.Canceled:
		m.taskFinished(id, e, StateCanceled, "")
		m.events.Emit(TaskEventName(message.EventCanceled, id), e.worker)

	default:
		log.Warn(log.CatPump, "Unhandled message type skipped", "taskID", id, "type", message.EventName(msg))
	}
}

// taskFinished frees id's slot and starts one pending task if a slot is
// free.
func (m *Manager) taskFinished(id string, e *entry, state State, reason string) {
	delete(m.active, id)
	m.finish(id, e, state, reason)

	running := m.Running()
	if running >= m.ceiling || m.pending.Empty() {
		return
	}

	idx := 0
	if m.lifo {
		idx = m.pending.Size() - 1
	}
	v, _ := m.pending.Get(idx)
	m.pending.Remove(idx)

	next := v.(string)
	if ne, ok := m.active[next]; ok {
		m.start(next, ne)
	}
}

// finish records the outcome of a task that has left active.
func (m *Manager) finish(id string, e *entry, state State, reason string) {
	o := Outcome{
		TaskID:     id,
		Kind:       e.kind,
		Params:     e.params,
		Isolation:  m.isolation,
		State:      state,
		Reason:     reason,
		Signals:    e.signals,
		AdmittedAt: e.admittedAt,
		StartedAt:  e.worker.StartedAt(),
		FinishedAt: time.Now(),
	}
	m.outcomes.put(m.ctx, o)
	if m.recorder != nil {
		m.recorder.RecordOutcome(o)
	}
	m.stats.Outcome(string(state), o.RunTime())
	m.spans.End(id, string(state), reason)

	if state == StateFailed {
		log.Warn(log.CatManager, "Task failed", "taskID", id, "kind", e.kind, "reason", reason)
	} else {
		log.Debug(log.CatManager, "Task finished", "taskID", id, "state", state, "runTime", o.RunTime())
	}
	m.publish(pubsub.FinishedEvent, Lifecycle{TaskID: id, Kind: e.kind, State: state, Reason: reason})
}
