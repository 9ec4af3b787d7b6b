// Package message defines what workers push onto the outbound queue and how
// those messages travel as JSON lines out of a child process.
package message

import "fmt"

// Reserved event names for terminal messages.
const (
	EventCompleted = "__completed"
	EventFailed    = "__failed"
	EventCanceled  = "__canceled"
)

// Message is one entry on the outbound queue. The concrete types are
// Signal, Completed, Failed and Canceled.
type Message interface {
	// Task returns the identifier of the task the message belongs to.
	Task() string
	// Terminal reports whether this is the last message of its worker.
	Terminal() bool
}

// Signal is a named event emitted by a running task.
type Signal struct {
	TaskID string
	Name   string
	Args   []any
}

// Completed reports that a task's Run returned without error.
type Completed struct {
	TaskID string
}

// Failed reports that a task returned an error, panicked, or its child died.
type Failed struct {
	TaskID string
	Reason string
}

// Canceled reports that a running task stopped after Cancel.
type Canceled struct {
	TaskID string
}

func (m Signal) Task() string    { return m.TaskID }
func (m Completed) Task() string { return m.TaskID }
func (m Failed) Task() string    { return m.TaskID }
func (m Canceled) Task() string  { return m.TaskID }

func (Signal) Terminal() bool    { return false }
func (Completed) Terminal() bool { return true }
func (Failed) Terminal() bool    { return true }
func (Canceled) Terminal() bool  { return true }

// EventName returns the name a message is re-emitted under before the
// per-task suffix is applied.
func EventName(m Message) string {
	switch m := m.(type) {
	case Signal:
		return m.Name
	case Completed:
		return EventCompleted
	case Failed:
		return EventFailed
	case Canceled:
		return EventCanceled
	default:
		return fmt.Sprintf("%T", m)
	}
}
