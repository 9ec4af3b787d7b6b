// Package task defines the unit of background work run by the manager.
//
// A concrete task embeds *Base and overrides Run. Run may call Emit at any
// point to report progress; those signals are what the worker forwards.
// Kind and Params let a child process rebuild an equivalent task through a
// Registry when tasks run under process isolation.
package task

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"

	"github.com/google/uuid"

	"github.com/zjrosen/taskhost/internal/emitter"
)

// ErrInvalidTask is returned when a value does not satisfy the Task contract.
var ErrInvalidTask = errors.New("invalid task")

// Params are the string parameters a task kind is built from.
type Params map[string]string

// Get returns the value for key, or def when absent or empty.
func (p Params) Get(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Task is a unit of background work.
type Task interface {
	// ID is assigned at construction and never changes.
	ID() string
	// Kind names the Registry entry that can rebuild this task.
	Kind() string
	// Params are the build parameters for Kind.
	Params() Params
	// Emitter is where the task publishes its signals.
	Emitter() *emitter.Emitter
	// Run performs the work. The return value only distinguishes failure.
	Run(ctx context.Context) error
}

// Base implements Task with a no-op Run.
type Base struct {
	id     string
	kind   string
	params Params
	events *emitter.Emitter
}

// NewBase creates a Base with a fresh identifier.
func NewBase(kind string, params Params) *Base {
	return &Base{
		id:     NewID(),
		kind:   kind,
		params: maps.Clone(params),
		events: emitter.New(),
	}
}

// NewID returns a new task identifier. Identifiers are UUIDv7 so two tasks
// created in the same instant still differ and sort by creation.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// The accessors tolerate a nil *Base so Validate can reject tasks that
// embed one without calling NewBase.

func (b *Base) ID() string {
	if b == nil {
		return ""
	}
	return b.id
}

func (b *Base) Kind() string {
	if b == nil {
		return ""
	}
	return b.kind
}

func (b *Base) Emitter() *emitter.Emitter {
	if b == nil {
		return nil
	}
	return b.events
}

func (b *Base) Run(context.Context) error { return nil }

func (b *Base) String() string {
	if b == nil {
		return "<nil task>"
	}
	return fmt.Sprintf("%s(%s)", b.kind, b.id)
}

// Params returns a copy of the build parameters.
func (b *Base) Params() Params {
	if b == nil {
		return nil
	}
	return maps.Clone(b.params)
}

// Emit publishes a signal from inside Run.
func (b *Base) Emit(name string, args ...any) {
	b.events.Emit(name, args...)
}

// OnAny subscribes to every signal the task emits.
func (b *Base) OnAny(l emitter.AnyListener) {
	b.events.OnAny(l)
}

// Validate checks the parts of the contract the type system cannot. It
// never panics: a nil pointer behind the interface, or accessors that panic,
// are reported as ErrInvalidTask.
func Validate(t Task) (err error) {
	if isNil(t) {
		return fmt.Errorf("%w: nil task", ErrInvalidTask)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %T: %v", ErrInvalidTask, t, r)
		}
	}()
	if t.ID() == "" {
		return fmt.Errorf("%w: %T has no id (construct it with NewBase)", ErrInvalidTask, t)
	}
	if t.Emitter() == nil {
		return fmt.Errorf("%w: task %s has no emitter (construct it with NewBase)", ErrInvalidTask, t.ID())
	}
	return nil
}

func isNil(t Task) bool {
	if t == nil {
		return true
	}
	v := reflect.ValueOf(t)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
