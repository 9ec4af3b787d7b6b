// Package emitter provides a minimal synchronous pub/sub primitive: named
// listeners, wildcard listeners, and in-order delivery on the caller's
// goroutine.
package emitter

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/zjrosen/taskhost/internal/log"
)

// Listener receives the arguments of a named event.
type Listener func(args ...any)

// AnyListener receives every event, name first.
type AnyListener func(name string, args ...any)

// PanicHandler is told about a listener that panicked during Emit.
type PanicHandler func(event string, recovered any)

// Option configures an Emitter.
type Option func(*Emitter)

// WithPanicHandler replaces the default handler, which logs the panic.
func WithPanicHandler(h PanicHandler) Option {
	return func(e *Emitter) {
		if h != nil {
			e.onPanic = h
		}
	}
}

// Emitter dispatches named events to registered listeners.
// Registration and emission are safe from multiple goroutines; delivery
// happens on the goroutine that calls Emit.
type Emitter struct {
	mu      sync.RWMutex
	named   map[string][]Listener
	any     []AnyListener
	onPanic PanicHandler
}

// New creates an empty Emitter.
func New(opts ...Option) *Emitter {
	e := &Emitter{
		named:   make(map[string][]Listener),
		onPanic: logPanic,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// On registers l for name. Registering the same listener twice delivers
// twice.
func (e *Emitter) On(name string, l Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.named[name] = append(e.named[name], l)
}

// OnAny registers l for every event.
func (e *Emitter) OnAny(l AnyListener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.any = append(e.any, l)
}

// Emit calls the listeners for name in registration order, then the
// wildcard listeners. A panicking listener is reported to the panic handler
// and the remaining listeners still run.
func (e *Emitter) Emit(name string, args ...any) {
	e.mu.RLock()
	named := append([]Listener(nil), e.named[name]...)
	wildcard := append([]AnyListener(nil), e.any...)
	e.mu.RUnlock()

	for _, l := range named {
		e.call(name, func() { l(args...) })
	}
	for _, l := range wildcard {
		e.call(name, func() { l(name, args...) })
	}
}

// Count returns how many named listeners are registered for name.
func (e *Emitter) Count(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.named[name])
}

func (e *Emitter) call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.onPanic(name, r)
		}
	}()
	fn()
}

func logPanic(event string, recovered any) {
	log.Error(log.CatEmitter, "Listener panic recovered",
		"event", event,
		"panic", fmt.Sprint(recovered),
		"stack", string(debug.Stack()))
}
