package pubsub

import (
	"context"
	"slices"

	tea "github.com/charmbracelet/bubbletea"
)

// RecvCmd waits for one value on ch and hands it to Update as wrap(v).
// It yields nil once ctx is done or ch is closed, which ends the chain of
// re-armed commands.
func RecvCmd[T any](ctx context.Context, ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			return wrap(v)
		}
	}
}

// ListenCmd waits for the next event on ch and returns it as the message.
func ListenCmd[T any](ctx context.Context, ch <-chan Event[T]) tea.Cmd {
	return RecvCmd(ctx, ch, func(e Event[T]) tea.Msg { return e })
}

// ContinuousListener keeps one broker subscription alive across Update
// calls. Listen must be called again after each delivered event.
type ContinuousListener[T any] struct {
	ctx   context.Context
	ch    <-chan Event[T]
	types []EventType
}

// NewContinuousListener subscribes to broker for the lifetime of ctx. When
// types are given only events of those types are delivered; the rest are
// consumed and skipped.
func NewContinuousListener[T any](ctx context.Context, broker *Broker[T], types ...EventType) *ContinuousListener[T] {
	return &ContinuousListener[T]{
		ctx:   ctx,
		ch:    broker.Subscribe(ctx),
		types: types,
	}
}

// Listen returns a command that yields the next wanted event.
func (l *ContinuousListener[T]) Listen() tea.Cmd {
	if len(l.types) == 0 {
		return ListenCmd(l.ctx, l.ch)
	}
	return func() tea.Msg {
		for {
			select {
			case <-l.ctx.Done():
				return nil
			case e, ok := <-l.ch:
				if !ok {
					return nil
				}
				if slices.Contains(l.types, e.Type) {
					return e
				}
			}
		}
	}
}
