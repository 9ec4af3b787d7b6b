package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/message"
	"github.com/zjrosen/taskhost/internal/task"
)

// orphanPoll is how often a child checks that its parent is still alive.
const orphanPoll = 500 * time.Millisecond

// Serve is the child side of ProcessLauncher. It reads one request from in,
// builds the task from reg, streams its signals to out as frames and ends
// with exactly one completed or failed frame. The returned error is only
// non-nil when the frames could not be written.
func Serve(ctx context.Context, in io.Reader, out io.Writer, reg *task.Registry) error {
	fw := message.NewFrameWriter(out)

	var req message.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fw.Write(message.Frame{Type: message.FrameFailed, Reason: fmt.Sprintf("decoding request: %v", err)})
	}

	t, err := reg.Build(req.Kind, req.Params)
	if err != nil {
		return fw.Write(message.Frame{Type: message.FrameFailed, Reason: err.Error()})
	}

	var (
		mu       sync.Mutex
		writeErr error
	)
	t.Emitter().OnAny(func(name string, args ...any) {
		if err := fw.Signal(name, args...); err != nil {
			mu.Lock()
			if writeErr == nil {
				writeErr = err
			}
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchParent(ctx, cancel, os.Getppid())

	final := message.Frame{Type: message.FrameCompleted}
	if err := runRecovered(ctx, t); err != nil {
		final = message.Frame{Type: message.FrameFailed, Reason: err.Error()}
	}
	err = fw.Write(final)

	mu.Lock()
	defer mu.Unlock()
	return firstErr(writeErr, err)
}

func runRecovered(ctx context.Context, t task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatWorker, "Task panic recovered in child",
				"taskID", t.ID(),
				"panic", r,
				"stack", string(debug.Stack()))
			err = &PanicError{Value: r}
		}
	}()
	return t.Run(ctx)
}

// watchParent cancels the task when the parent goes away. Linux children
// are also killed by the parent-death signal.
func watchParent(ctx context.Context, cancel context.CancelFunc, parent int) {
	ticker := time.NewTicker(orphanPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if orphaned(parent) {
				log.Warn(log.CatWorker, "Parent exited, stopping task", "parent", parent)
				cancel()
				return
			}
		}
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
