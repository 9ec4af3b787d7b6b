// Package builtin provides the task kinds every taskhost binary understands.
// Importing the package registers them in task.Default().
package builtin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/task"
)

// Kind names.
const (
	KindSleep = "sleep"
	KindShell = "shell"
	KindFail  = "fail"
	KindPanic = "panic"
)

// Signal names emitted by the built-in kinds.
const (
	SignalProgress = "progress"
	SignalOutput   = "output"
)

func init() {
	RegisterAll(task.Default())
}

// RegisterAll adds the built-in kinds to r.
func RegisterAll(r *task.Registry) {
	r.Register(KindSleep, func(p task.Params) (task.Task, error) { return NewSleep(p) })
	r.Register(KindShell, func(p task.Params) (task.Task, error) { return NewShell(p) })
	r.Register(KindFail, func(p task.Params) (task.Task, error) { return NewFail(p), nil })
	r.Register(KindPanic, func(p task.Params) (task.Task, error) { return NewPanic(p), nil })
}

// Sleep waits for a duration, emitting progress percentages.
type Sleep struct {
	*task.Base
	Duration time.Duration
	Steps    int
}

// NewSleep builds a sleep task from params "duration" (default 1s) and
// "steps" (default 10).
func NewSleep(p task.Params) (*Sleep, error) {
	d, err := time.ParseDuration(p.Get("duration", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return nil, fmt.Errorf("invalid duration: %s is negative", d)
	}
	steps, err := strconv.Atoi(p.Get("steps", "10"))
	if err != nil || steps < 1 {
		return nil, fmt.Errorf("invalid steps: %q", p["steps"])
	}
	return &Sleep{Base: task.NewBase(KindSleep, p), Duration: d, Steps: steps}, nil
}

// Run emits progress 0..100 in Steps increments.
func (s *Sleep) Run(ctx context.Context) error {
	interval := s.Duration / time.Duration(s.Steps)
	s.Emit(SignalProgress, 0)

	ticker := time.NewTicker(max(interval, time.Millisecond))
	defer ticker.Stop()

	for i := 1; i <= s.Steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Emit(SignalProgress, i*100/s.Steps)
		}
	}
	return nil
}

// Shell runs a command through sh -c and emits each output line.
type Shell struct {
	*task.Base
	Command string
}

// NewShell builds a shell task from param "command".
func NewShell(p task.Params) (*Shell, error) {
	cmd := p.Get("command", "")
	if cmd == "" {
		return nil, errors.New("shell task requires a command")
	}
	return &Shell{Base: task.NewBase(KindShell, p), Command: cmd}, nil
}

// Run streams stdout and stderr. Lines from the two pipes may interleave in
// any order; stderr lines carry a "[stderr] " prefix.
func (s *Shell) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", s.Command)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}
	log.Debug(log.CatTask, "Shell task started", "taskID", s.ID(), "pid", cmd.Process.Pid)

	// Emit is serialized so listeners see whole lines one at a time.
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.stream(stdout, "", &mu)
	}()
	go func() {
		defer wg.Done()
		s.stream(stderr, "[stderr] ", &mu)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func (s *Shell) stream(r io.Reader, prefix string, mu *sync.Mutex) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		mu.Lock()
		s.Emit(SignalOutput, prefix+scanner.Text())
		mu.Unlock()
	}
}

// Fail reports progress once and then returns an error.
type Fail struct {
	*task.Base
	Message string
}

// NewFail builds a fail task from param "message".
func NewFail(p task.Params) *Fail {
	return &Fail{Base: task.NewBase(KindFail, p), Message: p.Get("message", "task failed")}
}

func (f *Fail) Run(context.Context) error {
	f.Emit(SignalProgress, 0)
	return errors.New(f.Message)
}

// Panic panics inside Run.
type Panic struct {
	*task.Base
	Message string
}

// NewPanic builds a panic task from param "message".
func NewPanic(p task.Params) *Panic {
	return &Panic{Base: task.NewBase(KindPanic, p), Message: p.Get("message", "task panicked")}
}

func (p *Panic) Run(context.Context) error {
	panic(p.Message)
}
