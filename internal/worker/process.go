package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/taskhost/internal/log"
	"github.com/zjrosen/taskhost/internal/message"
	"github.com/zjrosen/taskhost/internal/task"
)

// DefaultWaitDelay bounds how long Wait blocks on the child's pipes after the
// child has been killed.
const DefaultWaitDelay = 2 * time.Second

// stderrTail is how many trailing stderr lines are kept for failure reasons.
const stderrTail = 5

// ErrNoResult is returned when a child exits without a terminal frame.
var ErrNoResult = errors.New("child exited without a result")

// ChildError is a failure reported by the child in a failed frame.
type ChildError struct {
	Reason string
}

func (e *ChildError) Error() string { return e.Reason }

// CommandFactory creates the child command. Tests substitute it.
type CommandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd

// ProcessLauncher runs each task in a child process that re-executes a
// taskhost binary. The child rebuilds the task from its kind and params,
// so the task's kind must be registered in the child.
type ProcessLauncher struct {
	// Executable is the binary to run. Defaults to os.Executable().
	Executable string
	// Args are passed to the binary. Defaults to ["worker"].
	Args []string
	// Env is appended to the parent's environment.
	Env []string
	// WaitDelay overrides DefaultWaitDelay.
	WaitDelay time.Duration
	// CommandFactory overrides exec.CommandContext.
	CommandFactory CommandFactory
}

func (p *ProcessLauncher) command(ctx context.Context) (*exec.Cmd, error) {
	exe := p.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving executable: %w", err)
		}
	}
	args := p.Args
	if args == nil {
		args = []string{"worker"}
	}

	var cmd *exec.Cmd
	if p.CommandFactory != nil {
		cmd = p.CommandFactory(ctx, exe, args...)
	} else {
		// #nosec G204 -- executable is this binary or an explicit override
		cmd = exec.CommandContext(ctx, exe, args...)
	}
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	cmd.WaitDelay = DefaultWaitDelay
	if p.WaitDelay > 0 {
		cmd.WaitDelay = p.WaitDelay
	}
	configureChild(cmd)
	return cmd, nil
}

// Launch starts the child, sends the task request, and re-emits every
// signal frame on t.Emitter(). It returns after the child has exited.
func (p *ProcessLauncher) Launch(ctx context.Context, t task.Task) error {
	cmd, err := p.command(ctx)
	if err != nil {
		return err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start child: %w", err)
	}
	log.Debug(log.CatWorker, "Child started",
		"taskID", t.ID(),
		"kind", t.Kind(),
		"pid", cmd.Process.Pid)

	req := message.Request{Kind: t.Kind(), Params: t.Params()}
	if err := json.NewEncoder(stdin).Encode(req); err != nil {
		log.ErrorErr(log.CatWorker, "Failed to send request to child", err, "taskID", t.ID())
	}
	_ = stdin.Close()

	tail := newLineTail(stderrTail)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tail.consume(stderr, t.ID())
	}()

	gotResult, result := readFrames(stdout, t)
	wg.Wait()
	waitErr := cmd.Wait()

	log.Debug(log.CatWorker, "Child exited",
		"taskID", t.ID(),
		"pid", cmd.Process.Pid,
		"error", waitErr)

	if gotResult {
		return result
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	reason := ErrNoResult
	if waitErr != nil {
		reason = fmt.Errorf("%w: %w", ErrNoResult, waitErr)
	}
	if s := tail.String(); s != "" {
		return fmt.Errorf("%w (stderr: %s)", reason, s)
	}
	return reason
}

// readFrames consumes stdout until EOF. Frames after the terminal one are
// ignored. Malformed lines are logged and skipped.
func readFrames(r io.Reader, t task.Task) (gotResult bool, result error) {
	sc := message.NewFrameScanner(r)
	for sc.Scan() {
		if err := sc.Err(); err != nil {
			log.Warn(log.CatWorker, "Skipping malformed child line",
				"taskID", t.ID(), "line", string(sc.Line()), "error", err)
			continue
		}
		if gotResult {
			log.Warn(log.CatWorker, "Frame after terminal frame ignored",
				"taskID", t.ID(), "type", sc.Frame().Type)
			continue
		}

		f := sc.Frame()
		switch f.Type {
		case message.FrameSignal:
			if f.Name == "" {
				log.Warn(log.CatWorker, "Skipping signal without name", "taskID", t.ID())
				continue
			}
			t.Emitter().Emit(f.Name, f.Args...)
		case message.FrameCompleted:
			gotResult = true
		case message.FrameFailed:
			result, gotResult = &ChildError{Reason: f.Reason}, true
		default:
			log.Warn(log.CatWorker, "Skipping unknown frame type",
				"taskID", t.ID(), "type", f.Type)
		}
	}
	if err := sc.ReadErr(); err != nil {
		log.ErrorErr(log.CatWorker, "Reading child output failed", err, "taskID", t.ID())
		// Drain so the child does not block on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	return gotResult, result
}

type lineTail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newLineTail(n int) *lineTail { return &lineTail{max: n} }

func (l *lineTail) consume(r io.Reader, taskID string) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		log.Debug(log.CatWorker, "Child stderr", "taskID", taskID, "line", line)
		l.mu.Lock()
		l.lines = append(l.lines, line)
		if len(l.lines) > l.max {
			l.lines = l.lines[1:]
		}
		l.mu.Unlock()
	}
}

func (l *lineTail) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, " | ")
}
