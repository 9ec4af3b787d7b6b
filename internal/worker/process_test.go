package worker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/taskhost/internal/message"
	"github.com/zjrosen/taskhost/internal/queue"
	"github.com/zjrosen/taskhost/internal/task"
	"github.com/zjrosen/taskhost/internal/task/builtin"
)

const childEnv = "TASKHOST_WORKER_TEST_CHILD"

// childRegistry holds the kinds the re-executed test binary can build.
func childRegistry() *task.Registry {
	r := task.NewRegistry()
	builtin.RegisterAll(r)
	r.Register("garbage", func(p task.Params) (task.Task, error) { return &garbageTask{Base: task.NewBase("garbage", p)}, nil })
	r.Register("crash", func(p task.Params) (task.Task, error) { return &crashTask{Base: task.NewBase("crash", p)}, nil })
	return r
}

// garbageTask writes a line that is not a frame straight to stdout.
type garbageTask struct{ *task.Base }

func (g *garbageTask) Run(context.Context) error {
	fmt.Fprintln(os.Stdout, "this is not json")
	g.Emit("after", "garbage")
	return nil
}

// crashTask exits the child without a terminal frame.
type crashTask struct{ *task.Base }

func (c *crashTask) Run(context.Context) error {
	c.Emit("about-to-crash")
	fmt.Fprintln(os.Stderr, "fatal: simulated crash")
	os.Exit(3)
	return nil
}

func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		if err := Serve(context.Background(), os.Stdin, os.Stdout, childRegistry()); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func testProcessLauncher() *ProcessLauncher {
	return &ProcessLauncher{
		Executable: os.Args[0],
		Args:       []string{"-test.run=^$"},
		Env:        []string{childEnv + "=1"},
	}
}

func runInChild(t *testing.T, tk task.Task) []message.Message {
	t.Helper()
	q := queue.New[message.Message]()
	w, err := New(tk, q)
	require.NoError(t, err)
	w.Start(context.Background(), testProcessLauncher())
	return drainUntilTerminal(t, q, w)
}

func TestProcessLauncher_Sleep(t *testing.T) {
	tk, err := builtin.NewSleep(task.Params{"duration": "50ms", "steps": "2"})
	require.NoError(t, err)

	msgs := runInChild(t, tk)
	require.Equal(t, []message.Message{
		message.Signal{TaskID: tk.ID(), Name: builtin.SignalProgress, Args: []any{float64(0)}},
		message.Signal{TaskID: tk.ID(), Name: builtin.SignalProgress, Args: []any{float64(50)}},
		message.Signal{TaskID: tk.ID(), Name: builtin.SignalProgress, Args: []any{float64(100)}},
		message.Completed{TaskID: tk.ID()},
	}, msgs)
}

func TestProcessLauncher_FailReason(t *testing.T) {
	tk := builtin.NewFail(task.Params{"message": "no space left"})

	msgs := runInChild(t, tk)
	require.Equal(t, message.Failed{TaskID: tk.ID(), Reason: "no space left"}, msgs[len(msgs)-1])
}

func TestProcessLauncher_Panic(t *testing.T) {
	tk := builtin.NewPanic(task.Params{"message": "bad state"})

	msgs := runInChild(t, tk)
	require.Equal(t, message.Failed{TaskID: tk.ID(), Reason: "panic: bad state"}, msgs[len(msgs)-1])
}

func TestProcessLauncher_MalformedLineSkipped(t *testing.T) {
	tk := &garbageTask{Base: task.NewBase("garbage", nil)}

	msgs := runInChild(t, tk)
	require.Equal(t, []message.Message{
		message.Signal{TaskID: tk.ID(), Name: "after", Args: []any{"garbage"}},
		message.Completed{TaskID: tk.ID()},
	}, msgs)
}

func TestProcessLauncher_CrashWithoutResult(t *testing.T) {
	tk := &crashTask{Base: task.NewBase("crash", nil)}

	msgs := runInChild(t, tk)
	require.Len(t, msgs, 2)
	failed, ok := msgs[1].(message.Failed)
	require.True(t, ok, "expected Failed, got %T", msgs[1])
	require.Contains(t, failed.Reason, ErrNoResult.Error())
	require.Contains(t, failed.Reason, "simulated crash")
}

func TestProcessLauncher_UnknownKind(t *testing.T) {
	tk := task.NewBase("not-registered", nil)

	msgs := runInChild(t, tk)
	require.Len(t, msgs, 1)
	failed, ok := msgs[0].(message.Failed)
	require.True(t, ok)
	require.True(t, strings.Contains(failed.Reason, task.ErrUnknownKind.Error()))
}

func TestProcessLauncher_Cancel(t *testing.T) {
	tk, err := builtin.NewSleep(task.Params{"duration": "30s"})
	require.NoError(t, err)

	q := queue.New[message.Message]()
	w, err := New(tk, q)
	require.NoError(t, err)
	w.Start(context.Background(), testProcessLauncher())

	select {
	case <-q.Ready():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "child never reported progress")
	}
	w.Cancel()

	msgs := drainUntilTerminal(t, q, w)
	require.Equal(t, message.Canceled{TaskID: tk.ID()}, msgs[len(msgs)-1])
}

func TestServe_BadRequest(t *testing.T) {
	var out strings.Builder
	err := Serve(context.Background(), strings.NewReader("{"), &out, childRegistry())
	require.NoError(t, err)

	f, err := message.DecodeFrame([]byte(strings.TrimSpace(out.String())))
	require.NoError(t, err)
	require.Equal(t, message.FrameFailed, f.Type)
	require.Contains(t, f.Reason, "decoding request")
}

func TestServe_InProcess(t *testing.T) {
	var out strings.Builder
	in := strings.NewReader(`{"kind":"sleep","params":{"duration":"1ms","steps":"1"}}`)
	require.NoError(t, Serve(context.Background(), in, &out, childRegistry()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	last, err := message.DecodeFrame([]byte(lines[2]))
	require.NoError(t, err)
	require.Equal(t, message.FrameCompleted, last.Type)
}
