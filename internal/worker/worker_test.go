package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/taskhost/internal/message"
	"github.com/zjrosen/taskhost/internal/queue"
	"github.com/zjrosen/taskhost/internal/task"
)

type mockLauncher struct {
	mock.Mock
}

func (m *mockLauncher) Launch(ctx context.Context, t task.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

// blockingTask emits "started" then waits for ctx.
type blockingTask struct {
	*task.Base
}

func (b *blockingTask) Run(ctx context.Context) error {
	b.Emit("started")
	<-ctx.Done()
	return ctx.Err()
}

func drainUntilTerminal(t *testing.T, q *queue.Queue[message.Message], w *Worker) []message.Message {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "worker did not finish")
	}
	return q.Drain()
}

func TestNew_RejectsInvalidTask(t *testing.T) {
	q := queue.New[message.Message]()

	_, err := New(nil, q)
	require.ErrorIs(t, err, task.ErrInvalidTask)

	_, err = New(task.NewBase("noop", nil), nil)
	require.Error(t, err)
}

func TestWorker_ForwardsSignalsThenCompleted(t *testing.T) {
	q := queue.New[message.Message]()
	base := task.NewBase("scripted", nil)

	l := &mockLauncher{}
	l.On("Launch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		tk := args.Get(1).(task.Task)
		tk.Emitter().Emit("progress", 10)
		tk.Emitter().Emit("progress", 90)
	}).Return(nil).Once()

	w, err := New(base, q)
	require.NoError(t, err)
	w.Start(context.Background(), l)

	msgs := drainUntilTerminal(t, q, w)
	require.Equal(t, []message.Message{
		message.Signal{TaskID: base.ID(), Name: "progress", Args: []any{10}},
		message.Signal{TaskID: base.ID(), Name: "progress", Args: []any{90}},
		message.Completed{TaskID: base.ID()},
	}, msgs)
	l.AssertExpectations(t)
}

func TestWorker_ErrorBecomesFailed(t *testing.T) {
	q := queue.New[message.Message]()
	base := task.NewBase("scripted", nil)

	l := &mockLauncher{}
	l.On("Launch", mock.Anything, mock.Anything).Return(errors.New("exit status 2"))

	w, err := New(base, q)
	require.NoError(t, err)
	w.Start(context.Background(), l)

	msgs := drainUntilTerminal(t, q, w)
	require.Equal(t, []message.Message{message.Failed{TaskID: base.ID(), Reason: "exit status 2"}}, msgs)
}

func TestWorker_PanicBecomesFailed(t *testing.T) {
	q := queue.New[message.Message]()
	base := task.NewBase("scripted", nil)

	l := &mockLauncher{}
	l.On("Launch", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("kaboom")
	}).Return(nil)

	w, err := New(base, q)
	require.NoError(t, err)
	w.Start(context.Background(), l)

	msgs := drainUntilTerminal(t, q, w)
	require.Len(t, msgs, 1)
	failed, ok := msgs[0].(message.Failed)
	require.True(t, ok, "expected Failed, got %T", msgs[0])
	require.Equal(t, "panic: kaboom", failed.Reason)
}

func TestWorker_Cancel(t *testing.T) {
	q := queue.New[message.Message]()
	bt := &blockingTask{Base: task.NewBase("block", nil)}

	w, err := New(bt, q)
	require.NoError(t, err)
	w.Start(context.Background(), GoroutineLauncher{})

	// Wait for the task to be running before cancelling.
	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		require.FailNow(t, "task never started")
	}
	w.Cancel()

	msgs := drainUntilTerminal(t, q, w)
	require.Equal(t, message.Canceled{TaskID: bt.ID()}, msgs[len(msgs)-1])
}

func TestWorker_CancelBeforeStart(t *testing.T) {
	q := queue.New[message.Message]()
	bt := &blockingTask{Base: task.NewBase("block", nil)}

	w, err := New(bt, q)
	require.NoError(t, err)
	w.Cancel()
	w.Start(context.Background(), GoroutineLauncher{})

	msgs := drainUntilTerminal(t, q, w)
	require.Equal(t, message.Canceled{TaskID: bt.ID()}, msgs[len(msgs)-1])
}

func TestWorker_ParentContextCancels(t *testing.T) {
	q := queue.New[message.Message]()
	bt := &blockingTask{Base: task.NewBase("block", nil)}

	ctx, cancel := context.WithCancel(context.Background())
	w, err := New(bt, q)
	require.NoError(t, err)
	w.Start(ctx, GoroutineLauncher{})
	cancel()

	msgs := drainUntilTerminal(t, q, w)
	require.Equal(t, message.Canceled{TaskID: bt.ID()}, msgs[len(msgs)-1])
}

func TestWorker_StartTwiceRunsOnce(t *testing.T) {
	q := queue.New[message.Message]()
	base := task.NewBase("scripted", nil)

	l := &mockLauncher{}
	l.On("Launch", mock.Anything, mock.Anything).Return(nil).Once()

	w, err := New(base, q)
	require.NoError(t, err)
	w.Start(context.Background(), l)
	w.Start(context.Background(), l)

	msgs := drainUntilTerminal(t, q, w)
	require.Len(t, msgs, 1)
	require.True(t, w.Started())
	require.False(t, w.StartedAt().IsZero())
	l.AssertNumberOfCalls(t, "Launch", 1)
}

func TestWorker_SignalAfterTerminalDropped(t *testing.T) {
	q := queue.New[message.Message]()
	base := task.NewBase("scripted", nil)

	w, err := New(base, q)
	require.NoError(t, err)
	w.Start(context.Background(), GoroutineLauncher{})

	msgs := drainUntilTerminal(t, q, w)
	require.Equal(t, []message.Message{message.Completed{TaskID: base.ID()}}, msgs)

	base.Emit("late")
	require.Equal(t, 0, q.Len())
}

func TestWorker_SignalsBeforeStartAreForwarded(t *testing.T) {
	q := queue.New[message.Message]()
	base := task.NewBase("scripted", nil)

	_, err := New(base, q)
	require.NoError(t, err)
	base.Emit("queued", "early")

	require.Equal(t, []message.Message{
		message.Signal{TaskID: base.ID(), Name: "queued", Args: []any{"early"}},
	}, q.Drain())
}
