package dashboard

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/taskhost/internal/manager"
	"github.com/zjrosen/taskhost/internal/task"
	"github.com/zjrosen/taskhost/internal/task/builtin"
)

// The dashboard is the only pump: tasks only finish if Update drives it.
func TestProgram_RunsTasksToCompletion(t *testing.T) {
	mgr := newTestManager(t, 1)
	m := New(Config{Manager: mgr})

	var ids []string
	for i := 0; i < 2; i++ {
		tk, err := task.Default().Build(builtin.KindSleep, task.Params{"duration": "20ms", "steps": "2"})
		require.NoError(t, err)
		require.NoError(t, mgr.AddTask(tk))
		ids = append(ids, tk.ID())
	}

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(100, 30))

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("done 2"))
	}, teatest.WithDuration(5*time.Second), teatest.WithCheckInterval(20*time.Millisecond))

	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))

	for _, id := range ids {
		require.Equal(t, manager.StateCompleted, mgr.State(id))
	}
}

func TestProgram_ExitWhenIdle(t *testing.T) {
	mgr := newTestManager(t, 2)
	m := New(Config{Manager: mgr, ExitWhenIdle: true})

	tk, err := task.Default().Build(builtin.KindFail, task.Params{"message": "nope"})
	require.NoError(t, err)
	require.NoError(t, mgr.AddTask(tk))

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(100, 30))
	tm.WaitFinished(t, teatest.WithFinalTimeout(5*time.Second))

	require.Equal(t, manager.StateFailed, mgr.State(tk.ID()))
}
