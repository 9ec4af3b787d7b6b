package log

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLog_FormatsFields(t *testing.T) {
	var buf syncBuffer
	cleanup := InitWithWriter(&buf)
	defer cleanup()

	Info(CatManager, "task admitted", "taskID", "t-1", "running", 2)

	out := buf.String()
	require.Contains(t, out, "[INFO] [manager] task admitted")
	require.Contains(t, out, "taskID=t-1")
	require.Contains(t, out, "running=2")
	require.True(t, strings.HasSuffix(out, "\n"))
}

func TestLog_OddFieldCount(t *testing.T) {
	var buf syncBuffer
	cleanup := InitWithWriter(&buf)
	defer cleanup()

	Warn(CatPump, "skipped", "orphan")

	require.Contains(t, buf.String(), "orphan=<missing>")
}

func TestLog_MinLevel(t *testing.T) {
	var buf syncBuffer
	cleanup := InitWithWriter(&buf)
	defer cleanup()

	SetMinLevel(LevelWarn)
	Debug(CatTask, "hidden")
	Error(CatTask, "shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "shown")
}

func TestLog_ErrorErr(t *testing.T) {
	var buf syncBuffer
	cleanup := InitWithWriter(&buf)
	defer cleanup()

	ErrorErr(CatWorker, "spawn failed", nil, "taskID", "t-2")

	require.Contains(t, buf.String(), "error=<nil>")
}

func TestLog_Disabled(t *testing.T) {
	var buf syncBuffer
	cleanup := InitWithWriter(&buf)
	defer cleanup()

	SetEnabled(false)
	Info(CatConfig, "nothing")
	require.Empty(t, buf.String())
}

func TestLog_NoLoggerIsNoop(t *testing.T) {
	require.NotPanics(t, func() {
		Info(CatUI, "no sink installed")
	})
}

func TestLog_ListenerReceivesEntries(t *testing.T) {
	var buf syncBuffer
	cleanup := InitWithWriter(&buf)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewListener(ctx)
	require.NotNil(t, listener)

	Info(CatSpool, "job picked up", "path", "a.yaml")

	done := make(chan LogEvent, 1)
	go func() {
		if ev, ok := listener.Listen()().(LogEvent); ok {
			done <- ev
		}
	}()

	select {
	case ev := <-done:
		require.Contains(t, ev.Payload, "job picked up")
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for log event")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"bogus", LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}
