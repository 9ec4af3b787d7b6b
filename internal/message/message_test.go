package message

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTerminal(t *testing.T) {
	require.False(t, Signal{TaskID: "a"}.Terminal())
	require.True(t, Completed{TaskID: "a"}.Terminal())
	require.True(t, Failed{TaskID: "a"}.Terminal())
	require.True(t, Canceled{TaskID: "a"}.Terminal())
}

func TestEventName(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{Signal{TaskID: "a", Name: "progress"}, "progress"},
		{Completed{TaskID: "a"}, EventCompleted},
		{Failed{TaskID: "a", Reason: "x"}, EventFailed},
		{Canceled{TaskID: "a"}, EventCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, EventName(tt.msg))
			require.Equal(t, "a", tt.msg.Task())
		})
	}
}

func TestFrameWriter_Scanner(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)

	require.NoError(t, w.Signal("progress", 50))
	require.NoError(t, w.Write(Frame{Type: FrameFailed, Reason: "boom"}))

	sc := NewFrameScanner(&buf)

	require.True(t, sc.Scan())
	require.NoError(t, sc.Err())
	msg, err := sc.Frame().ToMessage("t1")
	require.NoError(t, err)
	// Numbers cross the boundary as float64.
	require.Equal(t, Signal{TaskID: "t1", Name: "progress", Args: []any{float64(50)}}, msg)

	require.True(t, sc.Scan())
	msg, err = sc.Frame().ToMessage("t1")
	require.NoError(t, err)
	require.Equal(t, Failed{TaskID: "t1", Reason: "boom"}, msg)

	require.False(t, sc.Scan())
	require.NoError(t, sc.ReadErr())
}

func TestFrameScanner_MalformedLineDoesNotStop(t *testing.T) {
	input := "not json\n\n{\"type\":\"completed\"}\n"
	sc := NewFrameScanner(strings.NewReader(input))

	require.True(t, sc.Scan())
	require.ErrorIs(t, sc.Err(), ErrMalformedFrame)
	require.Equal(t, "not json", string(sc.Line()))

	require.True(t, sc.Scan())
	require.NoError(t, sc.Err())
	require.Equal(t, FrameCompleted, sc.Frame().Type)

	require.False(t, sc.Scan())
}

func TestFrame_ToMessageRejects(t *testing.T) {
	_, err := Frame{Type: "bogus"}.ToMessage("t")
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = Frame{Type: FrameSignal}.ToMessage("t")
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFrameWriter_UnencodableArgs(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)

	require.NoError(t, w.Signal("weird", make(chan int), "ok"))

	f, err := DecodeFrame(bytes.TrimSpace(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, f.Args, 2)
	require.IsType(t, "", f.Args[0])
	require.Equal(t, "ok", f.Args[1])
}
