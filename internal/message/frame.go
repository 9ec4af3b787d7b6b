package message

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Frame types on the child's stdout.
const (
	FrameSignal    = "signal"
	FrameCompleted = "completed"
	FrameFailed    = "failed"
)

// ErrMalformedFrame is returned for a line that is not a valid frame.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the wire form of a message written by a child process, one JSON
// object per line. The task id is implied by the pipe it arrives on.
type Frame struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Args   []any  `json:"args,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Request is what the parent writes to a child's stdin.
type Request struct {
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

// ToMessage attaches the task id and converts the frame to a Message.
func (f Frame) ToMessage(taskID string) (Message, error) {
	switch f.Type {
	case FrameSignal:
		if f.Name == "" {
			return nil, fmt.Errorf("%w: signal without name", ErrMalformedFrame)
		}
		return Signal{TaskID: taskID, Name: f.Name, Args: f.Args}, nil
	case FrameCompleted:
		return Completed{TaskID: taskID}, nil
	case FrameFailed:
		return Failed{TaskID: taskID, Reason: f.Reason}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
}

// DecodeFrame parses one line.
func DecodeFrame(line []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return f, nil
}

// FrameWriter serializes frames onto w. Safe for concurrent use.
type FrameWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewFrameWriter creates a FrameWriter. json.Encoder terminates each value
// with a newline, which is the line delimiter the reader expects.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{enc: json.NewEncoder(w)}
}

// Write encodes a single frame.
func (w *FrameWriter) Write(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(f)
}

// Signal writes a signal frame. Arguments that cannot be encoded are
// replaced by their fmt representation.
func (w *FrameWriter) Signal(name string, args ...any) error {
	f := Frame{Type: FrameSignal, Name: name, Args: args}
	if _, err := json.Marshal(f.Args); err != nil {
		f.Args = make([]any, len(args))
		for i, a := range args {
			if _, err := json.Marshal(a); err != nil {
				f.Args[i] = fmt.Sprint(a)
			} else {
				f.Args[i] = a
			}
		}
	}
	return w.Write(f)
}

// FrameScanner reads frames line by line.
type FrameScanner struct {
	sc    *bufio.Scanner
	frame Frame
	err   error
	line  []byte
}

// MaxFrameSize bounds a single line.
const MaxFrameSize = 1 << 20

// NewFrameScanner creates a scanner over r.
func NewFrameScanner(r io.Reader) *FrameScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return &FrameScanner{sc: sc}
}

// Scan advances to the next non-empty line. It returns false at EOF or on a
// read error. A malformed line still returns true; check Err.
func (s *FrameScanner) Scan() bool {
	for s.sc.Scan() {
		line := s.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		s.line = append(s.line[:0], line...)
		s.frame, s.err = DecodeFrame(line)
		return true
	}
	s.frame, s.err = Frame{}, nil
	return false
}

// Frame returns the most recently decoded frame.
func (s *FrameScanner) Frame() Frame { return s.frame }

// Err returns the decode error for the current line, if any.
func (s *FrameScanner) Err() error { return s.err }

// Line returns the raw bytes of the current line.
func (s *FrameScanner) Line() []byte { return s.line }

// ReadErr returns the underlying read error after Scan returned false.
func (s *FrameScanner) ReadErr() error { return s.sc.Err() }
