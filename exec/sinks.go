package exec

import (
	"io"
	"sync"

	"github.com/kbukum/execkit/errors"
)

// Sinks are the per-execution output endpoints an adapter writes into.
// Depending on the command's IO mode each sink tees into a bounded capture
// buffer, a caller-provided writer, both, or neither.
type Sinks struct {
	Stdout *Sink
	Stderr *Sink
}

// NewSinks wires sinks for one execution. stdout and stderr are the
// caller's forward writers; they are only used in stream and tee modes and
// may be nil otherwise.
func NewSinks(cmd Command, stdout, stderr io.Writer) *Sinks {
	mode := cmd.Mode()
	capture := mode == IOCapture || mode == IOTee
	forward := mode == IOStream || mode == IOTee

	mk := func(fwd io.Writer) *Sink {
		s := &Sink{}
		if capture {
			s.buf = newTailBuffer(cmd.OutputCap())
		}
		if forward && fwd != nil {
			s.fwd = fwd
		}
		return s
	}
	return &Sinks{Stdout: mk(stdout), Stderr: mk(stderr)}
}

// Captured returns the buffered stdout and stderr and whether either
// stream was truncated by the cap.
func (s *Sinks) Captured() (stdout, stderr []byte, truncated bool) {
	return s.Stdout.Bytes(), s.Stderr.Bytes(), s.Stdout.Truncated() || s.Stderr.Truncated()
}

// OnClose registers fn to run when either sink is closed by the caller.
// Adapters use it to terminate the remote process.
func (s *Sinks) OnClose(fn func()) {
	s.Stdout.onClose = fn
	s.Stderr.onClose = fn
}

// Sink is one writable output endpoint. Writes block while the forward
// writer blocks, which is what propagates back-pressure to the transport.
type Sink struct {
	mu      sync.Mutex
	buf     *tailBuffer
	fwd     io.Writer
	closed  bool
	onClose func()
}

// Write appends to the capture buffer and the forward writer.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.IO("sink closed", io.ErrClosedPipe)
	}
	if s.buf != nil {
		s.buf.Write(p)
	}
	fwd := s.fwd
	s.mu.Unlock()

	// Forward outside the lock: a slow consumer stalls this writer (and the
	// transport read loop above it), not readers of the captured bytes.
	if fwd != nil {
		if _, err := fwd.Write(p); err != nil {
			return 0, errors.IO("forward write failed", err)
		}
	}
	return len(p), nil
}

// Close marks the sink closed and fires the registered termination hook.
// Closing is idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	fn := s.onClose
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

// Bytes returns the captured output so far.
func (s *Sink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return nil
	}
	return s.buf.Bytes()
}

// Truncated reports whether the cap dropped any bytes.
func (s *Sink) Truncated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf != nil && s.buf.truncated
}

// tailBuffer keeps the most recent max bytes written. When the cap is
// exceeded the oldest bytes are dropped and the truncated flag sticks.
type tailBuffer struct {
	max       int64
	data      []byte
	truncated bool
}

func newTailBuffer(max int64) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) {
	if int64(len(p)) > b.max {
		p = p[int64(len(p))-b.max:]
		b.truncated = true
	}
	b.data = append(b.data, p...)
	if int64(len(b.data)) > b.max {
		drop := int64(len(b.data)) - b.max
		b.data = append(b.data[:0], b.data[drop:]...)
		b.truncated = true
	}
}

func (b *tailBuffer) Bytes() []byte { return b.data }
