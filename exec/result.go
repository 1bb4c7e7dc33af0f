package exec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/execkit/errors"
)

// Stream identifies one of a result's output channels.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Result holds the outcome of a completed execution. Frozen after
// construction.
type Result struct {
	// ExitCode is the process exit code. -1 when terminated by signal.
	ExitCode int
	// Signal names the terminating signal, if any.
	Signal string
	// Stdout is the captured standard output (capture/tee modes only).
	Stdout []byte
	// Stderr is the captured standard error (capture/tee modes only).
	Stderr []byte
	// Truncated is set when a captured stream exceeded the output cap.
	Truncated bool
	// StartedAt and FinishedAt bound the execution.
	StartedAt  time.Time
	FinishedAt time.Time
	// Duration is FinishedAt - StartedAt.
	Duration time.Duration
	// Command is a copy of the command that produced this result.
	Command Command
	// Target identifies the adapter binding that executed the command.
	Target string
}

// OK reports a clean zero exit with no terminating signal.
func (r *Result) OK() bool {
	return r.ExitCode == 0 && r.Signal == ""
}

// Failed is the negation of OK.
func (r *Result) Failed() bool { return !r.OK() }

// Lines splits a captured stream on LF, dropping a trailing empty line.
func (r *Result) Lines(stream Stream) []string {
	data := r.bytesFor(stream)
	if len(data) == 0 {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// JSON unmarshals a captured stream into v.
func (r *Result) JSON(stream Stream, v any) error {
	data := bytes.TrimSpace(r.bytesFor(stream))
	if len(data) == 0 {
		return errors.Parse(string(stream), fmt.Errorf("stream is empty"))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Parse(string(stream), err)
	}
	return nil
}

// Text returns a captured stream as a string with trailing newlines removed.
func (r *Result) Text(stream Stream) string {
	return strings.TrimRight(string(r.bytesFor(stream)), "\n")
}

func (r *Result) bytesFor(stream Stream) []byte {
	if stream == Stderr {
		return r.Stderr
	}
	return r.Stdout
}

// String renders a one-line summary: target, exit state, duration, and the
// head of stderr when the command failed.
func (r *Result) String() string {
	state := fmt.Sprintf("exit %d", r.ExitCode)
	if r.Signal != "" {
		state = "signal " + r.Signal
	}
	summary := fmt.Sprintf("[%s] %s (%s)", r.Target, state, r.Duration.Round(time.Millisecond))
	if r.Failed() && len(r.Stderr) > 0 {
		const head = 200
		tail := string(r.Stderr)
		if len(tail) > head {
			tail = tail[:head] + "..."
		}
		summary += ": " + strings.TrimSpace(tail)
	}
	return summary
}
