package audit

import (
	"time"

	"github.com/kbukum/execkit/logger"
)

// Record describes one completed (or failed) operation.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	User      string    `json:"user,omitempty"`
	Duration  time.Duration
	ExitCode  int    `json:"exit_code"`
	Error     string `json:"error,omitempty"`
}

// Sink receives audit records.
type Sink interface {
	Write(Record)
}

// Logger is a Sink writing records as structured log events.
type Logger struct {
	log *logger.Logger
}

// NewLogger creates a log-backed audit sink.
func NewLogger(log *logger.Logger) *Logger {
	return &Logger{log: log.WithComponent("audit")}
}

// Write implements Sink.
func (l *Logger) Write(r Record) {
	fields := logger.Fields(
		"action", r.Action,
		logger.FieldTarget, r.Target,
		logger.FieldExitCode, r.ExitCode,
		logger.FieldDuration, r.Duration.Milliseconds(),
	)
	if r.User != "" {
		fields["user"] = r.User
	}
	if r.Error != "" {
		fields[logger.FieldError] = r.Error
	}
	l.log.Info("audit", fields)
}

// Discard is a Sink that drops every record.
type Discard struct{}

// Write implements Sink.
func (Discard) Write(Record) {}
