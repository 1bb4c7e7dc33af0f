package task

import (
	"time"

	"github.com/kbukum/execkit/exec"
)

// Status is an invocation's terminal state.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusAborted marks a failure that triggered unwinding of cleanup
	// steps.
	StatusAborted Status = "aborted-and-unwound"
)

// StepStatus is one step's terminal state.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// StepOutcome records one executed (or skipped) step.
type StepOutcome struct {
	Name     string
	Status   StepStatus
	Result   *exec.Result
	Err      error
	Duration time.Duration
}

// Result is the outcome of one task invocation against one target.
type Result struct {
	// InvocationID uniquely identifies this run for logs and audit trails.
	InvocationID string
	Task         string
	Target       string
	Status       Status
	Steps        []StepOutcome
	Err          error
	Duration     time.Duration
}

// OK reports success.
func (r *Result) OK() bool { return r.Status == StatusSucceeded }

// MultiResult aggregates per-target invocations of one task.
type MultiResult struct {
	Task      string
	PerTarget []*Result
}

// OK reports success across every target.
func (m *MultiResult) OK() bool {
	for _, r := range m.PerTarget {
		if !r.OK() {
			return false
		}
	}
	return len(m.PerTarget) > 0
}

// FirstError returns the first per-target error, if any.
func (m *MultiResult) FirstError() error {
	for _, r := range m.PerTarget {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
