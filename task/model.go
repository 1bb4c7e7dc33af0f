package task

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kbukum/execkit/errors"
)

// ParamType enumerates the parameter value types.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "bool"
	ParamEnum   ParamType = "enum"
	ParamList   ParamType = "list"
)

// Param declares one task parameter.
type Param struct {
	Name     string    `yaml:"name" mapstructure:"name"`
	Type     ParamType `yaml:"type,omitempty" mapstructure:"type"`
	Default  any       `yaml:"default,omitempty" mapstructure:"default"`
	Required bool      `yaml:"required,omitempty" mapstructure:"required"`
	// Values constrains enum parameters.
	Values []string `yaml:"values,omitempty" mapstructure:"values"`
}

// Coerce validates and converts a raw value to the declared type.
func (p *Param) Coerce(raw any) (any, error) {
	if raw == nil {
		if p.Required {
			return nil, errors.Configf("parameter %q is required", p.Name)
		}
		return p.Default, nil
	}

	switch p.Type {
	case ParamNumber:
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, errors.Configf("parameter %q: %q is not a number", p.Name, v)
			}
			return f, nil
		}
		return nil, errors.Configf("parameter %q: expected number, got %T", p.Name, raw)
	case ParamBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, errors.Configf("parameter %q: %q is not a bool", p.Name, v)
			}
			return b, nil
		}
		return nil, errors.Configf("parameter %q: expected bool, got %T", p.Name, raw)
	case ParamEnum:
		s := fmt.Sprintf("%v", raw)
		for _, allowed := range p.Values {
			if s == allowed {
				return s, nil
			}
		}
		return nil, errors.Configf("parameter %q: %q not in %v", p.Name, s, p.Values)
	case ParamList:
		switch v := raw.(type) {
		case []any:
			return v, nil
		case []string:
			out := make([]any, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out, nil
		}
		return nil, errors.Configf("parameter %q: expected list, got %T", p.Name, raw)
	default: // string
		return fmt.Sprintf("%v", raw), nil
	}
}

// FailureAction enumerates step failure policies.
type FailureAction string

const (
	FailAbort    FailureAction = "abort"
	FailContinue FailureAction = "continue"
	FailIgnore   FailureAction = "ignore"
	FailRetry    FailureAction = "retry"
)

// OnFailure is a step's failure policy. Zero value aborts.
type OnFailure struct {
	Action FailureAction `yaml:"action,omitempty" mapstructure:"action"`
	// Retries is the number of additional attempts for the retry action.
	Retries int `yaml:"retries,omitempty" mapstructure:"retries"`
	// Delay is the base delay between retries.
	Delay time.Duration `yaml:"delay,omitempty" mapstructure:"delay"`
	// Backoff is "linear" or "exponential". Defaults to linear.
	Backoff string `yaml:"backoff,omitempty" mapstructure:"backoff"`
	// Fallback runs when all attempts fail; its outcome replaces the
	// step's.
	Fallback *Step `yaml:"fallback,omitempty" mapstructure:"fallback"`
}

func (f OnFailure) action() FailureAction {
	if f.Action == "" {
		return FailAbort
	}
	return f.Action
}

func (f OnFailure) retryDelay(attempt int) time.Duration {
	delay := f.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	if f.Backoff == "exponential" {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
		return delay
	}
	return time.Duration(attempt) * delay
}

// CommandSpec describes a command step's invocation.
type CommandSpec struct {
	// Run is a shell command line. Mutually exclusive with Argv.
	Run string `yaml:"run,omitempty" mapstructure:"run"`
	// Argv executes directly without a shell.
	Argv []string `yaml:"argv,omitempty" mapstructure:"argv"`
	// Shell overrides the interpreter for Run. Defaults to "sh".
	Shell string `yaml:"shell,omitempty" mapstructure:"shell"`
	// Cwd is the working directory inside the target.
	Cwd string `yaml:"cwd,omitempty" mapstructure:"cwd"`
	// User is the identity to execute as.
	User string `yaml:"user,omitempty" mapstructure:"user"`
	// Timeout bounds this command.
	Timeout time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	// Stdin feeds literal input to the command.
	Stdin string `yaml:"stdin,omitempty" mapstructure:"stdin"`
}

// TaskRef is a step invoking another task.
type TaskRef struct {
	Task   string         `yaml:"task" mapstructure:"task"`
	Params map[string]any `yaml:"params,omitempty" mapstructure:"params"`
}

// ParallelGroup runs child steps concurrently.
type ParallelGroup struct {
	Steps []Step `yaml:"steps" mapstructure:"steps"`
	// MaxConcurrency limits in-flight children (0 = all at once).
	MaxConcurrency int `yaml:"max_concurrency,omitempty" mapstructure:"max_concurrency"`
	// FailFast cancels the siblings of the first failing child.
	FailFast bool `yaml:"fail_fast,omitempty" mapstructure:"fail_fast"`
}

// Step is one node of a task. Exactly one of Command, Task, Script, or
// Parallel is set.
type Step struct {
	Name string `yaml:"name,omitempty" mapstructure:"name"`

	Command  *CommandSpec   `yaml:"command,omitempty" mapstructure:"command"`
	Task     *TaskRef       `yaml:"task,omitempty" mapstructure:"task"`
	Script   string         `yaml:"script,omitempty" mapstructure:"script"`
	Parallel *ParallelGroup `yaml:"parallel,omitempty" mapstructure:"parallel"`

	// Register stores the step's outcome in the scope under this name.
	Register string `yaml:"register,omitempty" mapstructure:"register"`
	// When skips the step unless the expression is truthy.
	When string `yaml:"when,omitempty" mapstructure:"when"`
	// OnFailure selects the failure policy.
	OnFailure OnFailure `yaml:"on_failure,omitempty" mapstructure:"on_failure"`
	// AlwaysRun marks a cleanup step executed during unwinding.
	AlwaysRun bool `yaml:"always_run,omitempty" mapstructure:"always_run"`
	// Env overlays the task env for this step.
	Env map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	// Target overrides the invocation target for this step.
	Target string `yaml:"target,omitempty" mapstructure:"target"`
}

// kindCount reports how many variant sections are set.
func (s *Step) kindCount() int {
	n := 0
	if s.Command != nil {
		n++
	}
	if s.Task != nil {
		n++
	}
	if s.Script != "" {
		n++
	}
	if s.Parallel != nil {
		n++
	}
	return n
}

// Hooks are command lists around a task's body. After and OnError run with
// guaranteed-release semantics.
type Hooks struct {
	Before  []Step `yaml:"before,omitempty" mapstructure:"before"`
	After   []Step `yaml:"after,omitempty" mapstructure:"after"`
	OnError []Step `yaml:"on_error,omitempty" mapstructure:"on_error"`
}

// Task is a declarative workflow.
type Task struct {
	Name        string  `yaml:"name" mapstructure:"name"`
	Description string  `yaml:"description,omitempty" mapstructure:"description"`
	Params      []Param `yaml:"params,omitempty" mapstructure:"params"`
	// Targets are target names or globs. Empty means local. Multiple
	// dispatch one invocation per target.
	Targets []string `yaml:"targets,omitempty" mapstructure:"targets"`
	// Parallel dispatches multi-target invocations concurrently.
	Parallel bool `yaml:"parallel,omitempty" mapstructure:"parallel"`
	// Env is the task-level environment under step env.
	Env map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	// Timeout caps the whole invocation.
	Timeout time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`

	Steps []Step `yaml:"steps" mapstructure:"steps"`
	Hooks Hooks  `yaml:"hooks,omitempty" mapstructure:"hooks"`
}

// Validate checks structural soundness and statically parses every
// expression, so evaluation cannot raise at run time.
func (t *Task) Validate() error {
	if t.Name == "" {
		return errors.Config("task has no name")
	}
	if len(t.Steps) == 0 {
		return errors.Configf("task %s has no steps", t.Name)
	}
	for _, p := range t.Params {
		if p.Name == "" {
			return errors.Configf("task %s: parameter without a name", t.Name)
		}
		if p.Type == ParamEnum && len(p.Values) == 0 {
			return errors.Configf("task %s: enum parameter %q has no values", t.Name, p.Name)
		}
	}

	var checkSteps func(steps []Step, where string) error
	checkSteps = func(steps []Step, where string) error {
		for i := range steps {
			s := &steps[i]
			if s.kindCount() != 1 {
				return errors.Configf("task %s: %s step %d must have exactly one of command, task, script, parallel", t.Name, where, i)
			}
			if s.When != "" {
				if err := ParseExpr(s.When); err != nil {
					return errors.Configf("task %s: %s step %d: bad when expression: %v", t.Name, where, i, err)
				}
			}
			if s.Script != "" {
				if err := ParseExpr(s.Script); err != nil {
					return errors.Configf("task %s: %s step %d: bad script expression: %v", t.Name, where, i, err)
				}
			}
			if s.Command != nil && s.Command.Run == "" && len(s.Command.Argv) == 0 {
				return errors.Configf("task %s: %s step %d: command needs run or argv", t.Name, where, i)
			}
			if s.OnFailure.Fallback != nil {
				if err := checkSteps([]Step{*s.OnFailure.Fallback}, where+" fallback"); err != nil {
					return err
				}
			}
			if s.Parallel != nil {
				if err := checkSteps(s.Parallel.Steps, "parallel"); err != nil {
					return err
				}
				// Register names inside a group must be disjoint: a name is
				// owned by exactly one sibling.
				seen := map[string]bool{}
				for _, child := range s.Parallel.Steps {
					if child.Register == "" {
						continue
					}
					if seen[child.Register] {
						return errors.Configf("task %s: parallel group registers %q twice", t.Name, child.Register)
					}
					seen[child.Register] = true
				}
			}
		}
		return nil
	}

	for _, group := range [][]Step{t.Steps, t.Hooks.Before, t.Hooks.After, t.Hooks.OnError} {
		if err := checkSteps(group, "task"); err != nil {
			return err
		}
	}
	return nil
}
