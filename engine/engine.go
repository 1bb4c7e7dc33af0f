package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/kbukum/execkit/adapter"
	"github.com/kbukum/execkit/audit"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/exec"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/target"
)

// Options configures the engine.
type Options struct {
	// DefaultRetry applies to every command unless overridden per call.
	DefaultRetry RetryPolicy `yaml:"retry,omitempty" mapstructure:"retry"`
	// TaskTimeout caps all commands run under one task. Zero means none.
	TaskTimeout time.Duration `yaml:"task_timeout,omitempty" mapstructure:"task_timeout"`
	// Stdout and Stderr receive streamed output (stream/tee modes).
	Stdout io.Writer `yaml:"-" mapstructure:"-"`
	Stderr io.Writer `yaml:"-" mapstructure:"-"`
}

// Engine routes commands to adapters and applies cross-cutting policy.
// Construct one per process and pass it by reference.
type Engine struct {
	registry *target.Registry
	opts     Options
	sink     audit.Sink
	log      *logger.Logger
}

// New creates an engine. sink may be nil to disable auditing.
func New(registry *target.Registry, opts Options, sink audit.Sink, log *logger.Logger) *Engine {
	opts.DefaultRetry.ApplyDefaults()
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Engine{
		registry: registry,
		opts:     opts,
		sink:     sink,
		log:      log.WithComponent("engine"),
	}
}

// Registry exposes the target registry for resolution and shutdown.
func (e *Engine) Registry() *target.Registry { return e.registry }

// Execute runs one command on the named target with the default policy.
func (e *Engine) Execute(ctx context.Context, targetName string, cmd exec.Command) (*exec.Result, error) {
	return e.ExecuteWith(ctx, targetName, cmd, nil, nil)
}

// ExecuteWith runs one command with an expansion scope and a retry
// override. vars and retry may be nil.
func (e *Engine) ExecuteWith(ctx context.Context, targetName string, cmd exec.Command, vars Vars, retry *RetryPolicy) (*exec.Result, error) {
	bound, err := e.registry.Resolve(ctx, targetName)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, bound, cmd, vars, retry)
}

// ExecuteOn runs one command on an already bound adapter.
func (e *Engine) ExecuteOn(ctx context.Context, bound adapter.Adapter, cmd exec.Command, vars Vars, retry *RetryPolicy) (*exec.Result, error) {
	return e.run(ctx, bound, cmd, vars, retry)
}

// TargetResult pairs a fan-out target with its outcome.
type TargetResult struct {
	Target string
	Result *exec.Result
	Err    error
}

// ExecuteAll fans a command out to every target matching the glob,
// in parallel, and returns per-target outcomes in match order.
func (e *Engine) ExecuteAll(ctx context.Context, glob string, cmd exec.Command) ([]TargetResult, error) {
	names, err := e.registry.ResolveGlob(glob)
	if err != nil {
		return nil, err
	}

	results := make([]TargetResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			res, err := e.Execute(ctx, name, cmd)
			results[i] = TargetResult{Target: name, Result: res, Err: err}
		}(i, name)
	}
	wg.Wait()
	return results, nil
}

// run is the middleware chain: expansion, effective timeout, retry loop,
// sink routing, exit policy, audit.
func (e *Engine) run(ctx context.Context, bound adapter.Adapter, cmd exec.Command, vars Vars, retry *RetryPolicy) (*exec.Result, error) {
	cmd = e.expandCommand(cmd, vars)

	policy := e.opts.DefaultRetry
	if retry != nil {
		policy = *retry
		policy.ApplyDefaults()
	}

	timeout := effectiveTimeout(cmd.Timeout, target.DefaultTimeoutOf(bound), e.opts.TaskTimeout)

	var lastResult *exec.Result
	var lastErr error

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		// Each attempt is a fresh execution: fresh sinks, fresh deadline;
		// captured output of failed attempts is discarded.
		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		sinks := exec.NewSinks(cmd, e.opts.Stdout, e.opts.Stderr)
		start := time.Now()
		result, err := bound.Execute(attemptCtx, cmd, sinks)
		if cancel != nil {
			cancel()
		}

		err = e.applyExitPolicy(cmd, result, err)
		e.audit(bound.Name(), cmd, result, err, start)

		if err == nil {
			return result, nil
		}
		lastResult, lastErr = result, e.enrich(err, bound.Name(), cmd, attempt)

		if ctx.Err() != nil || attempt == policy.Attempts || !policy.shouldRetry(err) {
			break
		}

		delay := policy.Delay(attempt)
		e.log.Debug("retrying command", logger.Fields(
			logger.FieldTarget, bound.Name(),
			logger.FieldAttempt, attempt,
			"delay_ms", delay.Milliseconds(),
		))
		select {
		case <-ctx.Done():
			return lastResult, errors.Cancelled(cmd.String()).WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastResult, lastErr
}

// expandCommand applies ${...} expansion to argv and env values.
func (e *Engine) expandCommand(cmd exec.Command, vars Vars) exec.Command {
	if vars == nil {
		return cmd
	}
	argv := make([]string, len(cmd.Argv))
	for i, a := range cmd.Argv {
		argv[i] = vars.Expand(a)
	}
	cmd = cmd.WithArgs(argv...)
	if len(cmd.Env) > 0 {
		env := make(map[string]string, len(cmd.Env))
		for k, v := range cmd.Env {
			env[k] = vars.Expand(v)
		}
		cmd.Env = env
	}
	return cmd
}

// applyExitPolicy surfaces non-zero exits as errors when the command asks
// for that.
func (e *Engine) applyExitPolicy(cmd exec.Command, result *exec.Result, err error) error {
	if err != nil {
		return err
	}
	if result != nil && result.Failed() && cmd.ThrowOnNonZero() {
		return errors.NonZeroExit(result.ExitCode)
	}
	return nil
}

// enrich attaches target and command context to an adapter error.
func (e *Engine) enrich(err error, targetName string, cmd exec.Command, attempt int) error {
	var ee *errors.ExecError
	if errors.As(err, &ee) {
		ee.WithDetail("target", targetName).
			WithDetail("command", cmd.String())
		if attempt > 1 {
			ee.WithDetail("attempt", attempt)
		}
	}
	return err
}

// audit emits the record for one attempt. Best effort.
func (e *Engine) audit(targetName string, cmd exec.Command, result *exec.Result, err error, start time.Time) {
	record := audit.Record{
		Timestamp: start,
		Action:    "execute",
		Target:    targetName,
		User:      cmd.User,
		Duration:  time.Since(start),
	}
	if result != nil {
		record.ExitCode = result.ExitCode
		record.Duration = result.Duration
	}
	if err != nil {
		record.Error = err.Error()
	}

	defer func() {
		// A panicking sink must not take the execution down with it.
		_ = recover()
	}()
	e.sink.Write(record)
}

// effectiveTimeout is min over the set timeouts, unset meaning infinite.
func effectiveTimeout(values ...time.Duration) time.Duration {
	min := time.Duration(0)
	for _, v := range values {
		if v <= 0 {
			continue
		}
		if min == 0 || v < min {
			min = v
		}
	}
	return min
}

// Shutdown closes every live target binding.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.registry.Close(ctx)
}
