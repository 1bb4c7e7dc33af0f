package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/execkit/engine"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/exec"
	"github.com/kbukum/execkit/logger"
)

// unwindTimeout is the fresh deadline cleanup steps get when the task
// itself was cancelled or timed out.
const unwindTimeout = 60 * time.Second

// maxTaskDepth bounds task-reference recursion.
const maxTaskDepth = 16

// Runner interprets tasks against the execution engine.
type Runner struct {
	engine *engine.Engine
	log    *logger.Logger

	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRunner creates a runner over an engine.
func NewRunner(eng *engine.Engine, log *logger.Logger) *Runner {
	return &Runner{
		engine: eng,
		log:    log.WithComponent("task.runner"),
		tasks:  make(map[string]*Task),
	}
}

// Register adds a task definition. Validation (including static expression
// parsing) runs here, so nothing raises at execution time.
func (r *Runner) Register(t *Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.Name]; exists {
		return errors.Configf("task %s registered twice", t.Name)
	}
	r.tasks[t.Name] = t
	return nil
}

// Lookup returns a registered task.
func (r *Runner) Lookup(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Run executes a named task. Multi-target tasks dispatch one invocation
// per resolved target, each with its own scope.
func (r *Runner) Run(ctx context.Context, name string, params map[string]any) (*MultiResult, error) {
	return r.run(ctx, name, params, "", 0)
}

// RunOn executes a named task against an explicit target, overriding the
// task's declared targets.
func (r *Runner) RunOn(ctx context.Context, name string, params map[string]any, targetName string) (*MultiResult, error) {
	return r.run(ctx, name, params, targetName, 0)
}

func (r *Runner) run(ctx context.Context, name string, params map[string]any, targetOverride string, depth int) (*MultiResult, error) {
	if depth > maxTaskDepth {
		return nil, errors.Configf("task %s: reference depth exceeds %d (cycle?)", name, maxTaskDepth)
	}

	t, ok := r.Lookup(name)
	if !ok {
		return nil, errors.Configf("task %q is not defined", name)
	}

	coerced, err := coerceParams(t, params)
	if err != nil {
		return nil, err
	}

	targets, err := r.resolveTargets(t, targetOverride)
	if err != nil {
		return nil, err
	}

	multi := &MultiResult{Task: t.Name, PerTarget: make([]*Result, len(targets))}

	invoke := func(i int, targetName string) {
		multi.PerTarget[i] = r.runOne(ctx, t, coerced, targetName, depth)
	}

	if t.Parallel && len(targets) > 1 {
		var wg sync.WaitGroup
		for i, targetName := range targets {
			wg.Add(1)
			go func(i int, tn string) {
				defer wg.Done()
				invoke(i, tn)
			}(i, targetName)
		}
		wg.Wait()
	} else {
		for i, targetName := range targets {
			invoke(i, targetName)
		}
	}
	return multi, nil
}

// resolveTargets expands the task's target list (or the override) into
// concrete names. Zero targets means local.
func (r *Runner) resolveTargets(t *Task, override string) ([]string, error) {
	declared := t.Targets
	if override != "" {
		declared = []string{override}
	}
	if len(declared) == 0 {
		return []string{"local"}, nil
	}

	var names []string
	seen := map[string]bool{}
	for _, pattern := range declared {
		matches, err := r.engine.Registry().ResolveGlob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				names = append(names, m)
			}
		}
	}
	return names, nil
}

func coerceParams(t *Task, raw map[string]any) (map[string]any, error) {
	coerced := make(map[string]any, len(t.Params))
	for i := range t.Params {
		p := &t.Params[i]
		value, err := p.Coerce(raw[p.Name])
		if err != nil {
			return nil, err
		}
		if value != nil {
			coerced[p.Name] = value
		}
	}
	// Unknown parameters are configuration mistakes, not silent extras.
	for name := range raw {
		known := false
		for i := range t.Params {
			if t.Params[i].Name == name {
				known = true
				break
			}
		}
		if !known {
			return nil, errors.Configf("task %s: unknown parameter %q", t.Name, name)
		}
	}
	return coerced, nil
}

// invocation is the state of one task run against one target.
type invocation struct {
	runner *Runner
	task   *Task
	target string
	scope  *Scope
	depth  int

	executed map[*Step]bool
	outcomes []StepOutcome
}

// runOne drives one invocation to a terminal state.
func (r *Runner) runOne(ctx context.Context, t *Task, params map[string]any, targetName string, depth int) *Result {
	start := time.Now()

	inv := &invocation{
		runner:   r,
		task:     t,
		target:   targetName,
		scope:    NewScope(params, t.Env),
		depth:    depth,
		executed: make(map[*Step]bool),
	}

	taskCtx := ctx
	var cancel context.CancelFunc
	if t.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	result := &Result{
		InvocationID: uuid.NewString(),
		Task:         t.Name,
		Target:       targetName,
		Status:       StatusSucceeded,
	}

	r.log.Info("task started", logger.Fields(
		logger.FieldTask, t.Name,
		logger.FieldTarget, targetName,
		"invocation_id", result.InvocationID,
	))

	var taskErr error

	// Before hooks: a failure here aborts before the first step.
	if err := inv.runHooks(taskCtx, t.Hooks.Before, "before"); err != nil {
		taskErr = err
	}

	// Main loop. AlwaysRun steps that did not get their turn run during
	// the unwind phase below.
	if taskErr == nil {
		taskErr = inv.runSteps(taskCtx)
	}

	if taskErr != nil {
		result.Status = StatusFailed
		result.Err = taskErr

		// onError hooks in declared order, best effort.
		if err := inv.runHooks(inv.unwindContext(taskCtx), t.Hooks.OnError, "on_error"); err != nil {
			r.log.Warn("on_error hook failed", logger.ErrorFields("hook", err))
		}
	}

	// Unwind: every declared alwaysRun step that has not run yet executes
	// now, in reverse declaration order, with a fresh short deadline when
	// the task context is already dead. Cleanup failures are logged and do
	// not change the task outcome.
	if unwound := inv.unwind(taskCtx); unwound && taskErr != nil {
		result.Status = StatusAborted
	}

	// After hooks run unconditionally.
	if err := inv.runHooks(inv.unwindContext(taskCtx), t.Hooks.After, "after"); err != nil {
		r.log.Warn("after hook failed", logger.ErrorFields("hook", err))
	}

	result.Steps = inv.outcomes
	result.Duration = time.Since(start)

	r.log.Info("task finished", logger.Fields(
		logger.FieldTask, t.Name,
		logger.FieldTarget, targetName,
		logger.FieldStatus, string(result.Status),
		logger.FieldDuration, result.Duration.Milliseconds(),
	))
	return result
}

// runSteps walks the declared steps until success or an aborting failure.
func (inv *invocation) runSteps(ctx context.Context) error {
	for i := range inv.task.Steps {
		step := &inv.task.Steps[i]

		if ctx.Err() != nil && !step.AlwaysRun {
			return errors.Cancelled("task " + inv.task.Name).WithCause(ctx.Err())
		}

		if !EvalCondition(ctx, step.When, inv.scope.Snapshot()) {
			// Skipped: nothing registers, the name stays absent.
			inv.outcomes = append(inv.outcomes, StepOutcome{Name: inv.stepName(step, i), Status: StepSkipped})
			continue
		}

		if err := inv.executeWithPolicy(ctx, step, i); err != nil {
			return err
		}
	}
	return nil
}

// executeWithPolicy runs one top-level step under its failure policy and
// records its outcomes. Sequential callers only.
func (inv *invocation) executeWithPolicy(ctx context.Context, step *Step, index int) error {
	outcomes, err := inv.applyPolicy(ctx, step, inv.stepName(step, index))
	inv.executed[step] = true
	inv.outcomes = append(inv.outcomes, outcomes...)
	return err
}

// applyPolicy runs a step under its failure policy: retries, fallback,
// continue/ignore, abort. It returns the recorded outcomes (terminal
// attempt plus fallback) and the step's final error, nil when the failure
// is tolerated. Shared invocation state is touched only through the scope,
// so concurrent siblings may call it.
func (inv *invocation) applyPolicy(ctx context.Context, step *Step, name string) ([]StepOutcome, error) {
	policy := step.OnFailure

	var recorded []StepOutcome
	attempt := 1
	for {
		outcome := inv.executeStep(ctx, step, name)

		if step.Register != "" {
			inv.registerOutcome(step, outcome)
		}

		if outcome.Err == nil || policy.action() == FailIgnore {
			if policy.action() == FailIgnore && outcome.Err != nil {
				outcome.Status = StepCompleted
				outcome.Err = nil
			}
			return append(recorded, outcome), nil
		}

		// Retry policy: additional attempts with backoff.
		if policy.action() == FailRetry && attempt <= policy.Retries {
			delay := policy.retryDelay(attempt)
			inv.runner.log.Debug("retrying step", logger.Fields(
				logger.FieldStep, name,
				logger.FieldAttempt, attempt,
				"delay_ms", delay.Milliseconds(),
			))
			select {
			case <-ctx.Done():
				return append(recorded, outcome), errors.Cancelled("task " + inv.task.Name).WithCause(ctx.Err())
			case <-time.After(delay):
			}
			attempt++
			continue
		}

		recorded = append(recorded, outcome)

		if policy.action() == FailContinue {
			return recorded, nil
		}

		if policy.Fallback != nil {
			fallback := policy.Fallback
			fbOutcome := inv.executeStep(ctx, fallback, name+".fallback")
			if fallback.Register != "" {
				inv.registerOutcome(fallback, fbOutcome)
			}
			recorded = append(recorded, fbOutcome)
			if fbOutcome.Err == nil {
				return recorded, nil
			}
			return recorded, fbOutcome.Err
		}

		return recorded, outcome.Err
	}
}

// executeStep dispatches on the step variant.
func (inv *invocation) executeStep(ctx context.Context, step *Step, name string) StepOutcome {
	start := time.Now()
	outcome := StepOutcome{Name: name, Status: StepCompleted}

	switch {
	case step.Command != nil:
		result, err := inv.runCommand(ctx, step)
		outcome.Result = result
		outcome.Err = err

	case step.Task != nil:
		outcome.Err = inv.runTaskRef(ctx, step.Task)

	case step.Script != "":
		value, err := EvalExpr(ctx, step.Script, inv.scope.Snapshot())
		if err != nil {
			outcome.Err = errors.Configf("script step %s: %v", name, err)
		} else if step.Register != "" {
			inv.scope.Register(step.Register, value)
		}

	case step.Parallel != nil:
		outcome.Err = inv.runParallel(ctx, step.Parallel)
	}

	outcome.Duration = time.Since(start)
	if outcome.Err != nil {
		outcome.Status = StepFailed
		if errors.Is(outcome.Err, errors.KindCancelled) {
			outcome.Status = StepCancelled
		}
	}
	return outcome
}

// runCommand builds the exec.Command for a command step and routes it
// through the engine. Env precedence: step over task over target.
func (inv *invocation) runCommand(ctx context.Context, step *Step) (*exec.Result, error) {
	spec := step.Command

	var cmd exec.Command
	if spec.Run != "" {
		shell := spec.Shell
		if shell == "" {
			shell = "sh"
		}
		cmd = exec.New(spec.Run).WithShell(shell)
	} else {
		cmd = exec.New(spec.Argv...)
	}

	env := map[string]string{}
	for k, v := range inv.task.Env {
		env[k] = v
	}
	for k, v := range step.Env {
		env[k] = v
	}
	if len(env) > 0 {
		cmd = cmd.WithEnv(env)
	}
	if spec.Cwd != "" {
		cmd = cmd.WithCwd(spec.Cwd)
	}
	if spec.User != "" {
		cmd = cmd.WithUser(spec.User)
	}
	if spec.Timeout > 0 {
		cmd = cmd.WithTimeout(spec.Timeout)
	}
	if spec.Stdin != "" {
		cmd = cmd.WithStdin(strings.NewReader(spec.Stdin))
	}

	targetName := inv.target
	if step.Target != "" {
		targetName = step.Target
	}

	return inv.runner.engine.ExecuteWith(ctx, targetName, cmd, engine.Vars(inv.scope.Snapshot()), nil)
}

// runTaskRef invokes another task with parameter bindings. String bindings
// expand against the current scope before they cross into the sub-task's
// isolated scope.
func (inv *invocation) runTaskRef(ctx context.Context, ref *TaskRef) error {
	params := make(map[string]any, len(ref.Params))
	snap := engine.Vars(inv.scope.Snapshot())
	for k, v := range ref.Params {
		if s, ok := v.(string); ok {
			params[k] = snap.Expand(s)
		} else {
			params[k] = v
		}
	}

	multi, err := inv.runner.run(ctx, ref.Task, params, inv.target, inv.depth+1)
	if err != nil {
		return err
	}
	if !multi.OK() {
		if err := multi.FirstError(); err != nil {
			return err
		}
		return errors.Newf(errors.KindNonZeroExit, "task %s failed", ref.Task)
	}
	return nil
}

// runParallel executes the group's children concurrently, each under its
// own failure policy. Registered outputs land in the parent scope; sibling
// register names are disjoint by validation, so writes never contend on
// one name. Goroutines write only their own slice slot; outcomes are
// folded into the invocation after the group settles.
func (inv *invocation) runParallel(ctx context.Context, group *ParallelGroup) error {
	groupCtx := ctx
	var cancel context.CancelFunc
	if group.FailFast {
		groupCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	limit := group.MaxConcurrency
	if limit <= 0 || limit > len(group.Steps) {
		limit = len(group.Steps)
	}
	sem := make(chan struct{}, limit)

	outcomes := make([][]StepOutcome, len(group.Steps))
	childErrs := make([]error, len(group.Steps))
	var wg sync.WaitGroup

	for i := range group.Steps {
		child := &group.Steps[i]
		wg.Add(1)
		go func(i int, child *Step) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			name := inv.stepName(child, i)

			if !EvalCondition(groupCtx, child.When, inv.scope.Snapshot()) {
				outcomes[i] = []StepOutcome{{Name: name, Status: StepSkipped}}
				return
			}

			outs, err := inv.applyPolicy(groupCtx, child, name)
			outcomes[i] = outs
			childErrs[i] = err

			if err != nil && group.FailFast {
				cancel()
			}
		}(i, child)
	}
	wg.Wait()

	for _, outs := range outcomes {
		inv.outcomes = append(inv.outcomes, outs...)
	}

	// Prefer the real failure over sibling cancellations it caused.
	var firstErr error
	for _, err := range childErrs {
		if err == nil {
			continue
		}
		if firstErr == nil || (errors.Is(firstErr, errors.KindCancelled) && !errors.Is(err, errors.KindCancelled)) {
			firstErr = err
		}
	}
	return firstErr
}

// unwind runs pending alwaysRun steps in reverse declaration order.
// Returns whether any cleanup step was attempted.
func (inv *invocation) unwind(taskCtx context.Context) bool {
	var pending []*Step
	var indexes []int
	for i := range inv.task.Steps {
		step := &inv.task.Steps[i]
		if step.AlwaysRun && !inv.executed[step] {
			pending = append(pending, step)
			indexes = append(indexes, i)
		}
	}
	if len(pending) == 0 {
		return false
	}

	ctx := inv.unwindContext(taskCtx)

	for i := len(pending) - 1; i >= 0; i-- {
		step := pending[i]
		name := inv.stepName(step, indexes[i])

		outcome := inv.executeStep(ctx, step, name)
		inv.executed[step] = true
		if step.Register != "" {
			inv.registerOutcome(step, outcome)
		}
		inv.outcomes = append(inv.outcomes, outcome)

		if outcome.Err != nil {
			// Cleanup failures never re-trigger unwinding.
			inv.runner.log.Warn("cleanup step failed", logger.Fields(
				logger.FieldStep, name,
				logger.FieldError, outcome.Err.Error(),
			))
		}
	}
	return true
}

// unwindContext gives cleanup work a live context: the task context while
// it lasts, a fresh short-deadline one once it is dead.
func (inv *invocation) unwindContext(taskCtx context.Context) context.Context {
	if taskCtx.Err() == nil {
		return taskCtx
	}
	ctx, cancel := context.WithTimeout(context.Background(), unwindTimeout)
	// The deadline owns the context; cancel fires with it.
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ctx
}

// runHooks executes a hook step list in declared order, stopping at the
// first failure.
func (inv *invocation) runHooks(ctx context.Context, hooks []Step, phase string) error {
	for i := range hooks {
		step := &hooks[i]
		name := fmt.Sprintf("%s[%d]", phase, i)
		if !EvalCondition(ctx, step.When, inv.scope.Snapshot()) {
			continue
		}
		outcome := inv.executeStep(ctx, step, name)
		inv.executed[step] = true
		if step.Register != "" {
			inv.registerOutcome(step, outcome)
		}
		inv.outcomes = append(inv.outcomes, outcome)
		if outcome.Err != nil {
			return outcome.Err
		}
	}
	return nil
}

// registerOutcome writes a step's result shape into the scope atomically.
func (inv *invocation) registerOutcome(step *Step, outcome StepOutcome) {
	if step.Script != "" {
		// Script steps registered their value during evaluation.
		return
	}
	if outcome.Result != nil {
		inv.scope.Register(step.Register, resultValue(outcome.Result))
		return
	}
	// Task references and groups have no command result; register their
	// success state so conditions can read it.
	inv.scope.Register(step.Register, map[string]any{"ok": outcome.Err == nil})
}

func (inv *invocation) stepName(step *Step, index int) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("step[%d]", index)
}
