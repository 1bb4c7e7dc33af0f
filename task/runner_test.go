package task_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kbukum/execkit/adapter/local"
	"github.com/kbukum/execkit/engine"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/target"
	"github.com/kbukum/execkit/task"
)

func newRunner(t *testing.T) *task.Runner {
	t.Helper()
	log := logger.Nop()
	registry := target.NewRegistry(nil, nil, log)
	for _, name := range []string{"local", "dev.a", "dev.b"} {
		if err := registry.Register(&target.Spec{Name: name, Kind: target.KindLocal, Local: &local.Config{}}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	eng := engine.New(registry, engine.Options{}, nil, log)
	return task.NewRunner(eng, log)
}

func mustRegister(t *testing.T, r *task.Runner, def *task.Task) {
	t.Helper()
	if err := r.Register(def); err != nil {
		t.Fatalf("register task %s: %v", def.Name, err)
	}
}

func runOne(t *testing.T, r *task.Runner, name string, params map[string]any) *task.Result {
	t.Helper()
	multi, err := r.Run(context.Background(), name, params)
	if err != nil {
		t.Fatalf("run %s: %v", name, err)
	}
	if len(multi.PerTarget) != 1 {
		t.Fatalf("expected one invocation, got %d", len(multi.PerTarget))
	}
	return multi.PerTarget[0]
}

func TestRegisterAndWhen(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "s5",
		Steps: []task.Step{
			{Name: "detect", Command: &task.CommandSpec{Run: `printf "staging"`}, Register: "env"},
			{Name: "on-staging", Command: &task.CommandSpec{Run: "true"}, When: `env.stdout == "staging"`, Register: "ran"},
			{Name: "on-prod", Command: &task.CommandSpec{Run: "true"}, When: `env.stdout == "prod"`, Register: "notran"},
		},
	})

	result := runOne(t, r, "s5", nil)
	if !result.OK() {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
	}

	statuses := map[string]task.StepStatus{}
	for _, s := range result.Steps {
		statuses[s.Name] = s.Status
	}
	if statuses["on-staging"] != task.StepCompleted {
		t.Fatalf("step gated on matching condition must run: %v", statuses)
	}
	if statuses["on-prod"] != task.StepSkipped {
		t.Fatalf("step gated on failing condition must be skipped: %v", statuses)
	}
}

func TestSkippedStepRegistersNothing(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "absent",
		Steps: []task.Step{
			{Name: "skipped", Command: &task.CommandSpec{Run: "true"}, When: "false", Register: "ghost"},
			// An absent register name makes the condition false, not an error.
			{Name: "guarded", Command: &task.CommandSpec{Run: "true"}, When: `ghost.stdout == ""`},
			{Name: "fallback", Command: &task.CommandSpec{Run: "true"}, When: `default(ghost, "none") == "none"`},
		},
	})

	result := runOne(t, r, "absent", nil)
	if !result.OK() {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
	}

	statuses := map[string]task.StepStatus{}
	for _, s := range result.Steps {
		statuses[s.Name] = s.Status
	}
	if statuses["guarded"] != task.StepSkipped {
		t.Fatal("condition over an absent register must evaluate false without error")
	}
	if statuses["fallback"] != task.StepCompleted {
		t.Fatal("default() over an absent register must supply the fallback")
	}
}

func TestAlwaysRunCleanup(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "cleanup")

	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "s6",
		Steps: []task.Step{
			{Name: "a", Command: &task.CommandSpec{Run: "true"}},
			{Name: "b", Command: &task.CommandSpec{Run: "exit 1"}},
			{Name: "c", Command: &task.CommandSpec{Run: "true"}},
			{Name: "d", Command: &task.CommandSpec{Run: "touch " + marker}, AlwaysRun: true},
		},
	})

	result := runOne(t, r, "s6", nil)

	if result.OK() {
		t.Fatal("aborted task must not report success")
	}
	if result.Status != task.StatusAborted {
		t.Fatalf("expected aborted-and-unwound, got %s", result.Status)
	}

	executed := map[string]bool{}
	for _, s := range result.Steps {
		if s.Status == task.StepCompleted || s.Status == task.StepFailed {
			executed[s.Name] = true
		}
	}
	if !executed["a"] || !executed["b"] || !executed["d"] {
		t.Fatalf("expected a, b, d executed: %v", executed)
	}
	if executed["c"] {
		t.Fatal("step after the aborting failure must not execute")
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatal("cleanup step did not run")
	}
}

func TestAlwaysRunRunsOnceOnSuccess(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")

	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "once",
		Steps: []task.Step{
			{Name: "work", Command: &task.CommandSpec{Run: "true"}},
			{Name: "cleanup", Command: &task.CommandSpec{Run: "echo x >> " + counter}, AlwaysRun: true},
		},
	})

	result := runOne(t, r, "once", nil)
	if !result.OK() {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
	}

	data, err := os.ReadFile(counter)
	if err != nil {
		t.Fatalf("cleanup never ran: %v", err)
	}
	if string(data) != "x\n" {
		t.Fatalf("cleanup ran more than once: %q", data)
	}
}

func TestCleanupFailureKeepsOutcome(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "cleanupfail",
		Steps: []task.Step{
			{Name: "work", Command: &task.CommandSpec{Run: "exit 1"}},
			{Name: "cleanup", Command: &task.CommandSpec{Run: "exit 9"}, AlwaysRun: true},
		},
	})

	result := runOne(t, r, "cleanupfail", nil)
	if result.Status != task.StatusAborted {
		t.Fatalf("cleanup failure must not change the outcome: %s", result.Status)
	}
}

func TestOnFailureContinue(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "cont",
		Steps: []task.Step{
			{Name: "flaky", Command: &task.CommandSpec{Run: "exit 1"}, OnFailure: task.OnFailure{Action: task.FailContinue}},
			{Name: "next", Command: &task.CommandSpec{Run: "true"}, Register: "next"},
		},
	})

	result := runOne(t, r, "cont", nil)
	if !result.OK() {
		t.Fatalf("continue policy must not fail the task: %s (%v)", result.Status, result.Err)
	}
}

func TestOnFailureRetrySucceeds(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "attempted")

	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "retry",
		Steps: []task.Step{
			// Fails on the first attempt, succeeds once the marker exists.
			{
				Name:    "flaky",
				Command: &task.CommandSpec{Run: "test -f " + marker + " || { touch " + marker + "; exit 1; }"},
				OnFailure: task.OnFailure{
					Action:  task.FailRetry,
					Retries: 2,
					Delay:   time.Millisecond,
				},
			},
		},
	})

	result := runOne(t, r, "retry", nil)
	if !result.OK() {
		t.Fatalf("expected retry to recover: %s (%v)", result.Status, result.Err)
	}
}

func TestOnFailureFallback(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "fb",
		Steps: []task.Step{
			{
				Name:    "primary",
				Command: &task.CommandSpec{Run: "exit 1"},
				OnFailure: task.OnFailure{
					Fallback: &task.Step{Name: "plan-b", Command: &task.CommandSpec{Run: "true"}},
				},
			},
		},
	})

	result := runOne(t, r, "fb", nil)
	if !result.OK() {
		t.Fatalf("fallback success must rescue the step: %s (%v)", result.Status, result.Err)
	}
}

func TestParallelFailFast(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "s4",
		Steps: []task.Step{
			{
				Parallel: &task.ParallelGroup{
					FailFast: true,
					Steps: []task.Step{
						{Name: "a", Command: &task.CommandSpec{Run: "sleep 5"}},
						{Name: "b", Command: &task.CommandSpec{Run: "exit 1"}},
						{Name: "c", Command: &task.CommandSpec{Run: "sleep 5"}},
					},
				},
			},
		},
	})

	start := time.Now()
	result := runOne(t, r, "s4", nil)
	elapsed := time.Since(start)

	if result.OK() {
		t.Fatal("group with a failing sibling must fail")
	}
	if elapsed > 4*time.Second {
		t.Fatalf("failFast did not cancel siblings: took %v", elapsed)
	}

	var states []task.StepStatus
	for _, s := range result.Steps {
		states = append(states, s.Status)
	}
	// Every sibling reached a terminal state.
	if len(states) < 3 {
		t.Fatalf("expected all siblings reported, got %v", states)
	}
}

func TestParallelRegistersAllSiblings(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "pr",
		Steps: []task.Step{
			{
				Parallel: &task.ParallelGroup{
					MaxConcurrency: 2,
					Steps: []task.Step{
						{Name: "one", Command: &task.CommandSpec{Run: `printf 1`}, Register: "one"},
						{Name: "two", Command: &task.CommandSpec{Run: `printf 2`}, Register: "two"},
						{Name: "three", Command: &task.CommandSpec{Run: `printf 3`}, Register: "three"},
					},
				},
			},
			{
				Name:    "check",
				Command: &task.CommandSpec{Run: `test "${one.stdout}${two.stdout}${three.stdout}" = "123"`},
			},
		},
	})

	result := runOne(t, r, "pr", nil)
	if !result.OK() {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
	}
}

func TestParallelChildPoliciesApply(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "attempted")

	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "par-policy",
		Steps: []task.Step{
			{
				Parallel: &task.ParallelGroup{
					Steps: []task.Step{
						// Fails on the first attempt, succeeds once the marker
						// exists.
						{
							Name:    "flaky",
							Command: &task.CommandSpec{Run: "test -f " + marker + " || { touch " + marker + "; exit 1; }"},
							OnFailure: task.OnFailure{
								Action:  task.FailRetry,
								Retries: 2,
								Delay:   time.Millisecond,
							},
						},
						{
							Name:    "broken",
							Command: &task.CommandSpec{Run: "exit 1"},
							OnFailure: task.OnFailure{
								Fallback: &task.Step{Name: "plan-b", Command: &task.CommandSpec{Run: "true"}},
							},
						},
					},
				},
			},
		},
	})

	result := runOne(t, r, "par-policy", nil)
	if !result.OK() {
		t.Fatalf("child failure policies must apply inside groups: %s (%v)", result.Status, result.Err)
	}

	statuses := map[string]task.StepStatus{}
	for _, s := range result.Steps {
		statuses[s.Name] = s.Status
	}
	if statuses["flaky"] != task.StepCompleted {
		t.Fatalf("retrying child did not recover: %v", statuses)
	}
	if statuses["broken.fallback"] != task.StepCompleted {
		t.Fatalf("child fallback did not run: %v", statuses)
	}
}

func TestMultiTargetDispatch(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name:     "fanout",
		Targets:  []string{"dev.*"},
		Parallel: true,
		Steps: []task.Step{
			{Name: "noop", Command: &task.CommandSpec{Run: "true"}},
		},
	})

	multi, err := r.Run(context.Background(), "fanout", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(multi.PerTarget) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(multi.PerTarget))
	}
	if !multi.OK() {
		t.Fatalf("expected aggregate success: %v", multi.FirstError())
	}
	seen := map[string]bool{}
	for _, res := range multi.PerTarget {
		seen[res.Target] = true
	}
	if !seen["dev.a"] || !seen["dev.b"] {
		t.Fatalf("unexpected targets: %v", seen)
	}
}

func TestTaskReference(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name:   "child",
		Params: []task.Param{{Name: "msg", Type: task.ParamString, Required: true}},
		Steps: []task.Step{
			{Name: "say", Command: &task.CommandSpec{Run: `test -n "${params.msg}"`}},
		},
	})
	mustRegister(t, r, &task.Task{
		Name: "parent",
		Steps: []task.Step{
			{Name: "prep", Command: &task.CommandSpec{Run: `printf ready`}, Register: "prep"},
			{Name: "call", Task: &task.TaskRef{Task: "child", Params: map[string]any{"msg": "${prep.stdout}"}}},
		},
	})

	result := runOne(t, r, "parent", nil)
	if !result.OK() {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
	}
}

func TestScriptStepRegistersValue(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name:   "script",
		Params: []task.Param{{Name: "count", Type: task.ParamNumber, Default: 2}},
		Steps: []task.Step{
			{Name: "calc", Script: "params.count * 3", Register: "total"},
			{Name: "use", Command: &task.CommandSpec{Run: `test "${total}" = "6"`}},
		},
	})

	result := runOne(t, r, "script", nil)
	if !result.OK() {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
	}
}

func TestSequentialPrefixInvariant(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "prefix",
		Steps: []task.Step{
			{Name: "s1", Command: &task.CommandSpec{Run: "true"}},
			{Name: "s2", Command: &task.CommandSpec{Run: "true"}, When: "false"},
			{Name: "s3", Command: &task.CommandSpec{Run: "exit 1"}},
			{Name: "s4", Command: &task.CommandSpec{Run: "true"}},
		},
	})

	result := runOne(t, r, "prefix", nil)

	var order []string
	for _, s := range result.Steps {
		if s.Status != task.StepSkipped {
			order = append(order, s.Name)
		}
	}
	// Completed steps form a prefix of declared order, modulo skips.
	if len(order) != 2 || order[0] != "s1" || order[1] != "s3" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestUnknownParameterRejected(t *testing.T) {
	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name:  "strict",
		Steps: []task.Step{{Name: "x", Command: &task.CommandSpec{Run: "true"}}},
	})

	if _, err := r.Run(context.Background(), "strict", map[string]any{"bogus": 1}); err == nil {
		t.Fatal("unknown parameter must be rejected")
	}
}

func TestHooksRunOnFailureAndAlways(t *testing.T) {
	dir := t.TempDir()
	onError := filepath.Join(dir, "onerror")
	after := filepath.Join(dir, "after")

	r := newRunner(t)
	mustRegister(t, r, &task.Task{
		Name: "hooks",
		Steps: []task.Step{
			{Name: "boom", Command: &task.CommandSpec{Run: "exit 1"}},
		},
		Hooks: task.Hooks{
			OnError: []task.Step{{Command: &task.CommandSpec{Run: "touch " + onError}}},
			After:   []task.Step{{Command: &task.CommandSpec{Run: "touch " + after}}},
		},
	})

	result := runOne(t, r, "hooks", nil)
	if result.OK() {
		t.Fatal("task must fail")
	}
	if _, err := os.Stat(onError); err != nil {
		t.Fatal("on_error hook did not run")
	}
	if _, err := os.Stat(after); err != nil {
		t.Fatal("after hook did not run")
	}
}
