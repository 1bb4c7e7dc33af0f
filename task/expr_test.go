package task_test

import (
	"context"
	"testing"

	"github.com/kbukum/execkit/task"
)

func evalBool(t *testing.T, expr string, scope map[string]any) bool {
	t.Helper()
	return task.EvalCondition(context.Background(), expr, scope)
}

func TestUndefinedReferencesAreFalse(t *testing.T) {
	scope := map[string]any{}

	if evalBool(t, "missing", scope) {
		t.Fatal("bare undefined reference must be false")
	}
	if evalBool(t, `missing.stdout == "x"`, scope) {
		t.Fatal("property access on undefined must be false")
	}
	if evalBool(t, `missing.deeply.nested == 1`, scope) {
		t.Fatal("deep access on undefined must be false")
	}
}

func TestComparisonsAndLogic(t *testing.T) {
	scope := map[string]any{
		"build": map[string]any{"stdout": "ok", "exitCode": 0, "ok": true},
		"params": map[string]any{
			"env":   "staging",
			"count": float64(3),
		},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`build.stdout == "ok"`, true},
		{`build.exitCode == 0`, true},
		{`build.ok && params.env == "staging"`, true},
		{`params.count > 2`, true},
		{`params.count > 5 || build.ok`, true},
		{`!build.ok`, false},
		{`params.env == "prod"`, false},
	}
	for _, tc := range cases {
		if got := evalBool(t, tc.expr, scope); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.expr, tc.want, got)
		}
	}
}

func TestBuiltins(t *testing.T) {
	scope := map[string]any{
		"out":  map[string]any{"stdout": "  v1.2.3-staging  "},
		"list": []any{"a", "b"},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`includes(out.stdout, "staging")`, true},
		{`includes(list, "b")`, true},
		{`includes(list, "z")`, false},
		{`startsWith(trim(out.stdout), "v1")`, true},
		{`length(list) == 2`, true},
		{`length(missing) == 0`, true},
		{`default(missing, "fallback") == "fallback"`, true},
		{`default(out.stdout, "fallback") != "fallback"`, true},
	}
	for _, tc := range cases {
		if got := evalBool(t, tc.expr, scope); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.expr, tc.want, got)
		}
	}
}

func TestParseExprRejectsGarbage(t *testing.T) {
	if err := task.ParseExpr(`a ==`); err == nil {
		t.Fatal("dangling operator must fail to parse")
	}
	if err := task.ParseExpr(`build.ok && params.env == "x"`); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
}

func TestValidateRejectsBadExpressions(t *testing.T) {
	def := &task.Task{
		Name: "bad",
		Steps: []task.Step{
			{Command: &task.CommandSpec{Run: "true"}, When: "a =="},
		},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("bad when expression must fail validation at load")
	}
}

func TestValidateRejectsDuplicateParallelRegisters(t *testing.T) {
	def := &task.Task{
		Name: "dup",
		Steps: []task.Step{
			{Parallel: &task.ParallelGroup{Steps: []task.Step{
				{Command: &task.CommandSpec{Run: "true"}, Register: "same"},
				{Command: &task.CommandSpec{Run: "true"}, Register: "same"},
			}}},
		},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("sibling steps sharing a register name must be rejected")
	}
}
