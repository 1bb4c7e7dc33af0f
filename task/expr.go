package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"
)

// exprLang is the orchestrator's expression language: gval's full operator
// set plus a small builtin function set. Side-effect free by construction;
// expressions only read the scope snapshot they are handed.
var exprLang = gval.NewLanguage(
	gval.Full(),
	// Unknown references resolve to nil instead of erroring, and property
	// access on nil stays nil: "when" over absent registers is false, not
	// a failure.
	gval.VariableSelector(func(path gval.Evaluables) gval.Evaluable {
		return func(c context.Context, parameter any) (any, error) {
			keys, err := path.EvalStrings(c, parameter)
			if err != nil {
				return nil, err
			}
			current := parameter
			for _, key := range keys {
				m, ok := current.(map[string]any)
				if !ok {
					return nil, nil
				}
				current = m[key]
			}
			return current, nil
		}
	}),
	gval.Function("includes", func(haystack, needle any) bool {
		switch h := haystack.(type) {
		case string:
			return strings.Contains(h, fmt.Sprintf("%v", needle))
		case []any:
			for _, item := range h {
				if fmt.Sprintf("%v", item) == fmt.Sprintf("%v", needle) {
					return true
				}
			}
		}
		return false
	}),
	gval.Function("startsWith", func(s, prefix any) bool {
		return strings.HasPrefix(fmt.Sprintf("%v", s), fmt.Sprintf("%v", prefix))
	}),
	gval.Function("trim", func(s any) string {
		return strings.TrimSpace(fmt.Sprintf("%v", s))
	}),
	gval.Function("length", func(v any) int {
		switch x := v.(type) {
		case string:
			return len(x)
		case []any:
			return len(x)
		case map[string]any:
			return len(x)
		case nil:
			return 0
		}
		return len(fmt.Sprintf("%v", v))
	}),
	gval.Function("default", func(v, fallback any) any {
		if v == nil {
			return fallback
		}
		if s, ok := v.(string); ok && s == "" {
			return fallback
		}
		return v
	}),
)

// ParseExpr statically checks an expression at load time.
func ParseExpr(expr string) error {
	_, err := exprLang.NewEvaluable(expr)
	return err
}

// EvalExpr evaluates an expression against a scope snapshot. Unknown
// references are nil, not errors; an evaluation error (a type mismatch
// against live values) surfaces so callers can decide.
func EvalExpr(ctx context.Context, expr string, scope map[string]any) (any, error) {
	eval, err := exprLang.NewEvaluable(expr)
	if err != nil {
		return nil, err
	}
	return eval(ctx, scope)
}

// EvalCondition evaluates a when-expression to a boolean. Undefined values
// and evaluation errors are false: a condition over absent names skips its
// step, never fails the task.
func EvalCondition(ctx context.Context, expr string, scope map[string]any) bool {
	if expr == "" {
		return true
	}
	value, err := EvalExpr(ctx, expr, scope)
	if err != nil {
		return false
	}
	return truthy(value)
}

// truthy follows the language's coercion: nil and empty values are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
