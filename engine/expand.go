package engine

import (
	"fmt"
	"os"
	"strings"
)

// Vars is the expansion scope for ${...} references in command argv and
// env values. The orchestrator passes the task scope; ad-hoc executions
// usually pass nil.
type Vars map[string]any

// Expand substitutes ${name} and $name references. Dotted references
// traverse nested maps ("${deploy.stdout}"). Unknown references expand to
// the empty string, mirroring shell behavior.
func (v Vars) Expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string {
		val, ok := v.lookup(name)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%v", val)
	})
}

// lookup resolves a possibly dotted reference against the scope.
func (v Vars) lookup(name string) (any, bool) {
	if v == nil {
		return nil, false
	}
	if val, ok := v[name]; ok {
		return val, true
	}

	parts := strings.Split(name, ".")
	var current any = map[string]any(v)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
