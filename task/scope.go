package task

import (
	"maps"
	"sync"

	"github.com/kbukum/execkit/exec"
)

// Scope is the per-invocation variable store: parameters under "params",
// the task env under "env", and registered step outcomes at top level.
// Registered writes are atomic; readers work on snapshots.
type Scope struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewScope seeds a scope with parameters and task env.
func NewScope(params map[string]any, env map[string]string) *Scope {
	envAny := make(map[string]any, len(env))
	for k, v := range env {
		envAny[k] = v
	}
	if params == nil {
		params = map[string]any{}
	}
	return &Scope{data: map[string]any{
		"params": params,
		"env":    envAny,
	}}
}

// Register stores a value under a name, atomically.
func (s *Scope) Register(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = value
}

// Get retrieves a value. Absent names report false, never an empty value.
func (s *Scope) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[name]
	return v, ok
}

// Snapshot copies the scope for expression evaluation and expansion.
func (s *Scope) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]any, len(s.data))
	maps.Copy(snap, s.data)
	return snap
}

// resultValue shapes a command result for registration: the fields the
// expression language reads.
func resultValue(r *exec.Result) map[string]any {
	if r == nil {
		return map[string]any{"ok": false}
	}
	return map[string]any{
		"stdout":   r.Text(exec.Stdout),
		"stderr":   r.Text(exec.Stderr),
		"exitCode": r.ExitCode,
		"ok":       r.OK(),
	}
}
