// Package task interprets declarative multi-step workflows.
//
// A task is a named, parameterized list of steps: commands, references to
// other tasks, script expressions, and parallel groups. The runner drives
// each step through the execution engine, maintains the per-invocation
// variable scope, applies per-step failure policy, and guarantees cleanup
// steps run during unwinding. Tasks declared with several targets dispatch
// one isolated invocation per target.
package task
