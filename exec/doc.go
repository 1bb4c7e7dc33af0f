// Package exec defines the command and result model shared by every
// adapter, plus the per-execution output sinks.
//
// A Command is an immutable value: every With method returns a copy, so a
// base command can be specialized per target without aliasing. A Result is
// frozen after construction; helpers read captured output as lines or JSON.
package exec
