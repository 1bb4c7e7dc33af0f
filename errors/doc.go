// Package errors provides unified error handling for the execution engine.
// It implements a closed set of machine-readable error kinds with retryable
// detection and process exit-status mapping, so every adapter failure
// surfaces in the same shape.
package errors
