// Package logger provides structured logging for execkit components.
// It wraps zerolog with component tagging and map-based fields so adapters,
// pools, and the orchestrator can share one configuration surface.
package logger
