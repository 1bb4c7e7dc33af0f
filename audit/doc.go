// Package audit emits structured records for every engine execution.
// Sinks are best-effort: a failing sink never blocks or fails the
// operation it describes.
package audit
