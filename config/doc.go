// Package config loads the declarative document that drives the engine:
// targets, defaults, profiles, and tasks. Unknown keys are rejected with a
// diagnostic naming the offending path; a selected profile overlays onto
// the base document before decoding.
package config
