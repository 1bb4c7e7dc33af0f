// Package secrets defines the read-only boundary the engine uses to
// resolve sensitive material (key passphrases, passwords, tokens). The
// engine never persists secret values; it resolves them at target binding
// time and hands them to adapters.
package secrets
