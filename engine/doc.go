// Package engine is the single entry point for running commands.
//
// Execute resolves the target to an adapter and applies the cross-cutting
// policy the adapters don't carry themselves: effective timeouts, retry
// with backoff, variable expansion, output routing, non-zero-exit policy,
// and audit records. ExecuteAll fans a command out across a target glob.
package engine
