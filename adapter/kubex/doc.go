// Package kubex executes commands in Kubernetes pods through the cluster
// API: exec over SPDY channels, port-forward tunnels, and log streaming.
// Pod selection supports exact names, label selectors with a pick
// strategy, and field selectors.
package kubex
