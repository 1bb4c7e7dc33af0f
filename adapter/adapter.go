package adapter

import (
	"context"
	"io"

	"github.com/kbukum/execkit/exec"
)

// Adapter executes commands against one kind of target.
// All backends must implement this core interface.
type Adapter interface {
	// Name returns the bound target identifier (e.g. "hosts.web-1").
	Name() string

	// Execute runs the command, wiring its output through the sinks, and
	// returns the result. A non-zero exit is a normal result here; policy
	// (throw/retry) belongs to the engine.
	Execute(ctx context.Context, cmd exec.Command, sinks *exec.Sinks) (*exec.Result, error)

	// Close releases transport resources owned by the binding.
	Close(ctx context.Context) error
}

// Copier is optionally implemented by adapters that support file transfer
// between the local filesystem and the target.
type Copier interface {
	// Upload copies a local file or directory tree to the target.
	Upload(ctx context.Context, localPath, remotePath string) error
	// Download copies a target file or directory tree to the local filesystem.
	Download(ctx context.Context, remotePath, localPath string) error
}

// Forwarder is optionally implemented by adapters that support forwarding a
// local listener to an address reachable from the target.
type Forwarder interface {
	// Forward starts forwarding localAddr to remoteAddr and returns a stop
	// function that closes the listener and all proxied connections.
	Forward(ctx context.Context, localAddr, remoteAddr string) (stop func() error, err error)
}

// HealthChecker is optionally implemented by adapters that can verify their
// backing daemon, cluster, or connection is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// LogStreamer is optionally implemented by adapters whose targets produce a
// log stream independent of command execution.
type LogStreamer interface {
	StreamLogs(ctx context.Context, opts LogOptions) (io.ReadCloser, error)
}

// LogOptions controls log streaming.
type LogOptions struct {
	Tail       int  // last N lines (0 = all)
	Follow     bool // keep the stream open
	Timestamps bool // prefix lines with timestamps
}
