package errors

import "fmt"

// Config creates an ExecError for a configuration or validation failure.
func Config(message string) *ExecError {
	return New(KindConfig, message)
}

// Configf creates a formatted configuration error.
func Configf(format string, args ...any) *ExecError {
	return Newf(KindConfig, format, args...)
}

// TargetNotFound creates an ExecError for an unresolvable target name.
func TargetNotFound(name string) *ExecError {
	return Newf(KindTargetNotFound, "target %q does not resolve", name).
		WithDetail("target", name)
}

// Connect creates an ExecError for a transport establishment failure.
func Connect(endpoint string, cause error) *ExecError {
	return Wrap(KindConnect, fmt.Sprintf("could not connect to %s", endpoint), cause).
		WithDetail("endpoint", endpoint)
}

// Auth creates an ExecError for an authentication failure.
func Auth(message string, cause error) *ExecError {
	return Wrap(KindAuth, message, cause)
}

// HostKey creates an ExecError for host key verification failure.
func HostKey(host string, cause error) *ExecError {
	return Wrap(KindHostKey, fmt.Sprintf("host key verification failed for %s", host), cause).
		WithDetail("host", host)
}

// Transport creates an ExecError for a mid-operation transport failure.
func Transport(message string, cause error) *ExecError {
	return Wrap(KindTransport, message, cause)
}

// Spawn creates an ExecError for a local process that could not start.
func Spawn(binary string, cause error) *ExecError {
	return Wrap(KindSpawn, fmt.Sprintf("could not start %q", binary), cause).
		WithDetail("binary", binary)
}

// ContainerNotFound creates an ExecError for an absent container.
func ContainerNotFound(name string) *ExecError {
	return Newf(KindContainerNotFound, "container %q not found", name).
		WithDetail("container", name)
}

// PodNotFound creates an ExecError for an absent pod.
func PodNotFound(selector string) *ExecError {
	return Newf(KindPodNotFound, "no pod matches %q", selector).
		WithDetail("selector", selector)
}

// NotReady creates an ExecError for a resource that exists but is not ready.
func NotReady(resource, state string) *ExecError {
	return Newf(KindNotReady, "%s is not ready (state: %s)", resource, state).
		WithDetail("resource", resource).
		WithDetail("state", state)
}

// Timeout creates an ExecError for an exceeded effective timeout.
func Timeout(operation string) *ExecError {
	return Newf(KindTimeout, "%s timed out", operation).
		WithDetail("operation", operation)
}

// Cancelled creates an ExecError for a cancelled context.
func Cancelled(operation string) *ExecError {
	return Newf(KindCancelled, "%s cancelled", operation).
		WithDetail("operation", operation)
}

// NonZeroExit creates an ExecError for a remote process that exited non-zero.
func NonZeroExit(exitCode int) *ExecError {
	return Newf(KindNonZeroExit, "command exited with code %d", exitCode).
		WithDetail("exit_code", exitCode)
}

// IO creates an ExecError for a stream read/write failure.
func IO(message string, cause error) *ExecError {
	return Wrap(KindIO, message, cause)
}

// Parse creates an ExecError for failed structured parsing of output.
func Parse(what string, cause error) *ExecError {
	return Wrap(KindParse, fmt.Sprintf("could not parse %s", what), cause)
}

// Unavailable creates an ExecError for an unreachable daemon or cluster.
func Unavailable(service string, cause error) *ExecError {
	return Wrap(KindUnavailable, fmt.Sprintf("%s is unavailable", service), cause).
		WithDetail("service", service)
}
