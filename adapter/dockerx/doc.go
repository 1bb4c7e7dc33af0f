// Package dockerx executes commands in containers through the Docker
// Engine API.
//
// Three run modes cover the target shapes: exec runs inside an existing
// container, run creates a container from an image for the duration of the
// command, and hybrid execs when the named container is already running and
// otherwise creates and starts that container from the create spec, then
// execs in it.
package dockerx
