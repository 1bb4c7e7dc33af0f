// Package local executes commands as child processes on the current host.
// Children run in their own process group so termination reaches the whole
// tree: SIGTERM first, SIGKILL after the grace window.
package local
