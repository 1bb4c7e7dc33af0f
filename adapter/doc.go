// Package adapter defines the contract every execution backend implements.
//
// An Adapter turns one exec.Command into one exec.Result against its kind
// of target (host process, SSH host, container, pod). Optional capability
// interfaces expose file transfer, port forwarding, and health checks where
// the transport supports them; callers type-assert, the same way optional
// features are discovered on workload managers.
package adapter
