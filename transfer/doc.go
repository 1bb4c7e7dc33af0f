// Package transfer provides the uniform copy surface across targets.
// Either endpoint of a copy is a local path or a target-scoped path
// ("hosts.web-1:/var/log"); the dispatcher routes to the bound adapter's
// transport (SFTP, archive endpoint, tar-over-exec) or plain filesystem
// copy.
package transfer
