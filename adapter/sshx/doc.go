// Package sshx executes commands on remote hosts over SSH.
//
// Connections are pooled per (host, port, user, proxy chain) and reused
// across commands; each command runs on its own session channel, with a
// per-connection channel cap shared by exec, SFTP, and port-forward use.
// Proxy chains dial hop by hop. The pool key of the final host includes the
// whole chain; intermediate hops are dialed anew for every pooled
// connection and are not pooled themselves.
package sshx
