// Package pool provides a generic keyed resource pool with borrow/return
// semantics, FIFO waiters, liveness testing, and idle eviction. The SSH
// adapter pools client connections through it; any transport with
// create/test/destroy operations can plug in.
package pool
