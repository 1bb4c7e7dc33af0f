package sshx

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
)

// Forward listens on localAddr and proxies each accepted connection to
// remoteAddr through the SSH connection (direct-tcpip). The returned stop
// function closes the listener, every proxied connection, and releases the
// pooled connection.
func (a *Adapter) Forward(ctx context.Context, localAddr, remoteAddr string) (func() error, error) {
	lease, err := a.conns.Acquire(ctx, a.cfg.PoolKey())
	if err != nil {
		return nil, err
	}
	conn := lease.Resource

	listener, err := net.Listen("tcp", localAddr)
	if err != nil {
		lease.Release()
		return nil, errors.IO("listen on "+localAddr, err)
	}

	var (
		mu     sync.Mutex
		open   []net.Conn
		closed bool
	)

	track := func(c net.Conn) bool {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return false
		}
		open = append(open, c)
		return true
	}

	go func() {
		for {
			local, err := listener.Accept()
			if err != nil {
				return
			}
			if !track(local) {
				local.Close()
				return
			}

			go func() {
				remote, err := conn.client.DialContext(ctx, "tcp", remoteAddr)
				if err != nil {
					a.log.Warn("forward dial failed", logger.ErrorFields("forward", err))
					local.Close()
					return
				}
				if !track(remote) {
					remote.Close()
					local.Close()
					return
				}

				var wg sync.WaitGroup
				wg.Add(2)
				go func() { defer wg.Done(); io.Copy(remote, local) }() //nolint:errcheck
				go func() { defer wg.Done(); io.Copy(local, remote) }() //nolint:errcheck
				wg.Wait()
				local.Close()
				remote.Close()
			}()
		}
	}()

	stop := func() error {
		mu.Lock()
		closed = true
		conns := open
		open = nil
		mu.Unlock()

		err := listener.Close()
		for _, c := range conns {
			c.Close()
		}
		lease.Release()
		return err
	}
	return stop, nil
}
