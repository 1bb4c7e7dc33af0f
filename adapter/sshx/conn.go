package sshx

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/secrets"
)

// managedConn is one pooled SSH connection. Exec, SFTP, and port-forward
// channels all count against the same session cap.
type managedConn struct {
	client *ssh.Client
	cfg    *Config

	mu       sync.Mutex
	sessions int
	closed   bool
	healthy  bool

	keepAliveStop chan struct{}
}

// dial establishes the connection, tunneling through the proxy chain
// hop by hop. Each hop authenticates independently.
func dial(ctx context.Context, cfg *Config, reader secrets.Reader, kh KnownHosts, log *logger.Logger) (*managedConn, error) {
	client, err := dialClient(ctx, cfg, reader, kh)
	if err != nil {
		return nil, err
	}

	mc := &managedConn{
		client:        client,
		cfg:           cfg,
		healthy:       true,
		keepAliveStop: make(chan struct{}),
	}
	if cfg.KeepAliveInterval > 0 {
		go mc.keepAlive(log)
	}
	return mc, nil
}

func dialClient(ctx context.Context, cfg *Config, reader secrets.Reader, kh KnownHosts) (*ssh.Client, error) {
	methods, err := authMethods(cfg, reader)
	if err != nil {
		return nil, err
	}
	callback, err := hostKeyCallback(cfg, kh)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            methods,
		HostKeyCallback: callback,
		Timeout:         cfg.ConnectTimeout,
	}

	var raw net.Conn
	if cfg.Proxy != nil {
		// The proxy hop is a full client of its own; the final hop's TCP
		// stream is a direct-tcpip channel through it.
		proxyClient, err := dialClient(ctx, cfg.Proxy, reader, kh)
		if err != nil {
			return nil, err
		}
		raw, err = proxyClient.DialContext(ctx, "tcp", cfg.Addr())
		if err != nil {
			proxyClient.Close()
			return nil, errors.Connect(cfg.Addr(), err).WithDetail("proxy", cfg.Proxy.Addr())
		}
	} else {
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		raw, err = dialer.DialContext(ctx, "tcp", cfg.Addr())
		if err != nil {
			return nil, errors.Connect(cfg.Addr(), err)
		}
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, cfg.Addr(), clientCfg)
	if err != nil {
		raw.Close()
		return nil, classifyHandshakeError(cfg.Addr(), err)
	}
	return ssh.NewClient(conn, chans, reqs), nil
}

// classifyHandshakeError separates auth and host key failures from plain
// connect errors.
func classifyHandshakeError(addr string, err error) error {
	var ee *errors.ExecError
	if errors.As(err, &ee) {
		return ee
	}
	if _, ok := err.(*ssh.ServerAuthError); ok {
		return errors.Auth("authentication failed for "+addr, err)
	}
	return errors.Connect(addr, err)
}

// openSession reserves a channel slot and opens a session.
func (mc *managedConn) openSession() (*ssh.Session, error) {
	mc.mu.Lock()
	if mc.closed {
		mc.mu.Unlock()
		return nil, errors.Transport("connection closed", nil)
	}
	if mc.sessions >= mc.cfg.MaxSessions {
		mc.mu.Unlock()
		return nil, errors.Transport("connection channel cap reached", nil).
			WithDetail("max_sessions", mc.cfg.MaxSessions)
	}
	mc.sessions++
	mc.mu.Unlock()

	sess, err := mc.client.NewSession()
	if err != nil {
		mc.closeSession()
		mc.markUnhealthy()
		return nil, errors.Transport("open session", err)
	}
	return sess, nil
}

// closeSession releases a channel slot; the last one out closes a
// connection that was asked to shut down.
func (mc *managedConn) closeSession() {
	mc.mu.Lock()
	mc.sessions--
	shouldClose := mc.closed && mc.sessions == 0
	mc.mu.Unlock()
	if shouldClose {
		mc.client.Close()
	}
}

// shutdown closes the connection once all sessions drain.
func (mc *managedConn) shutdown() {
	mc.mu.Lock()
	if mc.closed {
		mc.mu.Unlock()
		return
	}
	mc.closed = true
	idle := mc.sessions == 0
	mc.mu.Unlock()

	close(mc.keepAliveStop)
	if idle {
		mc.client.Close()
	}
}

func (mc *managedConn) markUnhealthy() {
	mc.mu.Lock()
	mc.healthy = false
	mc.mu.Unlock()
}

// isHealthy is the pool's liveness test.
func (mc *managedConn) isHealthy() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.healthy && !mc.closed
}

// keepAlive pings the server; after the configured number of consecutive
// misses the connection is marked unhealthy so the pool evicts it.
func (mc *managedConn) keepAlive(log *logger.Logger) {
	ticker := time.NewTicker(mc.cfg.KeepAliveInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-mc.keepAliveStop:
			return
		case <-ticker.C:
		}

		replied := make(chan error, 1)
		go func() {
			_, _, err := mc.client.SendRequest("keepalive@openssh.com", true, nil)
			replied <- err
		}()

		select {
		case err := <-replied:
			if err != nil {
				misses++
			} else {
				misses = 0
			}
		case <-time.After(mc.cfg.KeepAliveInterval):
			misses++
		}

		if misses >= mc.cfg.KeepAliveMaxMiss {
			log.Warn("ssh keep-alive lost, evicting connection", logger.Fields(
				logger.FieldTarget, mc.cfg.Addr(),
				"misses", misses,
			))
			mc.markUnhealthy()
			return
		}
	}
}
