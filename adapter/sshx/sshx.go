package sshx

import (
	"context"
	"maps"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/kbukum/execkit/adapter"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/exec"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/pool"
	"github.com/kbukum/execkit/secrets"
)

// terminateGrace is the window between asking a remote process to stop and
// tearing down its channel.
const terminateGrace = 2 * time.Second

// compile-time assertions
var (
	_ adapter.Adapter       = (*Adapter)(nil)
	_ adapter.Copier        = (*Adapter)(nil)
	_ adapter.Forwarder     = (*Adapter)(nil)
	_ adapter.HealthChecker = (*Adapter)(nil)
)

// Adapter executes commands on one SSH target through pooled connections.
type Adapter struct {
	cfg     *Config
	secrets secrets.Reader
	known   KnownHosts
	conns   *pool.Pool[*managedConn]
	log     *logger.Logger
}

// New creates an SSH adapter. kh may be nil; strict mode then loads the
// configured known_hosts file.
func New(cfg Config, reader secrets.Reader, kh KnownHosts, log *logger.Logger) (*Adapter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Config(err.Error())
	}

	a := &Adapter{
		cfg:     &cfg,
		secrets: reader,
		known:   kh,
		log:     log.WithComponent("adapter.ssh"),
	}
	a.conns = pool.New(cfg.Pool, pool.Factory[*managedConn]{
		Create: func(ctx context.Context, _ string) (*managedConn, error) {
			return dial(ctx, a.cfg, a.secrets, a.known, a.log)
		},
		Test:    func(mc *managedConn) bool { return mc.isHealthy() },
		Destroy: func(mc *managedConn) { mc.shutdown() },
	}, log)
	return a, nil
}

// Name returns the binding identifier.
func (a *Adapter) Name() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	return a.cfg.PoolKey()
}

// DefaultTimeout returns the target-level default timeout.
func (a *Adapter) DefaultTimeout() time.Duration { return a.cfg.DefaultTimeout }

// Warm pre-establishes the pool's minimum connections.
func (a *Adapter) Warm(ctx context.Context) error {
	return a.conns.Warm(ctx, a.cfg.PoolKey())
}

// Execute runs the command on a pooled connection.
func (a *Adapter) Execute(ctx context.Context, cmd exec.Command, sinks *exec.Sinks) (*exec.Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, errors.Config("command has no argv")
	}

	lease, err := a.conns.Acquire(ctx, a.cfg.PoolKey())
	if err != nil {
		return nil, err
	}
	conn := lease.Resource

	sess, err := conn.openSession()
	if err != nil {
		// Cap or closed: the connection itself may still be usable; an
		// unhealthy one is evicted by the pool's liveness test.
		lease.Release()
		return nil, err
	}

	result, err := a.runSession(ctx, conn, sess, cmd, sinks)
	sess.Close()
	conn.closeSession()

	// A transport failure poisons the connection; a command failure does not.
	if err != nil && errors.Is(err, errors.KindTransport) {
		lease.Discard()
	} else {
		lease.Release()
	}
	return result, err
}

func (a *Adapter) runSession(ctx context.Context, conn *managedConn, sess *ssh.Session, cmd exec.Command, sinks *exec.Sinks) (*exec.Result, error) {
	env := make(map[string]string, len(a.cfg.Env)+len(cmd.Env))
	if !cmd.ReplaceEnv {
		maps.Copy(env, a.cfg.Env)
	}
	maps.Copy(env, cmd.Env)

	useSudo := cmd.User != "" && cmd.User != a.cfg.User
	rc := remoteCommand{
		env:        env,
		cwd:        cmd.Cwd,
		shell:      cmd.Shell,
		argv:       cmd.Argv,
		sudo:       useSudo,
		sudoCmd:    a.cfg.Sudo.Command,
		sudoUser:   cmd.User,
		sudoPrompt: a.cfg.Sudo.Prompt,
	}

	sess.Stdout = sinks.Stdout

	var prompt *promptWriter
	if useSudo {
		stdin, err := sess.StdinPipe()
		if err != nil {
			return nil, errors.Transport("open stdin pipe", err)
		}
		password := []byte{}
		if a.cfg.Sudo.PasswordSecret != "" {
			password, err = a.secrets.Get(a.cfg.Sudo.PasswordSecret)
			if err != nil {
				return nil, err
			}
		}
		prompt = newPromptWriter(sinks.Stderr, stdin, a.cfg.Sudo.Prompt, password)
		sess.Stderr = prompt
		if cmd.Stdin != nil {
			go func() {
				buf := make([]byte, 32<<10)
				for {
					n, rerr := cmd.Stdin.Read(buf)
					if n > 0 {
						if _, werr := stdin.Write(buf[:n]); werr != nil {
							return
						}
					}
					if rerr != nil {
						stdin.Close()
						return
					}
				}
			}()
		}
	} else {
		sess.Stderr = sinks.Stderr
		if cmd.Stdin != nil {
			sess.Stdin = cmd.Stdin
		}
	}

	line := rc.line()
	a.log.Debug("executing", logger.Fields(logger.FieldTarget, a.Name(), "command", cmd.String()))

	start := time.Now()
	if err := sess.Start(line); err != nil {
		conn.markUnhealthy()
		return nil, errors.Transport("start command", err)
	}

	sinks.OnClose(func() {
		_ = sess.Signal(ssh.SIGTERM)
	})

	waitDone := make(chan error, 1)
	go func() { waitDone <- sess.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		// Ask politely, then tear the channel down after the grace window.
		_ = sess.Signal(ssh.SIGTERM)
		select {
		case waitErr = <-waitDone:
		case <-time.After(terminateGrace):
			sess.Close()
			waitErr = <-waitDone
		}
	}

	exitCode, signal, convErr := exitStateFrom(waitErr)

	result := exec.BuildResult(cmd, a.Name(), start, exitCode, signal, sinks)

	if prompt != nil && prompt.Rejected() {
		return result, errors.Auth("sudo authentication failed on "+a.cfg.Addr(), nil)
	}
	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, errors.Timeout(cmd.String())
		}
		return result, errors.Cancelled(cmd.String()).WithCause(ctx.Err())
	}
	if convErr != nil {
		conn.markUnhealthy()
		return result, convErr
	}
	return result, nil
}

// exitStateFrom maps a session wait error onto exit code / signal.
func exitStateFrom(waitErr error) (exitCode int, signal string, err error) {
	if waitErr == nil {
		return 0, "", nil
	}
	if exitErr, ok := waitErr.(*ssh.ExitError); ok {
		if sig := exitErr.Signal(); sig != "" {
			return -1, sig, nil
		}
		return exitErr.ExitStatus(), "", nil
	}
	if _, ok := waitErr.(*ssh.ExitMissingError); ok {
		// Channel closed without status: treat as transport loss.
		return -1, "", errors.Transport("session ended without exit status", waitErr)
	}
	return -1, "", errors.Transport("session wait", waitErr)
}

// HealthCheck verifies a pooled connection can be acquired and has not been
// marked unhealthy (by a failed session open or missed keep-alives).
func (a *Adapter) HealthCheck(ctx context.Context) error {
	lease, err := a.conns.Acquire(ctx, a.cfg.PoolKey())
	if err != nil {
		return err
	}
	defer lease.Release()

	if !lease.Resource.isHealthy() {
		return errors.NotReady(a.cfg.Addr(), "unhealthy")
	}
	return nil
}

// Close drains the connection pool.
func (a *Adapter) Close(ctx context.Context) error {
	return a.conns.Shutdown(ctx)
}
