package dockerx

import (
	"context"
	"maps"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/kbukum/execkit/adapter"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/exec"
	"github.com/kbukum/execkit/logger"
)

// compile-time assertions
var (
	_ adapter.Adapter       = (*Adapter)(nil)
	_ adapter.Copier        = (*Adapter)(nil)
	_ adapter.HealthChecker = (*Adapter)(nil)
	_ adapter.LogStreamer   = (*Adapter)(nil)
)

// Adapter executes commands against one Docker target.
type Adapter struct {
	cfg    *Config
	client client.APIClient
	log    *logger.Logger
}

// New creates a Docker adapter against the configured daemon endpoint.
func New(cfg Config, log *logger.Logger) (*Adapter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Config(err.Error())
	}

	opts := []client.Opt{client.FromEnv}
	if cfg.Host != "" {
		opts = []client.Opt{client.WithHost(cfg.Host)}
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Unavailable("docker daemon", err)
	}
	return newWithClient(cfg, cli, log), nil
}

// newWithClient wires an adapter over an existing API client. Tests inject
// fakes through it.
func newWithClient(cfg Config, cli client.APIClient, log *logger.Logger) *Adapter {
	return &Adapter{cfg: &cfg, client: cli, log: log.WithComponent("adapter.docker")}
}

// Name returns the binding identifier.
func (a *Adapter) Name() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	return "docker:" + a.cfg.Container
}

// DefaultTimeout returns the target-level default timeout.
func (a *Adapter) DefaultTimeout() time.Duration { return a.cfg.DefaultTimeout }

// Execute routes the command through the configured run mode.
func (a *Adapter) Execute(ctx context.Context, cmd exec.Command, sinks *exec.Sinks) (*exec.Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, errors.Config("command has no argv")
	}

	switch a.cfg.Mode {
	case ModeExec:
		return a.execInContainer(ctx, a.cfg.Container, cmd, sinks)
	case ModeRun:
		return a.runContainer(ctx, cmd, sinks)
	default: // hybrid
		running, err := a.isRunning(ctx, a.cfg.Container)
		if err != nil && !errors.Is(err, errors.KindContainerNotFound) {
			return nil, err
		}
		if running {
			return a.execInContainer(ctx, a.cfg.Container, cmd, sinks)
		}
		if err := a.createAndStart(ctx, a.cfg.Container); err != nil {
			return nil, err
		}
		return a.execInContainer(ctx, a.cfg.Container, cmd, sinks)
	}
}

// execInContainer creates an exec instance, attaches, streams, and reads
// the exit code once the stream closes.
func (a *Adapter) execInContainer(ctx context.Context, containerID string, cmd exec.Command, sinks *exec.Sinks) (*exec.Result, error) {
	execCfg := container.ExecOptions{
		Cmd:          buildArgv(cmd),
		Env:          buildEnvList(a.cfg.Env, cmd),
		WorkingDir:   cmd.Cwd,
		User:         cmd.User,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  cmd.Stdin != nil,
	}

	created, err := a.client.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, a.translate(containerID, "exec create", err)
	}

	attach, err := a.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, a.translate(containerID, "exec attach", err)
	}
	defer attach.Close()

	start := time.Now()

	sinks.OnClose(func() { attach.Close() })

	if cmd.Stdin != nil {
		go func() {
			buf := make([]byte, 32<<10)
			for {
				n, rerr := cmd.Stdin.Read(buf)
				if n > 0 {
					if _, werr := attach.Conn.Write(buf[:n]); werr != nil {
						return
					}
				}
				if rerr != nil {
					attach.CloseWrite() //nolint:errcheck
					return
				}
			}
		}()
	}

	// The attach stream multiplexes stdout/stderr; stdcopy demuxes into
	// the sinks, which applies back-pressure to the daemon read.
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(sinks.Stdout, sinks.Stderr, attach.Reader)
		copyDone <- err
	}()

	select {
	case err = <-copyDone:
	case <-ctx.Done():
		attach.Close()
		<-copyDone
		result := exec.BuildResult(cmd, a.Name(), start, -1, "", sinks)
		if ctx.Err() == context.DeadlineExceeded {
			return result, errors.Timeout(cmd.String())
		}
		return result, errors.Cancelled(cmd.String()).WithCause(ctx.Err())
	}
	if err != nil {
		return nil, errors.Transport("exec stream", err)
	}

	inspect, err := a.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, a.translate(containerID, "exec inspect", err)
	}

	return exec.BuildResult(cmd, a.Name(), start, inspect.ExitCode, "", sinks), nil
}

// isRunning reports whether the named container exists and runs.
func (a *Adapter) isRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := a.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, a.translate(containerID, "inspect", err)
	}
	return info.State != nil && info.State.Running, nil
}

// translate maps daemon errors onto the engine's error kinds.
func (a *Adapter) translate(containerID, op string, err error) error {
	switch {
	case client.IsErrNotFound(err):
		return errors.ContainerNotFound(containerID)
	case client.IsErrConnectionFailed(err):
		return errors.Unavailable("docker daemon", err)
	default:
		return errors.Transport("docker "+op, err)
	}
}

// buildArgv resolves the shell setting into the exec argv.
func buildArgv(cmd exec.Command) []string {
	if cmd.Shell == "" {
		return cmd.Argv
	}
	line := cmd.Argv[0]
	for _, a := range cmd.Argv[1:] {
		line += " " + a
	}
	return []string{cmd.Shell, "-c", line}
}

// buildEnvList merges target and command env into KEY=VALUE form. With
// ReplaceEnv only the command env reaches the container.
func buildEnvList(targetEnv map[string]string, cmd exec.Command) []string {
	merged := make(map[string]string, len(targetEnv)+len(cmd.Env))
	if !cmd.ReplaceEnv {
		maps.Copy(merged, targetEnv)
	}
	maps.Copy(merged, cmd.Env)

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// Close releases the API client.
func (a *Adapter) Close(context.Context) error {
	return a.client.Close()
}
