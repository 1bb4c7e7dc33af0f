package local

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kbukum/execkit/adapter"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/exec"
	"github.com/kbukum/execkit/logger"
)

// GracePeriod is how long a child gets between SIGTERM and SIGKILL.
const GracePeriod = 2 * time.Second

// compile-time assertions
var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Copier  = (*Adapter)(nil)
)

// Config configures the local adapter.
type Config struct {
	// Name identifies the binding. Defaults to "local".
	Name string `yaml:"name,omitempty" mapstructure:"name"`
	// Env is the target-level environment overlaid on the process env.
	Env map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	// DefaultTimeout bounds commands that carry no timeout of their own.
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty" mapstructure:"default_timeout"`
}

// ApplyDefaults applies default values.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "local"
	}
}

// Adapter runs commands as host child processes.
type Adapter struct {
	cfg Config
	log *logger.Logger
}

// New creates a local adapter.
func New(cfg Config, log *logger.Logger) *Adapter {
	cfg.ApplyDefaults()
	return &Adapter{cfg: cfg, log: log.WithComponent("adapter.local")}
}

// Name returns the binding identifier.
func (a *Adapter) Name() string { return a.cfg.Name }

// DefaultTimeout returns the target-level default timeout.
func (a *Adapter) DefaultTimeout() time.Duration { return a.cfg.DefaultTimeout }

// Execute spawns the command and waits for a terminal state.
func (a *Adapter) Execute(ctx context.Context, cmd exec.Command, sinks *exec.Sinks) (*exec.Result, error) {
	argv, err := buildArgv(cmd)
	if err != nil {
		return nil, err
	}

	c := osexec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // running caller commands is the point
	c.Dir = cmd.Cwd
	c.Env = buildEnv(a.cfg.Env, cmd)
	c.Stdout = sinks.Stdout
	c.Stderr = sinks.Stderr
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	// Own process group so termination reaches grandchildren too.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if cmd.User != "" {
		cred, err := resolveCredential(cmd.User)
		if err != nil {
			return nil, errors.Spawn(argv[0], err)
		}
		c.SysProcAttr.Credential = cred
	}

	// SIGTERM the group on cancellation; exec falls back to SIGKILL after
	// WaitDelay.
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
	c.WaitDelay = GracePeriod

	sinks.OnClose(func() {
		if c.Process != nil {
			_ = syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
		}
	})

	start := time.Now()
	runErr := c.Run()

	if runErr != nil && c.ProcessState == nil {
		// Never started: missing binary, permissions, bad cwd.
		if ctx.Err() != nil {
			return nil, errors.Cancelled(cmd.String()).WithCause(ctx.Err())
		}
		return nil, errors.Spawn(argv[0], runErr)
	}

	exitCode := c.ProcessState.ExitCode()
	signal := ""
	if status, ok := c.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		exitCode = -1
		signal = status.Signal().String()
	}

	result := exec.BuildResult(cmd, a.cfg.Name, start, exitCode, signal, sinks)

	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, errors.Timeout(cmd.String())
		}
		return result, errors.Cancelled(cmd.String()).WithCause(ctx.Err())
	}

	a.log.Debug("command finished", logger.Fields(
		logger.FieldExitCode, exitCode,
		logger.FieldDuration, result.Duration.Milliseconds(),
	))
	return result, nil
}

// Upload copies a file or directory into place on the local filesystem.
func (a *Adapter) Upload(ctx context.Context, localPath, remotePath string) error {
	return copyLocal(ctx, localPath, remotePath)
}

// Download is Upload with the endpoints swapped.
func (a *Adapter) Download(ctx context.Context, remotePath, localPath string) error {
	return copyLocal(ctx, remotePath, localPath)
}

// Close is a no-op; the local adapter owns no transport.
func (a *Adapter) Close(context.Context) error { return nil }

// buildArgv resolves the shell setting into the final argv vector.
func buildArgv(cmd exec.Command) ([]string, error) {
	if len(cmd.Argv) == 0 {
		return nil, errors.Config("command has no argv")
	}
	if cmd.Shell == "" {
		return cmd.Argv, nil
	}
	line := strings.Join(cmd.Argv, " ")
	return []string{cmd.Shell, "-c", line}, nil
}

// buildEnv produces the child environment: process env overlaid with the
// target env and the command env, unless the command replaces wholesale.
func buildEnv(targetEnv map[string]string, cmd exec.Command) []string {
	merged := make(map[string]string)
	if !cmd.ReplaceEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				merged[k] = v
			}
		}
		for k, v := range targetEnv {
			merged[k] = v
		}
	}
	for k, v := range cmd.Env {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// resolveCredential turns "uid:gid" or a user name into process credentials.
func resolveCredential(spec string) (*syscall.Credential, error) {
	if uidStr, gidStr, ok := strings.Cut(spec, ":"); ok {
		uid, err := strconv.ParseUint(uidStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid uid %q", uidStr)
		}
		gid, err := strconv.ParseUint(gidStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid gid %q", gidStr)
		}
		return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
	}

	u, err := user.Lookup(spec)
	if err != nil {
		return nil, err
	}
	uid, _ := strconv.ParseUint(u.Uid, 10, 32)
	gid, _ := strconv.ParseUint(u.Gid, 10, 32)
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}
