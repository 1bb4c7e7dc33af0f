package dockerx

import (
	"fmt"
	"time"
)

// RunMode selects how commands reach a container.
type RunMode string

const (
	// ModeExec runs inside an existing, running container.
	ModeExec RunMode = "exec"
	// ModeRun creates a fresh container from the configured image per command.
	ModeRun RunMode = "run"
	// ModeHybrid execs when the named container runs, otherwise creates and
	// starts it from the create spec and then execs.
	ModeHybrid RunMode = "hybrid"
)

// CreateSpec describes the container ModeRun (and ModeHybrid fallback)
// creates.
type CreateSpec struct {
	Image         string            `yaml:"image" mapstructure:"image"`
	Env           map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	Volumes       []string          `yaml:"volumes,omitempty" mapstructure:"volumes"`
	Ports         []string          `yaml:"ports,omitempty" mapstructure:"ports"`
	Network       string            `yaml:"network,omitempty" mapstructure:"network"`
	CPULimit      string            `yaml:"cpu_limit,omitempty" mapstructure:"cpu_limit"`
	MemoryLimit   string            `yaml:"memory_limit,omitempty" mapstructure:"memory_limit"`
	RestartPolicy string            `yaml:"restart_policy,omitempty" mapstructure:"restart_policy"`
	AutoRemove    bool              `yaml:"auto_remove,omitempty" mapstructure:"auto_remove"`
	Labels        map[string]string `yaml:"labels,omitempty" mapstructure:"labels"`
}

// Config configures one Docker target.
type Config struct {
	// Name identifies the binding (e.g. "containers.app").
	Name string `yaml:"name,omitempty" mapstructure:"name"`
	// Container is the container id or name for exec and hybrid modes.
	Container string `yaml:"container,omitempty" mapstructure:"container"`
	// Mode defaults to exec.
	Mode RunMode `yaml:"mode,omitempty" mapstructure:"mode"`
	// Create is the container spec for run and hybrid modes.
	Create *CreateSpec `yaml:"create,omitempty" mapstructure:"create"`

	// Host is the daemon endpoint (unix socket or tcp). Empty uses the
	// environment default.
	Host string `yaml:"host,omitempty" mapstructure:"host"`
	// APIVersion pins the negotiated API version.
	APIVersion string `yaml:"api_version,omitempty" mapstructure:"api_version"`

	// Env is the target-level environment overlaid under command env.
	Env map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	// DefaultTimeout bounds commands that carry no timeout of their own.
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty" mapstructure:"default_timeout"`
	// HealthyTimeout bounds WaitHealthy.
	HealthyTimeout time.Duration `yaml:"healthy_timeout,omitempty" mapstructure:"healthy_timeout"`
}

// ApplyDefaults applies default values.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeExec
	}
	if c.HealthyTimeout <= 0 {
		c.HealthyTimeout = 60 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeExec:
		if c.Container == "" {
			return fmt.Errorf("docker: exec mode requires container")
		}
	case ModeRun:
		if c.Create == nil || c.Create.Image == "" {
			return fmt.Errorf("docker: run mode requires create.image")
		}
	case ModeHybrid:
		if c.Container == "" {
			return fmt.Errorf("docker: hybrid mode requires container")
		}
		if c.Create == nil || c.Create.Image == "" {
			return fmt.Errorf("docker: hybrid mode requires create.image")
		}
	default:
		return fmt.Errorf("docker: mode must be exec, run, or hybrid (got: %s)", c.Mode)
	}
	return nil
}
