package kubex

import (
	"fmt"
	"time"
)

// PickStrategy chooses one pod when a selector matches several.
type PickStrategy string

const (
	PickFirst  PickStrategy = "first"
	PickRandom PickStrategy = "random"
	PickNewest PickStrategy = "newest"
)

// Config configures one Kubernetes target.
type Config struct {
	// Name identifies the binding (e.g. "pods.frontend").
	Name string `yaml:"name,omitempty" mapstructure:"name"`
	// Namespace defaults to "default".
	Namespace string `yaml:"namespace,omitempty" mapstructure:"namespace"`

	// Pod selects by exact name. Mutually exclusive with LabelSelector.
	Pod string `yaml:"pod,omitempty" mapstructure:"pod"`
	// LabelSelector selects by label expression (e.g. "app=frontend").
	LabelSelector string `yaml:"label_selector,omitempty" mapstructure:"label_selector"`
	// FieldSelector narrows matches by field (e.g. "status.phase=Running").
	FieldSelector string `yaml:"field_selector,omitempty" mapstructure:"field_selector"`
	// Pick resolves multi-pod matches. Defaults to first.
	Pick PickStrategy `yaml:"pick,omitempty" mapstructure:"pick"`

	// Container names the container inside the pod. Empty uses the first.
	Container string `yaml:"container,omitempty" mapstructure:"container"`

	// Kubeconfig points at a kubeconfig file. Empty tries in-cluster
	// config first, then the default path.
	Kubeconfig string `yaml:"kubeconfig,omitempty" mapstructure:"kubeconfig"`
	// Context overrides the kubeconfig's current context.
	Context string `yaml:"context,omitempty" mapstructure:"context"`

	// Env is the target-level environment overlaid under command env.
	Env map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	// DefaultTimeout bounds commands that carry no timeout of their own.
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty" mapstructure:"default_timeout"`
}

// ApplyDefaults applies default values.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.Pick == "" {
		c.Pick = PickFirst
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pod == "" && c.LabelSelector == "" && c.FieldSelector == "" {
		return fmt.Errorf("kubernetes: pod, label_selector, or field_selector is required")
	}
	if c.Pod != "" && c.LabelSelector != "" {
		return fmt.Errorf("kubernetes: pod and label_selector are mutually exclusive")
	}
	switch c.Pick {
	case PickFirst, PickRandom, PickNewest:
	default:
		return fmt.Errorf("kubernetes: pick must be first, random, or newest (got: %s)", c.Pick)
	}
	return nil
}
