package config

import (
	"github.com/kbukum/execkit/adapter/dockerx"
	"github.com/kbukum/execkit/adapter/kubex"
	"github.com/kbukum/execkit/adapter/local"
	"github.com/kbukum/execkit/adapter/sshx"
	"github.com/kbukum/execkit/audit"
	"github.com/kbukum/execkit/engine"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/secrets"
	"github.com/kbukum/execkit/target"
	"github.com/kbukum/execkit/task"
	"github.com/kbukum/execkit/transfer"
)

// System is the wired object graph a loaded document produces.
type System struct {
	Log      *logger.Logger
	Secrets  secrets.Reader
	Registry *target.Registry
	Engine   *engine.Engine
	Runner   *task.Runner
	Transfer *transfer.Copier
}

// Build wires a document into a runnable system. The registry gets no
// KnownHosts verifier, so SSH targets in strict mode load their
// known_hosts files.
func Build(doc *Document, serviceName string) (*System, error) {
	doc.Logging.ApplyDefaults()
	if err := doc.Logging.Validate(); err != nil {
		return nil, err
	}
	log := logger.New(&doc.Logging, serviceName)

	reader := buildSecrets(doc.Secrets)

	registry := target.NewRegistry(reader, nil, log)
	if err := registerTargets(doc, registry); err != nil {
		return nil, err
	}
	if err := registry.Finalize(); err != nil {
		return nil, err
	}

	eng := engine.New(registry, doc.Engine, audit.NewLogger(log), log)

	runner := task.NewRunner(eng, log)
	for name, t := range doc.Tasks {
		def := t
		if def.Name == "" {
			def.Name = name
		}
		if err := runner.Register(&def); err != nil {
			return nil, err
		}
	}

	return &System{
		Log:      log,
		Secrets:  reader,
		Registry: registry,
		Engine:   eng,
		Runner:   runner,
		Transfer: transfer.New(registry, nil, log),
	}, nil
}

func buildSecrets(cfg SecretsConfig) secrets.Reader {
	switch {
	case cfg.File != "":
		return &secrets.File{Path: cfg.File}
	case cfg.EnvPrefix != "":
		return secrets.Env{Prefix: cfg.EnvPrefix}
	default:
		return nil
	}
}

// registerTargets applies defaults inheritance (per-type defaults under
// per-target values) and registers every declared target. The local
// target is always present.
func registerTargets(doc *Document, registry *target.Registry) error {
	localCfg := local.Config{}
	if doc.Targets.Local != nil {
		localCfg = *doc.Targets.Local
	}
	if err := registry.Register(&target.Spec{
		Name:  "local",
		Kind:  target.KindLocal,
		Local: &localCfg,
	}); err != nil {
		return err
	}

	for name, host := range doc.Targets.Hosts {
		cfg := host.Config
		applySSHDefaults(&cfg, doc.Defaults.SSH)
		if err := registry.Register(&target.Spec{
			Name:     "hosts." + name,
			Kind:     target.KindSSH,
			SSH:      &cfg,
			ProxyRef: host.Proxy,
		}); err != nil {
			return err
		}
	}

	for name, container := range doc.Targets.Containers {
		cfg := container
		applyDockerDefaults(&cfg, doc.Defaults.Docker)
		if err := registry.Register(&target.Spec{
			Name:   "containers." + name,
			Kind:   target.KindDocker,
			Docker: &cfg,
		}); err != nil {
			return err
		}
	}

	for name, pod := range doc.Targets.Pods {
		cfg := pod
		applyKubernetesDefaults(&cfg, doc.Defaults.Kubernetes)
		if err := registry.Register(&target.Spec{
			Name:       "pods." + name,
			Kind:       target.KindKubernetes,
			Kubernetes: &cfg,
		}); err != nil {
			return err
		}
	}

	return nil
}

// applySSHDefaults fills unset host fields from the per-type defaults.
func applySSHDefaults(cfg *sshx.Config, d SSHDefaults) {
	if cfg.Port == 0 && d.Port != 0 {
		cfg.Port = d.Port
	}
	if cfg.User == "" && d.User != "" {
		cfg.User = d.User
	}
	if cfg.KeyPath == "" && d.KeyPath != "" {
		cfg.KeyPath = d.KeyPath
	}
	if cfg.KnownHostsPath == "" && d.KnownHostsPath != "" {
		cfg.KnownHostsPath = d.KnownHostsPath
	}
	if cfg.HostKeyMode == "" && d.HostKeyMode != "" {
		cfg.HostKeyMode = sshx.HostKeyMode(d.HostKeyMode)
	}
	if d.Pool != nil && cfg.Pool.Max == 0 {
		cfg.Pool = *d.Pool
	}
	if cfg.KeepAliveInterval == 0 && d.KeepAliveInterval != 0 {
		cfg.KeepAliveInterval = d.KeepAliveInterval
	}
	if cfg.DefaultTimeout == 0 && d.DefaultTimeout != 0 {
		cfg.DefaultTimeout = d.DefaultTimeout
	}
}

func applyDockerDefaults(cfg *dockerx.Config, d DockerDefaults) {
	if cfg.Host == "" && d.Host != "" {
		cfg.Host = d.Host
	}
	if cfg.DefaultTimeout == 0 && d.DefaultTimeout != 0 {
		cfg.DefaultTimeout = d.DefaultTimeout
	}
}

func applyKubernetesDefaults(cfg *kubex.Config, d KubernetesDefaults) {
	if cfg.Namespace == "" && d.Namespace != "" {
		cfg.Namespace = d.Namespace
	}
	if cfg.Kubeconfig == "" && d.Kubeconfig != "" {
		cfg.Kubeconfig = d.Kubeconfig
	}
	if cfg.Context == "" && d.Context != "" {
		cfg.Context = d.Context
	}
	if cfg.DefaultTimeout == 0 && d.DefaultTimeout != 0 {
		cfg.DefaultTimeout = d.DefaultTimeout
	}
}
