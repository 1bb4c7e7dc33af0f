package config

import (
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/execkit/adapter/dockerx"
	"github.com/kbukum/execkit/adapter/kubex"
	"github.com/kbukum/execkit/adapter/local"
	"github.com/kbukum/execkit/adapter/sshx"
	"github.com/kbukum/execkit/engine"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/pool"
	"github.com/kbukum/execkit/task"
)

// SSHTarget is the document form of an SSH target: the adapter config plus
// a proxy reference by target name.
type SSHTarget struct {
	sshx.Config `mapstructure:",squash" yaml:",inline"`
	// Proxy names another hosts.* target used as the jump host.
	Proxy string `yaml:"proxy,omitempty" mapstructure:"proxy"`
}

// Targets groups target declarations by kind, giving each its dotted
// prefix: hosts.*, containers.*, pods.*, and the implicit local.
type Targets struct {
	Local      *local.Config            `yaml:"local,omitempty" mapstructure:"local"`
	Hosts      map[string]SSHTarget     `yaml:"hosts,omitempty" mapstructure:"hosts"`
	Containers map[string]dockerx.Config `yaml:"containers,omitempty" mapstructure:"containers"`
	Pods       map[string]kubex.Config  `yaml:"pods,omitempty" mapstructure:"pods"`
}

// Defaults are overlaid under every target of the matching kind.
type Defaults struct {
	SSH        SSHDefaults        `yaml:"ssh,omitempty" mapstructure:"ssh"`
	Docker     DockerDefaults     `yaml:"docker,omitempty" mapstructure:"docker"`
	Kubernetes KubernetesDefaults `yaml:"kubernetes,omitempty" mapstructure:"kubernetes"`
}

// SSHDefaults hold the per-type defaults an individual host inherits.
type SSHDefaults struct {
	Port              int           `yaml:"port,omitempty" mapstructure:"port"`
	User              string        `yaml:"user,omitempty" mapstructure:"user"`
	KeyPath           string        `yaml:"key_path,omitempty" mapstructure:"key_path"`
	KnownHostsPath    string        `yaml:"known_hosts_path,omitempty" mapstructure:"known_hosts_path"`
	HostKeyMode       string        `yaml:"host_key_mode,omitempty" mapstructure:"host_key_mode"`
	Pool              *pool.Config  `yaml:"pool,omitempty" mapstructure:"pool"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval,omitempty" mapstructure:"keep_alive_interval"`
	DefaultTimeout    time.Duration `yaml:"default_timeout,omitempty" mapstructure:"default_timeout"`
}

// DockerDefaults hold the per-type defaults an individual container
// target inherits.
type DockerDefaults struct {
	Host           string        `yaml:"host,omitempty" mapstructure:"host"`
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty" mapstructure:"default_timeout"`
}

// KubernetesDefaults hold the per-type defaults an individual pod target
// inherits.
type KubernetesDefaults struct {
	Namespace      string        `yaml:"namespace,omitempty" mapstructure:"namespace"`
	Kubeconfig     string        `yaml:"kubeconfig,omitempty" mapstructure:"kubeconfig"`
	Context        string        `yaml:"context,omitempty" mapstructure:"context"`
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty" mapstructure:"default_timeout"`
}

// SecretsConfig selects the secrets reader backing the engine.
type SecretsConfig struct {
	// File points at a 0600 key=value file.
	File string `yaml:"file,omitempty" mapstructure:"file"`
	// EnvPrefix reads secrets from prefixed environment variables.
	EnvPrefix string `yaml:"env_prefix,omitempty" mapstructure:"env_prefix"`
}

// Document is the whole configuration file.
type Document struct {
	Logging  logger.Config        `yaml:"logging,omitempty" mapstructure:"logging"`
	Engine   engine.Options       `yaml:"engine,omitempty" mapstructure:"engine"`
	Secrets  SecretsConfig        `yaml:"secrets,omitempty" mapstructure:"secrets"`
	Defaults Defaults             `yaml:"defaults,omitempty" mapstructure:"defaults"`
	Targets  Targets              `yaml:"targets,omitempty" mapstructure:"targets"`
	Profiles map[string]*Document `yaml:"profiles,omitempty" mapstructure:"profiles"`
	Tasks    map[string]task.Task `yaml:"tasks,omitempty" mapstructure:"tasks"`
}

// Load reads, overlays, and strictly decodes a configuration file. When
// profile is non-empty, its section is merged over the base document
// before decoding.
func Load(path, profile string, envFile string) (*Document, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Configf("load env file %s: %v", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Configf("read config %s: %v", path, err)
	}

	if profile != "" {
		sub := v.Sub("profiles." + profile)
		if sub == nil {
			return nil, errors.Configf("profile %q is not defined", profile)
		}
		if err := v.MergeConfigMap(sub.AllSettings()); err != nil {
			return nil, errors.Configf("merge profile %q: %v", profile, err)
		}
	}

	var doc Document
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	err := v.Unmarshal(&doc, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = decodeHook
		// Unknown keys are configuration mistakes; the error names the path.
		dc.ErrorUnused = true
	})
	if err != nil {
		return nil, errors.Configf("decode config %s: %v", path, err)
	}

	return &doc, nil
}
