package sshx

import (
	"fmt"
	"time"

	"github.com/kbukum/execkit/pool"
)

// HostKeyMode selects the host key verification policy.
type HostKeyMode string

const (
	// HostKeyStrict rejects unknown and mismatched host keys.
	HostKeyStrict HostKeyMode = "strict"
	// HostKeyInsecure accepts unknown keys on first use.
	HostKeyInsecure HostKeyMode = "insecure"
)

// SudoConfig configures privilege elevation.
type SudoConfig struct {
	// Command is the elevation command. Defaults to "sudo".
	Command string `yaml:"command,omitempty" mapstructure:"command"`
	// PasswordSecret names the secret holding the sudo password.
	PasswordSecret string `yaml:"password_secret,omitempty" mapstructure:"password_secret"`
	// Prompt is the marker sudo is told to print before reading the
	// password. Defaults to an unambiguous internal marker.
	Prompt string `yaml:"prompt,omitempty" mapstructure:"prompt"`
}

// Config configures one SSH target.
type Config struct {
	// Name identifies the binding (e.g. "hosts.web-1").
	Name string `yaml:"name,omitempty" mapstructure:"name"`
	// Host is the remote address. Required.
	Host string `yaml:"host" mapstructure:"host"`
	// Port defaults to 22.
	Port int `yaml:"port,omitempty" mapstructure:"port"`
	// User is the login name. Required.
	User string `yaml:"user" mapstructure:"user"`

	// KeyPath points at a private key file.
	KeyPath string `yaml:"key_path,omitempty" mapstructure:"key_path"`
	// PassphraseSecret names the secret holding the key passphrase.
	PassphraseSecret string `yaml:"passphrase_secret,omitempty" mapstructure:"passphrase_secret"`
	// UseAgent enables the SSH agent socket as an auth source.
	UseAgent bool `yaml:"use_agent,omitempty" mapstructure:"use_agent"`
	// PasswordSecret names the secret holding the login password.
	PasswordSecret string `yaml:"password_secret,omitempty" mapstructure:"password_secret"`

	// HostKeyMode defaults to strict.
	HostKeyMode HostKeyMode `yaml:"host_key_mode,omitempty" mapstructure:"host_key_mode"`
	// KnownHostsPath points at a known_hosts file for strict mode.
	KnownHostsPath string `yaml:"known_hosts_path,omitempty" mapstructure:"known_hosts_path"`

	// Proxy is the next hop toward this host (jump-host chains). Built by
	// the target registry from proxy references, not decoded from config.
	Proxy *Config `yaml:"-" mapstructure:"-"`

	// Pool bounds connections to this host.
	Pool pool.Config `yaml:"pool,omitempty" mapstructure:"pool"`
	// MaxSessions caps concurrent channels per connection.
	MaxSessions int `yaml:"max_sessions,omitempty" mapstructure:"max_sessions"`

	// KeepAliveInterval is the keep-alive ping period. Zero disables.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval,omitempty" mapstructure:"keep_alive_interval"`
	// KeepAliveMaxMiss marks the connection unhealthy after this many
	// consecutive missed replies.
	KeepAliveMaxMiss int `yaml:"keep_alive_max_miss,omitempty" mapstructure:"keep_alive_max_miss"`

	// ConnectTimeout bounds the TCP+handshake dial.
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty" mapstructure:"connect_timeout"`
	// DefaultTimeout bounds commands that carry no timeout of their own.
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty" mapstructure:"default_timeout"`

	// Env is the target-level environment overlaid under command env.
	Env map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	// Sudo configures privilege elevation for commands whose user is set
	// and differs from the login user.
	Sudo SudoConfig `yaml:"sudo,omitempty" mapstructure:"sudo"`
	// TransferConcurrency bounds parallel file uploads in directory copies.
	TransferConcurrency int `yaml:"transfer_concurrency,omitempty" mapstructure:"transfer_concurrency"`
}

// ApplyDefaults applies default values.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.HostKeyMode == "" {
		c.HostKeyMode = HostKeyStrict
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 8
	}
	if c.KeepAliveMaxMiss <= 0 {
		c.KeepAliveMaxMiss = 3
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.Sudo.Command == "" {
		c.Sudo.Command = "sudo"
	}
	if c.Sudo.Prompt == "" {
		c.Sudo.Prompt = "__execkit_sudo__"
	}
	if c.TransferConcurrency <= 0 {
		c.TransferConcurrency = 4
	}
	c.Pool.ApplyDefaults()
	if c.Proxy != nil {
		c.Proxy.ApplyDefaults()
	}
}

// Validate validates the configuration, including the proxy chain.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("ssh: host is required")
	}
	if c.User == "" {
		return fmt.Errorf("ssh: user is required")
	}
	if c.HostKeyMode != HostKeyStrict && c.HostKeyMode != HostKeyInsecure {
		return fmt.Errorf("ssh: host_key_mode must be strict or insecure (got: %s)", c.HostKeyMode)
	}
	if c.HostKeyMode == HostKeyStrict && c.KnownHostsPath == "" {
		return fmt.Errorf("ssh: strict host_key_mode requires known_hosts_path")
	}

	// Walk the proxy chain; cycles are detected by address since chains are
	// built from target references.
	seen := map[string]bool{c.Addr(): true}
	for hop := c.Proxy; hop != nil; hop = hop.Proxy {
		if seen[hop.Addr()] {
			return fmt.Errorf("ssh: proxy chain cycle through %s", hop.Addr())
		}
		seen[hop.Addr()] = true
		if hop.Host == "" || hop.User == "" {
			return fmt.Errorf("ssh: proxy hop missing host or user")
		}
	}
	return nil
}

// Addr returns the dial address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PoolKey identifies the connection pool bucket for this host, including
// the proxy chain so the same endpoint through different hops is pooled
// separately.
func (c *Config) PoolKey() string {
	key := fmt.Sprintf("%s@%s", c.User, c.Addr())
	if c.Proxy != nil {
		key += "|" + c.Proxy.PoolKey()
	}
	return key
}
