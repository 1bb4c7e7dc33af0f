package sshx

import (
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/kbukum/execkit/errors"
)

// Verdict is the outcome of a host key check.
type Verdict string

const (
	VerdictTrusted  Verdict = "trusted"
	VerdictUnknown  Verdict = "unknown"
	VerdictMismatch Verdict = "mismatch"
)

// KnownHosts is the caller-supplied verification boundary. Implementations
// must not mutate their backing store as a side effect of Verify.
type KnownHosts interface {
	Verify(hostname string, remote net.Addr, key ssh.PublicKey) Verdict
}

// FileKnownHosts verifies against an OpenSSH known_hosts file.
type FileKnownHosts struct {
	callback ssh.HostKeyCallback
}

// NewFileKnownHosts loads a known_hosts file.
func NewFileKnownHosts(path string) (*FileKnownHosts, error) {
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, errors.Configf("ssh: load known_hosts %s: %v", path, err)
	}
	return &FileKnownHosts{callback: callback}, nil
}

// Verify implements KnownHosts.
func (f *FileKnownHosts) Verify(hostname string, remote net.Addr, key ssh.PublicKey) Verdict {
	err := f.callback(hostname, remote, key)
	if err == nil {
		return VerdictTrusted
	}
	if ke, ok := err.(*knownhosts.KeyError); ok && len(ke.Want) > 0 {
		return VerdictMismatch
	}
	return VerdictUnknown
}

// hostKeyCallback builds the ssh.HostKeyCallback for a config. Strict mode
// rejects anything not trusted; insecure mode accepts unknown keys on
// first use but still rejects mismatches when a verifier is available.
func hostKeyCallback(cfg *Config, kh KnownHosts) (ssh.HostKeyCallback, error) {
	if kh == nil && cfg.HostKeyMode == HostKeyStrict {
		loaded, err := NewFileKnownHosts(cfg.KnownHostsPath)
		if err != nil {
			return nil, err
		}
		kh = loaded
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if kh == nil {
			// Insecure mode with no verifier: accept on first use.
			return nil
		}
		switch kh.Verify(hostname, remote, key) {
		case VerdictTrusted:
			return nil
		case VerdictMismatch:
			return errors.HostKey(hostname, nil).WithDetail("verdict", string(VerdictMismatch))
		default:
			if cfg.HostKeyMode == HostKeyInsecure {
				return nil
			}
			return errors.HostKey(hostname, nil).WithDetail("verdict", string(VerdictUnknown))
		}
	}, nil
}
