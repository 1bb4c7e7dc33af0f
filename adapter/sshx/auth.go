package sshx

import (
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/secrets"
)

// authMethods assembles the auth method list in policy order:
// explicit key, agent, password. The remote tries them in sequence and the
// first success wins.
func authMethods(cfg *Config, reader secrets.Reader) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		signer, err := loadSigner(cfg, reader)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.UseAgent {
		if method := agentAuth(); method != nil {
			methods = append(methods, method)
		}
	}

	if cfg.PasswordSecret != "" {
		if reader == nil {
			return nil, errors.Configf("ssh: password_secret %q set but no secrets reader configured", cfg.PasswordSecret)
		}
		password, err := reader.Get(cfg.PasswordSecret)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.Password(string(password)))
	}

	if len(methods) == 0 {
		return nil, errors.Auth("no auth method configured for "+cfg.Addr(), nil)
	}
	return methods, nil
}

// loadSigner parses the private key, decrypting with the configured
// passphrase secret when the key is protected.
func loadSigner(cfg *Config, reader secrets.Reader) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, errors.Auth("read private key "+cfg.KeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err == nil {
		return signer, nil
	}

	if _, ok := err.(*ssh.PassphraseMissingError); !ok {
		return nil, errors.Auth("parse private key "+cfg.KeyPath, err)
	}
	if cfg.PassphraseSecret == "" {
		return nil, errors.Auth("private key is encrypted and no passphrase_secret is set", err)
	}
	if reader == nil {
		return nil, errors.Configf("ssh: passphrase_secret %q set but no secrets reader configured", cfg.PassphraseSecret)
	}

	passphrase, err := reader.Get(cfg.PassphraseSecret)
	if err != nil {
		return nil, err
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, passphrase)
	if err != nil {
		return nil, errors.Auth("decrypt private key "+cfg.KeyPath, err)
	}
	return signer, nil
}

// agentAuth returns an agent-backed auth method, or nil when no agent
// socket is available.
func agentAuth() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}
