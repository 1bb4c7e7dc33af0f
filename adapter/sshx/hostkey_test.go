package sshx

import (
	"net"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/kbukum/execkit/errors"
)

// fakeKnownHosts returns a fixed verdict.
type fakeKnownHosts struct{ verdict Verdict }

func (f fakeKnownHosts) Verify(string, net.Addr, ssh.PublicKey) Verdict { return f.verdict }

func callbackFor(t *testing.T, mode HostKeyMode, verdict Verdict) error {
	t.Helper()
	cfg := &Config{Host: "h", User: "u", HostKeyMode: mode}
	cfg.ApplyDefaults()
	cb, err := hostKeyCallback(cfg, fakeKnownHosts{verdict: verdict})
	if err != nil {
		t.Fatalf("build callback: %v", err)
	}
	return cb("h:22", &net.TCPAddr{}, nil)
}

func TestStrictAcceptsTrusted(t *testing.T) {
	if err := callbackFor(t, HostKeyStrict, VerdictTrusted); err != nil {
		t.Fatalf("trusted key rejected: %v", err)
	}
}

func TestStrictRejectsUnknown(t *testing.T) {
	err := callbackFor(t, HostKeyStrict, VerdictUnknown)
	if !errors.Is(err, errors.KindHostKey) {
		t.Fatalf("expected host key kind, got %v", err)
	}
}

func TestStrictRejectsMismatch(t *testing.T) {
	err := callbackFor(t, HostKeyStrict, VerdictMismatch)
	if !errors.Is(err, errors.KindHostKey) {
		t.Fatalf("expected host key kind, got %v", err)
	}
}

func TestInsecureAcceptsUnknown(t *testing.T) {
	if err := callbackFor(t, HostKeyInsecure, VerdictUnknown); err != nil {
		t.Fatalf("insecure mode must accept unknown keys: %v", err)
	}
}

func TestInsecureStillRejectsMismatch(t *testing.T) {
	err := callbackFor(t, HostKeyInsecure, VerdictMismatch)
	if !errors.Is(err, errors.KindHostKey) {
		t.Fatalf("expected host key kind, got %v", err)
	}
}
