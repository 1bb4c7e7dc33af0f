package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kbukum/execkit/config"
)

const sampleConfig = `
logging:
  level: debug
  format: json

defaults:
  ssh:
    user: deploy
    port: 2222
    known_hosts_path: /etc/ssh/known_hosts

targets:
  local: {}
  hosts:
    web-1:
      host: web-1.internal
      host_key_mode: insecure
    web-2:
      host: web-2.internal
      port: 22
      host_key_mode: insecure
    private:
      host: 10.0.0.5
      host_key_mode: insecure
      proxy: hosts.web-1
  containers:
    app:
      container: app
      mode: exec
  pods:
    frontend:
      namespace: prod
      label_selector: app=frontend
      pick: newest

profiles:
  staging:
    defaults:
      ssh:
        user: staging-deploy

tasks:
  deploy:
    description: roll out a build
    params:
      - name: version
        type: string
        required: true
    targets: ["hosts.web-*"]
    steps:
      - name: release
        command:
          run: deploy.sh ${params.version}
        register: release
      - name: verify
        command:
          run: curl -fsS localhost/healthz
        when: release.ok
        on_failure:
          action: retry
          retries: 2
          delay: 1s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDocument(t *testing.T) {
	doc, err := config.Load(writeConfig(t, sampleConfig), "", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if doc.Logging.Level != "debug" || doc.Logging.Format != "json" {
		t.Fatalf("unexpected logging config: %+v", doc.Logging)
	}
	if len(doc.Targets.Hosts) != 3 {
		t.Fatalf("expected 3 hosts, got %d", len(doc.Targets.Hosts))
	}
	if doc.Targets.Hosts["private"].Proxy != "hosts.web-1" {
		t.Fatalf("proxy reference lost: %+v", doc.Targets.Hosts["private"])
	}
	if doc.Targets.Pods["frontend"].Pick != "newest" {
		t.Fatalf("pod pick lost: %+v", doc.Targets.Pods["frontend"])
	}

	deploy := doc.Tasks["deploy"]
	if len(deploy.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(deploy.Steps))
	}
	if deploy.Steps[1].OnFailure.Retries != 2 || deploy.Steps[1].OnFailure.Delay != time.Second {
		t.Fatalf("retry record lost: %+v", deploy.Steps[1].OnFailure)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	bad := sampleConfig + "\nsurprise_key: true\n"
	if _, err := config.Load(writeConfig(t, bad), "", ""); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}
}

func TestUnknownProfileRejected(t *testing.T) {
	if _, err := config.Load(writeConfig(t, sampleConfig), "nope", ""); err == nil {
		t.Fatal("undefined profile must be rejected")
	}
}

func TestProfileOverlay(t *testing.T) {
	doc, err := config.Load(writeConfig(t, sampleConfig), "staging", "")
	if err != nil {
		t.Fatalf("load with profile: %v", err)
	}
	if doc.Defaults.SSH.User != "staging-deploy" {
		t.Fatalf("profile overlay not applied: %+v", doc.Defaults.SSH)
	}
}

func TestBuildWiresSystem(t *testing.T) {
	doc, err := config.Load(writeConfig(t, sampleConfig), "", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	sys, err := config.Build(doc, "execkit-test")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	names := sys.Registry.Names()
	want := map[string]bool{
		"local": true, "hosts.web-1": true, "hosts.web-2": true,
		"hosts.private": true, "containers.app": true, "pods.frontend": true,
	}
	for _, n := range names {
		if !want[n] {
			t.Fatalf("unexpected target %s", n)
		}
		delete(want, n)
	}
	if len(want) != 0 {
		t.Fatalf("missing targets: %v", want)
	}

	if _, ok := sys.Runner.Lookup("deploy"); !ok {
		t.Fatal("deploy task not registered")
	}

	// The web-host glob resolves to exactly the two registered web hosts.
	matches, err := sys.Registry.ResolveGlob("hosts.web-*")
	if err != nil || len(matches) != 2 {
		t.Fatalf("glob: %v %v", matches, err)
	}
}

func TestBuildRejectsProxyCycle(t *testing.T) {
	cyclic := `
targets:
  hosts:
    a:
      host: a.internal
      user: u
      host_key_mode: insecure
      proxy: hosts.b
    b:
      host: b.internal
      user: u
      host_key_mode: insecure
      proxy: hosts.a
`
	doc, err := config.Load(writeConfig(t, cyclic), "", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := config.Build(doc, "execkit-test"); err == nil {
		t.Fatal("proxy cycle must fail the build")
	}
}
