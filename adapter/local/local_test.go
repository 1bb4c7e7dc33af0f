package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/execkit/adapter/local"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/exec"
	"github.com/kbukum/execkit/logger"
)

func newAdapter() *local.Adapter {
	return local.New(local.Config{}, logger.Nop())
}

func run(t *testing.T, cmd exec.Command) (*exec.Result, error) {
	t.Helper()
	sinks := exec.NewSinks(cmd, nil, nil)
	return newAdapter().Execute(context.Background(), cmd, sinks)
}

func TestEcho(t *testing.T) {
	result, err := run(t, exec.New("echo", "hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.Stdout) != "hello\n" || result.ExitCode != 0 {
		t.Fatalf("unexpected result: %q exit %d", result.Stdout, result.ExitCode)
	}
	if result.Target != "local" {
		t.Fatalf("unexpected target id: %s", result.Target)
	}
}

func TestStdin(t *testing.T) {
	result, err := run(t, exec.New("cat").WithStdin(strings.NewReader("from stdin")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.Stdout) != "from stdin" {
		t.Fatalf("expected stdin echoed, got %q", result.Stdout)
	}
}

func TestShellMode(t *testing.T) {
	result, err := run(t, exec.Shell("echo a && echo b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.Stdout) != "a\nb\n" {
		t.Fatalf("unexpected stdout: %q", result.Stdout)
	}
}

func TestNonZeroExitIsNotAnAdapterError(t *testing.T) {
	result, err := run(t, exec.Shell("exit 42"))
	if err != nil {
		t.Fatalf("adapter must not error on non-zero exit: %v", err)
	}
	if result.ExitCode != 42 || result.OK() {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestStderrCaptured(t *testing.T) {
	result, err := run(t, exec.Shell("echo oops >&2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.Stderr) != "oops\n" {
		t.Fatalf("unexpected stderr: %q", result.Stderr)
	}
	if len(result.Stdout) != 0 {
		t.Fatalf("stdout leaked stderr bytes: %q", result.Stdout)
	}
}

func TestSpawnErrorKind(t *testing.T) {
	_, err := run(t, exec.New("/no/such/binary"))
	if !errors.Is(err, errors.KindSpawn) {
		t.Fatalf("expected spawn kind, got %v", err)
	}
}

func TestCwd(t *testing.T) {
	dir := t.TempDir()
	resolved, _ := filepath.EvalSymlinks(dir)

	result, err := run(t, exec.New("pwd").WithCwd(dir))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := strings.TrimSpace(string(result.Stdout))
	if got != dir && got != resolved {
		t.Fatalf("expected cwd %q, got %q", dir, got)
	}
}

func TestEnvMergeAndReplace(t *testing.T) {
	t.Setenv("LOCAL_ADAPTER_TEST", "inherited")

	result, err := run(t, exec.Shell("echo $LOCAL_ADAPTER_TEST"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(string(result.Stdout)) != "inherited" {
		t.Fatal("merge mode must inherit the process env")
	}

	result, err = run(t, exec.Shell("echo ${LOCAL_ADAPTER_TEST:-absent}").
		WithEnv(map[string]string{"OTHER": "x"}).ReplacingEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(string(result.Stdout)) != "absent" {
		t.Fatal("replace mode must drop the process env")
	}
}

func TestContextCancellationTerminatesChild(t *testing.T) {
	cmd := exec.New("sleep", "30")
	sinks := exec.NewSinks(cmd, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := newAdapter().Execute(ctx, cmd, sinks)
	elapsed := time.Since(start)

	if !errors.Is(err, errors.KindCancelled) {
		t.Fatalf("expected cancelled kind, got %v", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("termination took %v", elapsed)
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.txt")
	dst := filepath.Join(t.TempDir(), "dst.txt")
	payload := []byte("bytes to keep intact\n")
	if err := os.WriteFile(src, payload, 0o640); err != nil {
		t.Fatal(err)
	}

	a := newAdapter()
	if err := a.Upload(context.Background(), src, dst); err != nil {
		t.Fatalf("upload: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("bytes changed in copy: %q", got)
	}
}
