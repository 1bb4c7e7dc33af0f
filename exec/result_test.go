package exec_test

import (
	"strings"
	"testing"
	"time"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/exec"
)

func TestOK(t *testing.T) {
	r := &exec.Result{ExitCode: 0}
	if !r.OK() || r.Failed() {
		t.Fatal("exit 0 must be ok")
	}

	r = &exec.Result{ExitCode: 1}
	if r.OK() {
		t.Fatal("exit 1 must not be ok")
	}

	r = &exec.Result{ExitCode: -1, Signal: "terminated"}
	if r.OK() {
		t.Fatal("signaled result must not be ok")
	}
}

func TestLines(t *testing.T) {
	r := &exec.Result{Stdout: []byte("one\ntwo\nthree\n")}
	lines := r.Lines(exec.Stdout)
	if len(lines) != 3 || lines[2] != "three" {
		t.Fatalf("unexpected lines: %v", lines)
	}

	empty := &exec.Result{}
	if empty.Lines(exec.Stdout) != nil {
		t.Fatal("empty stream must yield no lines")
	}
}

func TestJSON(t *testing.T) {
	r := &exec.Result{Stdout: []byte(`{"name":"web-1","port":22}` + "\n")}

	var parsed struct {
		Name string `json:"name"`
		Port int    `json:"port"`
	}
	if err := r.JSON(exec.Stdout, &parsed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Name != "web-1" || parsed.Port != 22 {
		t.Fatalf("unexpected value: %+v", parsed)
	}
}

func TestJSONParseError(t *testing.T) {
	r := &exec.Result{Stdout: []byte("not json")}
	var v map[string]any
	err := r.JSON(exec.Stdout, &v)
	if !errors.Is(err, errors.KindParse) {
		t.Fatalf("expected parse kind, got %v", err)
	}
}

func TestStringIncludesStderrHeadOnFailure(t *testing.T) {
	r := &exec.Result{
		ExitCode: 2,
		Stderr:   []byte("permission denied\n"),
		Target:   "hosts.web-1",
		Duration: 120 * time.Millisecond,
	}
	s := r.String()
	if !strings.Contains(s, "hosts.web-1") || !strings.Contains(s, "exit 2") || !strings.Contains(s, "permission denied") {
		t.Fatalf("unexpected summary: %s", s)
	}
}

func TestBuildResultDuration(t *testing.T) {
	cmd := exec.New("x")
	sinks := exec.NewSinks(cmd, nil, nil)
	start := time.Now().Add(-time.Second)

	r := exec.BuildResult(cmd, "local", start, 0, "", sinks)

	if r.Duration != r.FinishedAt.Sub(r.StartedAt) {
		t.Fatal("duration must equal finishedAt - startedAt")
	}
	if r.FinishedAt.Before(r.StartedAt) {
		t.Fatal("finishedAt must not precede startedAt")
	}
}
