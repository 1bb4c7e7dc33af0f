package sshx

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRemoteCommandArgvQuoting(t *testing.T) {
	rc := remoteCommand{argv: []string{"echo", "hello world", "it's"}}
	line := rc.line()
	want := `echo 'hello world' 'it'\''s'`
	if line != want {
		t.Fatalf("expected %q, got %q", want, line)
	}
}

func TestRemoteCommandEnvAndCwd(t *testing.T) {
	rc := remoteCommand{
		env:  map[string]string{"B": "2", "A": "one two"},
		cwd:  "/srv/app",
		argv: []string{"ls"},
	}
	line := rc.line()
	want := `cd /srv/app && env A='one two' B=2 ls`
	if line != want {
		t.Fatalf("expected %q, got %q", want, line)
	}
}

func TestRemoteCommandShellMode(t *testing.T) {
	rc := remoteCommand{
		shell: "bash",
		argv:  []string{"echo $HOME && ls"},
	}
	line := rc.line()
	want := `bash -c 'echo $HOME && ls'`
	if line != want {
		t.Fatalf("expected %q, got %q", want, line)
	}
}

func TestRemoteCommandSudo(t *testing.T) {
	rc := remoteCommand{
		argv:       []string{"systemctl", "restart", "nginx"},
		env:        map[string]string{"K": "v"},
		sudo:       true,
		sudoCmd:    "sudo",
		sudoUser:   "root",
		sudoPrompt: "__p__",
	}
	line := rc.line()
	want := `sudo -S -p __p__ env K=v systemctl restart nginx`
	if line != want {
		t.Fatalf("expected %q, got %q", want, line)
	}
}

func TestRemoteCommandSudoOtherUser(t *testing.T) {
	rc := remoteCommand{
		argv:       []string{"whoami"},
		sudo:       true,
		sudoCmd:    "sudo",
		sudoUser:   "deploy",
		sudoPrompt: "__p__",
	}
	if !strings.Contains(rc.line(), "-u deploy") {
		t.Fatalf("expected -u deploy in %q", rc.line())
	}
}

type nopWriteCloser struct{ bytes.Buffer }

func (n *nopWriteCloser) Close() error { return nil }

func TestPromptWriterAnswersOnce(t *testing.T) {
	var stderr bytes.Buffer
	stdin := &nopWriteCloser{}
	pw := newPromptWriter(&stderr, stdin, "__p__", []byte("hunter2"))

	io.WriteString(pw, "some output __p__ more")
	io.WriteString(pw, " output")

	if stdin.String() != "hunter2\n" {
		t.Fatalf("expected password answered once, got %q", stdin.String())
	}
	if strings.Contains(stderr.String(), "__p__") {
		t.Fatalf("prompt marker leaked to stderr: %q", stderr.String())
	}
	if pw.Rejected() {
		t.Fatal("single prompt must not mark rejection")
	}
}

func TestPromptWriterAnswersSplitPrompt(t *testing.T) {
	var stderr bytes.Buffer
	stdin := &nopWriteCloser{}
	pw := newPromptWriter(&stderr, stdin, "__p__", []byte("hunter2"))

	// The marker arrives split across writes; the answer still fires.
	io.WriteString(pw, "__p")
	io.WriteString(pw, "__")

	if stdin.String() != "hunter2\n" {
		t.Fatalf("expected split prompt answered, got %q", stdin.String())
	}
}

func TestPromptWriterDetectsRejection(t *testing.T) {
	var stderr bytes.Buffer
	stdin := &nopWriteCloser{}
	pw := newPromptWriter(&stderr, stdin, "__p__", []byte("wrong"))

	io.WriteString(pw, "__p__")
	io.WriteString(pw, "Sorry, try again.\n__p__")

	if !pw.Rejected() {
		t.Fatal("second prompt must mark rejection")
	}
}

func TestQuotePlainWordsUntouched(t *testing.T) {
	if quote("plain-word_1.txt") != "plain-word_1.txt" {
		t.Fatalf("plain word quoted: %q", quote("plain-word_1.txt"))
	}
	if quote("") != "''" {
		t.Fatal("empty word must quote to ''")
	}
}
