package sshx

import (
	"io"
	"slices"
	"strings"
	"sync"
)

// quote shell-quotes one word with single quotes.
func quote(word string) string {
	if word == "" {
		return "''"
	}
	if !strings.ContainsAny(word, " \t\n\"'`$\\!&|;<>()*?[]{}~#") {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}

// remoteCommand serializes a command into the single line the SSH exec
// request carries: env assignments, cd, optional interpreter, optional sudo
// wrapper. Quoting keeps every part opaque to the login shell.
type remoteCommand struct {
	env   map[string]string
	cwd   string
	shell string
	argv  []string

	sudo       bool
	sudoCmd    string
	sudoUser   string
	sudoPrompt string
}

func (rc remoteCommand) line() string {
	var b strings.Builder

	if rc.cwd != "" {
		b.WriteString("cd " + quote(rc.cwd) + " && ")
	}

	var envPrefix strings.Builder
	if len(rc.env) > 0 {
		keys := make([]string, 0, len(rc.env))
		for k := range rc.env {
			keys = append(keys, k)
		}
		// Deterministic order for tests and logs.
		slices.Sort(keys)
		envPrefix.WriteString("env")
		for _, k := range keys {
			envPrefix.WriteString(" " + k + "=" + quote(rc.env[k]))
		}
		envPrefix.WriteString(" ")
	}

	var cmd string
	if rc.shell != "" {
		cmd = rc.shell + " -c " + quote(strings.Join(rc.argv, " "))
	} else {
		words := make([]string, len(rc.argv))
		for i, a := range rc.argv {
			words[i] = quote(a)
		}
		cmd = strings.Join(words, " ")
	}

	if rc.sudo {
		sudoLine := rc.sudoCmd + " -S -p " + quote(rc.sudoPrompt)
		if rc.sudoUser != "" && rc.sudoUser != "root" {
			sudoLine += " -u " + quote(rc.sudoUser)
		}
		// sudo resets the environment; assignments ride inside it.
		cmd = sudoLine + " " + envPrefix.String() + cmd
	} else {
		cmd = envPrefix.String() + cmd
	}

	b.WriteString(cmd)
	return b.String()
}

// promptWriter watches stderr for the sudo prompt and answers it once on
// stdin. The prompt marker itself is suppressed from the stream; a second
// prompt means the password was rejected.
type promptWriter struct {
	inner    io.Writer
	stdin    io.WriteCloser
	prompt   string
	password []byte

	mu       sync.Mutex
	window   []byte
	answered bool
	rejected bool
}

func newPromptWriter(inner io.Writer, stdin io.WriteCloser, prompt string, password []byte) *promptWriter {
	return &promptWriter{inner: inner, stdin: stdin, prompt: prompt, password: password}
}

func (pw *promptWriter) Write(p []byte) (int, error) {
	pw.mu.Lock()
	pw.window = append(pw.window, p...)

	forward := p
	for {
		idx := strings.Index(string(pw.window), pw.prompt)
		if idx < 0 {
			break
		}
		if pw.answered {
			pw.rejected = true
			pw.window = pw.window[idx+len(pw.prompt):]
			continue
		}
		pw.answered = true
		pw.window = pw.window[idx+len(pw.prompt):]
		pw.stdin.Write(append(append([]byte{}, pw.password...), '\n'))
	}
	// Keep only a prompt-sized tail so a marker split across writes is
	// still found.
	if len(pw.window) > 2*len(pw.prompt) {
		pw.window = pw.window[len(pw.window)-2*len(pw.prompt):]
	}

	// Don't leak the prompt marker to the caller's stderr.
	forward = []byte(strings.ReplaceAll(string(forward), pw.prompt, ""))
	pw.mu.Unlock()

	if len(forward) > 0 {
		if _, err := pw.inner.Write(forward); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Rejected reports whether sudo asked again after the answer.
func (pw *promptWriter) Rejected() bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.rejected
}
