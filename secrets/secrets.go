package secrets

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/kbukum/execkit/errors"
)

// Reader resolves a secret name to its value.
// All providers must implement this core interface.
type Reader interface {
	// Get returns the secret bytes, or the error NotFound builds when the
	// name is absent.
	Get(name string) ([]byte, error)
}

// NotFound creates the error a Reader returns for an absent secret.
func NotFound(name string) error {
	return errors.Configf("secret %q not found", name).WithDetail("secret", name)
}

// Static is an in-memory Reader. Used for tests and inline configuration.
type Static map[string]string

// Get implements Reader.
func (s Static) Get(name string) ([]byte, error) {
	v, ok := s[name]
	if !ok {
		return nil, NotFound(name)
	}
	return []byte(v), nil
}

// Env reads secrets from environment variables with a prefix, mapping
// "db.password" to "<PREFIX>DB_PASSWORD".
type Env struct {
	Prefix string
}

// Get implements Reader.
func (e Env) Get(name string) ([]byte, error) {
	key := e.Prefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(name))
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil, NotFound(name)
	}
	return []byte(v), nil
}

// File reads secrets from a key=value file, loaded once on first use.
// The file is expected to be mode 0600; lines starting with '#' are skipped.
type File struct {
	Path string

	once   sync.Once
	err    error
	values map[string]string
}

// Get implements Reader.
func (f *File) Get(name string) ([]byte, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[name]
	if !ok {
		return nil, NotFound(name)
	}
	return []byte(v), nil
}

func (f *File) load() {
	file, err := os.Open(f.Path)
	if err != nil {
		f.err = errors.Wrap(errors.KindConfig, "open secrets file", err)
		return
	}
	defer file.Close()

	f.values = make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			f.values[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	if err := scanner.Err(); err != nil {
		f.err = errors.Wrap(errors.KindConfig, "read secrets file", err)
	}
}
