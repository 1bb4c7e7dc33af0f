package errors_test

import (
	"fmt"
	"testing"

	"github.com/kbukum/execkit/errors"
)

func TestKindOf(t *testing.T) {
	err := errors.Timeout("sleep 10")
	if errors.KindOf(err) != errors.KindTimeout {
		t.Fatalf("expected timeout kind, got %s", errors.KindOf(err))
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if errors.KindOf(wrapped) != errors.KindTimeout {
		t.Fatal("kind must survive wrapping")
	}
}

func TestRetryableDefaults(t *testing.T) {
	cases := map[errors.Kind]bool{
		errors.KindConnect:     true,
		errors.KindTransport:   true,
		errors.KindNotReady:    true,
		errors.KindIO:          true,
		errors.KindUnavailable: true,
		errors.KindAuth:        false,
		errors.KindHostKey:     false,
		errors.KindConfig:      false,
		errors.KindNonZeroExit: false,
		errors.KindCancelled:   false,
		errors.KindParse:       false,
	}
	for kind, want := range cases {
		if errors.IsRetryableKind(kind) != want {
			t.Fatalf("kind %s: expected retryable=%v", kind, want)
		}
	}
}

func TestExitStatusMapping(t *testing.T) {
	cases := map[errors.Kind]int{
		errors.KindConfig:            2,
		errors.KindTargetNotFound:    3,
		errors.KindContainerNotFound: 3,
		errors.KindPodNotFound:       3,
		errors.KindAuth:              4,
		errors.KindHostKey:           4,
		errors.KindConnect:           5,
		errors.KindUnavailable:       5,
		errors.KindTimeout:           124,
		errors.KindCancelled:         130,
		errors.KindNonZeroExit:       1,
	}
	for kind, want := range cases {
		if got := errors.ExitStatusFor(kind); got != want {
			t.Fatalf("kind %s: expected status %d, got %d", kind, want, got)
		}
	}
	if errors.ExitStatus(nil) != 0 {
		t.Fatal("nil error must map to status 0")
	}
}

func TestErrorFormat(t *testing.T) {
	err := errors.NonZeroExit(42)
	want := "[NON_ZERO_EXIT] command exited with code 42"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestSuggestionForExit127(t *testing.T) {
	err := errors.NonZeroExit(127)
	if errors.Suggestion(err) == "" {
		t.Fatal("exit 127 must carry a suggestion")
	}
	if errors.Suggestion(errors.NonZeroExit(1)) != "" {
		t.Fatal("plain failures have no suggestion")
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := errors.Connect("web-1:22", cause)
	if err.Unwrap() != cause {
		t.Fatal("cause must unwrap")
	}
}
