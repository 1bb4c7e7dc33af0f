package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/kbukum/execkit/adapter/local"
	"github.com/kbukum/execkit/engine"
	"github.com/kbukum/execkit/exec"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/target"
)

func TestExecuteAllFanOut(t *testing.T) {
	log := logger.Nop()
	registry := target.NewRegistry(nil, nil, log)
	for _, name := range []string{"dev.a", "dev.b", "dev.c"} {
		if err := registry.Register(&target.Spec{Name: name, Kind: target.KindLocal, Local: &local.Config{}}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	eng := engine.New(registry, engine.Options{}, nil, log)

	results, err := eng.ExecuteAll(context.Background(), "dev.*", exec.New("echo", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("%s: %v", r.Target, r.Err)
		}
		if string(r.Result.Stdout) != "hi\n" {
			t.Fatalf("%s: unexpected stdout %q", r.Target, r.Result.Stdout)
		}
	}
	// Match order is stable.
	if results[0].Target != "dev.a" || results[2].Target != "dev.c" {
		t.Fatalf("unexpected order: %+v", results)
	}
}

func TestExecuteAllUnknownGlob(t *testing.T) {
	log := logger.Nop()
	registry := target.NewRegistry(nil, nil, log)
	eng := engine.New(registry, engine.Options{}, nil, log)

	if _, err := eng.ExecuteAll(context.Background(), "hosts.*", exec.New("true")); err == nil {
		t.Fatal("empty glob must fail")
	}
}

func TestRetryPolicyDelays(t *testing.T) {
	linear := engine.RetryPolicy{Attempts: 3, InitialDelay: 100 * time.Millisecond, Backoff: engine.BackoffLinear}
	linear.ApplyDefaults()
	if linear.Delay(1) != 100*time.Millisecond || linear.Delay(3) != 300*time.Millisecond {
		t.Fatalf("linear delays wrong: %v %v", linear.Delay(1), linear.Delay(3))
	}

	expo := engine.RetryPolicy{Attempts: 4, InitialDelay: 100 * time.Millisecond, Backoff: engine.BackoffExponential}
	expo.ApplyDefaults()
	if expo.Delay(1) != 100*time.Millisecond || expo.Delay(3) != 400*time.Millisecond {
		t.Fatalf("exponential delays wrong: %v %v", expo.Delay(1), expo.Delay(3))
	}

	fixed := engine.RetryPolicy{Attempts: 2, InitialDelay: 50 * time.Millisecond, Backoff: engine.BackoffNone}
	fixed.ApplyDefaults()
	if fixed.Delay(5) != 50*time.Millisecond {
		t.Fatalf("fixed delay wrong: %v", fixed.Delay(5))
	}
}
