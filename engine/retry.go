package engine

import (
	"time"

	"github.com/kbukum/execkit/errors"
)

// Backoff selects how retry delays grow.
type Backoff string

const (
	BackoffNone        Backoff = "none"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy configures the engine's retry middleware.
type RetryPolicy struct {
	// Attempts is the total number of tries (including the first).
	Attempts int `yaml:"attempts,omitempty" mapstructure:"attempts"`
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration `yaml:"initial_delay,omitempty" mapstructure:"initial_delay"`
	// Backoff defaults to exponential.
	Backoff Backoff `yaml:"backoff,omitempty" mapstructure:"backoff"`
	// RetryOn lists the error kinds worth retrying. Empty uses each kind's
	// default retriability. NonZeroExit is never retried unless listed.
	RetryOn []errors.Kind `yaml:"retry_on,omitempty" mapstructure:"retry_on"`
}

// ApplyDefaults applies default values.
func (p *RetryPolicy) ApplyDefaults() {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 250 * time.Millisecond
	}
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
}

// shouldRetry reports whether err warrants another attempt.
func (p *RetryPolicy) shouldRetry(err error) bool {
	kind := errors.KindOf(err)
	if kind == errors.KindCancelled {
		return false
	}
	if len(p.RetryOn) > 0 {
		for _, k := range p.RetryOn {
			if k == kind {
				return true
			}
		}
		return false
	}
	// Default set: each kind's own retriability; non-zero exits opt in
	// explicitly via RetryOn.
	return errors.IsRetryable(err)
}

// Delay computes the sleep before the given retry (1-based).
func (p *RetryPolicy) Delay(retry int) time.Duration {
	switch p.Backoff {
	case BackoffNone:
		return p.InitialDelay
	case BackoffLinear:
		return time.Duration(retry) * p.InitialDelay
	default:
		d := p.InitialDelay
		for i := 1; i < retry; i++ {
			d *= 2
		}
		return d
	}
}
