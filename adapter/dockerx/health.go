package dockerx

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/kbukum/execkit/adapter"
	"github.com/kbukum/execkit/errors"
)

// HealthCheck pings the daemon.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if _, err := a.client.Ping(ctx); err != nil {
		return errors.Unavailable("docker daemon", err)
	}
	return nil
}

// WaitHealthy blocks until the target container reports healthy, its
// healthcheck is absent and it runs, or the healthy timeout expires.
func (a *Adapter) WaitHealthy(ctx context.Context) error {
	if a.cfg.Container == "" {
		return errors.Config("docker: health wait requires a named container target")
	}

	deadline := time.Now().Add(a.cfg.HealthyTimeout)
	for {
		info, err := a.client.ContainerInspect(ctx, a.cfg.Container)
		if err != nil {
			return a.translate(a.cfg.Container, "inspect", err)
		}

		state := info.State
		switch {
		case state == nil || !state.Running:
			// keep waiting; hybrid targets may still be starting
		case state.Health == nil:
			return nil
		case state.Health.Status == container.Healthy:
			return nil
		case state.Health.Status == container.Unhealthy:
			return errors.NotReady(a.cfg.Container, "unhealthy")
		}

		if time.Now().After(deadline) {
			status := "not running"
			if state != nil && state.Health != nil {
				status = string(state.Health.Status)
			}
			return errors.NotReady(a.cfg.Container, status)
		}

		select {
		case <-ctx.Done():
			return errors.Cancelled("health wait").WithCause(ctx.Err())
		case <-time.After(time.Second):
		}
	}
}

// StreamLogs follows the target container's log stream.
func (a *Adapter) StreamLogs(ctx context.Context, opts adapter.LogOptions) (io.ReadCloser, error) {
	if a.cfg.Container == "" {
		return nil, errors.Config("docker: log streaming requires a named container target")
	}

	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Timestamps: opts.Timestamps,
	}
	if opts.Tail > 0 {
		logOpts.Tail = strconv.Itoa(opts.Tail)
	}

	reader, err := a.client.ContainerLogs(ctx, a.cfg.Container, logOpts)
	if err != nil {
		return nil, a.translate(a.cfg.Container, "logs", err)
	}
	return reader, nil
}
