package dockerx

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/exec"
	"github.com/kbukum/execkit/logger"
)

// runContainer creates a fresh container from the create spec, runs the
// command as its entrypoint, streams until exit, and optionally removes it.
func (a *Adapter) runContainer(ctx context.Context, cmd exec.Command, sinks *exec.Sinks) (*exec.Result, error) {
	spec := a.cfg.Create

	if err := a.ensureImage(ctx, spec.Image); err != nil {
		return nil, err
	}

	containerCfg, hostCfg, networkCfg := a.buildCreateConfigs(cmd)

	created, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, "")
	if err != nil {
		return nil, a.translate(spec.Image, "create container", err)
	}
	id := created.ID

	cleanup := func() {
		if !spec.AutoRemove {
			removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = a.client.ContainerRemove(removeCtx, id, container.RemoveOptions{Force: true})
		}
	}

	attach, err := a.client.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true, Stdout: true, Stderr: true, Stdin: cmd.Stdin != nil,
	})
	if err != nil {
		cleanup()
		return nil, a.translate(id, "attach", err)
	}
	defer attach.Close()

	start := time.Now()
	if err := a.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		cleanup()
		return nil, a.translate(id, "start container", err)
	}

	a.log.Debug("container started", logger.Fields("container_id", shortID(id)))

	sinks.OnClose(func() {
		killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.client.ContainerKill(killCtx, id, "TERM")
	})

	if cmd.Stdin != nil {
		go func() {
			_, _ = io.Copy(attach.Conn, cmd.Stdin)
			attach.CloseWrite() //nolint:errcheck
		}()
	}

	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(sinks.Stdout, sinks.Stderr, attach.Reader)
		copyDone <- err
	}()

	waitCh, errCh := a.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case status := <-waitCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		cleanup()
		if ctx.Err() != nil {
			a.killWithGrace(id)
			result := exec.BuildResult(cmd, a.Name(), start, -1, "", sinks)
			if ctx.Err() == context.DeadlineExceeded {
				return result, errors.Timeout(cmd.String())
			}
			return result, errors.Cancelled(cmd.String()).WithCause(ctx.Err())
		}
		return nil, a.translate(id, "wait", err)
	}

	<-copyDone
	cleanup()

	return exec.BuildResult(cmd, a.Name(), start, int(exitCode), "", sinks), nil
}

// createAndStart brings up the hybrid target's named container without
// running a command in it.
func (a *Adapter) createAndStart(ctx context.Context, name string) error {
	spec := a.cfg.Create

	if err := a.ensureImage(ctx, spec.Image); err != nil {
		return err
	}

	containerCfg, hostCfg, networkCfg := a.buildCreateConfigs(exec.Command{})
	containerCfg.Cmd = nil // keep the image default; commands arrive via exec

	created, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, name)
	if err != nil {
		return a.translate(name, "create container", err)
	}
	if err := a.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = a.client.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return a.translate(name, "start container", err)
	}

	a.log.Info("created hybrid container", logger.Fields(
		"container", name,
		"image", spec.Image,
	))
	return nil
}

// ensureImage pulls the image when the daemon doesn't have it.
func (a *Adapter) ensureImage(ctx context.Context, ref string) error {
	_, err := a.client.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return a.translate(ref, "image inspect", err)
	}

	a.log.Info("pulling image", logger.Fields("image", ref))
	reader, err := a.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errors.NotReady(ref, "image pull failed").WithCause(err)
	}
	defer reader.Close()

	// The pull stream must be drained for the pull to complete.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return errors.NotReady(ref, "image pull interrupted").WithCause(err)
	}
	return nil
}

// killWithGrace asks for TERM and escalates to KILL.
func (a *Adapter) killWithGrace(id string) {
	killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.client.ContainerKill(killCtx, id, "TERM")
	time.Sleep(2 * time.Second)
	_ = a.client.ContainerKill(killCtx, id, "KILL")
}

// buildCreateConfigs converts the create spec plus a command into Docker
// create configs.
func (a *Adapter) buildCreateConfigs(cmd exec.Command) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	spec := a.cfg.Create

	env := buildEnvList(mergeEnvMaps(a.cfg.Env, spec.Env), cmd)

	containerCfg := &container.Config{
		Image:  spec.Image,
		Env:    env,
		Labels: spec.Labels,
	}
	if len(cmd.Argv) > 0 {
		containerCfg.Cmd = buildArgv(cmd)
	}
	if cmd.Cwd != "" {
		containerCfg.WorkingDir = cmd.Cwd
	}
	if cmd.User != "" {
		containerCfg.User = cmd.User
	}
	if cmd.Stdin != nil {
		containerCfg.OpenStdin = true
		containerCfg.StdinOnce = true
	}

	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, p := range spec.Ports {
		host, cont, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		containerPort := nat.Port(cont + "/tcp")
		exposedPorts[containerPort] = struct{}{}
		portBindings[containerPort] = []nat.PortBinding{{HostPort: host}}
	}
	if len(exposedPorts) > 0 {
		containerCfg.ExposedPorts = exposedPorts
	}

	hostCfg := &container.HostConfig{
		AutoRemove:   spec.AutoRemove,
		Binds:        spec.Volumes,
		PortBindings: portBindings,
	}
	if spec.RestartPolicy != "" && spec.RestartPolicy != "no" {
		hostCfg.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(spec.RestartPolicy),
		}
	}
	if spec.MemoryLimit != "" {
		if mem, err := parseMemory(spec.MemoryLimit); err == nil {
			hostCfg.Resources.Memory = mem
		}
	}
	if spec.CPULimit != "" {
		if cpus, err := parseCPUs(spec.CPULimit); err == nil {
			hostCfg.Resources.NanoCPUs = cpus
		}
	}

	var networkCfg *network.NetworkingConfig
	if spec.Network != "" {
		networkCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	return containerCfg, hostCfg, networkCfg
}

func mergeEnvMaps(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
