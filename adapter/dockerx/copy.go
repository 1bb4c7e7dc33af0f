package dockerx

import (
	"context"
	"io"
	"path/filepath"

	"github.com/docker/docker/api/types/container"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/util"
)

// Upload copies a local file or directory tree into the container via the
// daemon's archive endpoint. The local content is packed into a tar stream
// rooted at the remote path's parent.
func (a *Adapter) Upload(ctx context.Context, localPath, remotePath string) error {
	id, err := a.targetContainer(ctx)
	if err != nil {
		return err
	}

	reader, writer := io.Pipe()
	go func() {
		writer.CloseWithError(util.PackTar(ctx, localPath, filepath.Base(remotePath), writer))
	}()

	dstDir := filepath.ToSlash(filepath.Dir(remotePath))
	if err := a.client.CopyToContainer(ctx, id, dstDir, reader, container.CopyToContainerOptions{}); err != nil {
		if ctx.Err() != nil {
			return errors.Cancelled("upload").WithCause(ctx.Err())
		}
		return a.translate(id, "copy to container", err)
	}
	return nil
}

// Download copies a container file or directory tree to the local
// filesystem by unpacking the daemon's tar stream.
func (a *Adapter) Download(ctx context.Context, remotePath, localPath string) error {
	id, err := a.targetContainer(ctx)
	if err != nil {
		return err
	}

	reader, _, err := a.client.CopyFromContainer(ctx, id, remotePath)
	if err != nil {
		return a.translate(id, "copy from container", err)
	}
	defer reader.Close()

	if err := util.UnpackTar(ctx, reader, filepath.Base(remotePath), localPath); err != nil {
		if ctx.Err() != nil {
			return errors.Cancelled("download").WithCause(ctx.Err())
		}
		return errors.IO("unpack archive", err)
	}
	return nil
}

// targetContainer resolves the container copies address. Run mode has no
// standing container to copy against.
func (a *Adapter) targetContainer(ctx context.Context) (string, error) {
	if a.cfg.Container == "" {
		return "", errors.Config("docker: copy requires a named container target")
	}
	if _, err := a.client.ContainerInspect(ctx, a.cfg.Container); err != nil {
		return "", a.translate(a.cfg.Container, "inspect", err)
	}
	return a.cfg.Container, nil
}
