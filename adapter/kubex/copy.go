package kubex

import (
	"context"
	"io"
	"path"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/util"
)

// Upload copies a local file or tree into the selected pod with a tar
// stream piped into `tar -xf -` inside the container.
func (a *Adapter) Upload(ctx context.Context, localPath, remotePath string) error {
	reader, writer := io.Pipe()
	go func() {
		writer.CloseWithError(util.PackTar(ctx, localPath, filepath.Base(remotePath), writer))
	}()

	dstDir := path.Dir(remotePath)
	cmd := []string{"sh", "-c", "mkdir -p " + shellQuote(dstDir) + " && tar -xf - -C " + shellQuote(dstDir)}
	return a.streamThrough(ctx, cmd, reader, nil)
}

// Download copies a pod file or tree to the local filesystem by running
// `tar -cf -` inside the container and unpacking the stream.
func (a *Adapter) Download(ctx context.Context, remotePath, localPath string) error {
	reader, writer := io.Pipe()

	cmd := []string{"tar", "-cf", "-", "-C", path.Dir(remotePath), path.Base(remotePath)}

	errCh := make(chan error, 1)
	go func() {
		err := a.streamThrough(ctx, cmd, nil, writer)
		writer.CloseWithError(err)
		errCh <- err
	}()

	unpackErr := util.UnpackTar(ctx, reader, path.Base(remotePath), localPath)
	execErr := <-errCh

	if execErr != nil {
		return execErr
	}
	if unpackErr != nil {
		if ctx.Err() != nil {
			return errors.Cancelled("download").WithCause(ctx.Err())
		}
		return errors.IO("unpack archive", unpackErr)
	}
	return nil
}

// streamThrough execs a command in the pod with raw stdin/stdout streams.
func (a *Adapter) streamThrough(ctx context.Context, argv []string, stdin io.Reader, stdout io.Writer) error {
	pod, err := a.selectPod(ctx)
	if err != nil {
		return err
	}
	containerName, err := a.containerFor(pod)
	if err != nil {
		return err
	}

	req := a.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod.Name).
		Namespace(pod.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: containerName,
			Command:   argv,
			Stdin:     stdin != nil,
			Stdout:    stdout != nil,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(a.restConfig, "POST", req.URL())
	if err != nil {
		return errors.Unavailable("kubernetes cluster", err)
	}

	var stderr discardWriter
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: &stderr,
		Tty:    false,
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.Cancelled("copy").WithCause(ctx.Err())
		}
		return errors.Transport("copy exec stream", err)
	}
	return nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
