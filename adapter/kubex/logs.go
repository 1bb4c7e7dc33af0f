package kubex

import (
	"context"
	"io"

	corev1 "k8s.io/api/core/v1"

	"github.com/kbukum/execkit/adapter"
	"github.com/kbukum/execkit/errors"
)

// StreamLogs follows the selected pod's container logs. Independent of
// exec: no channel to the process, just the kubelet's log file stream.
func (a *Adapter) StreamLogs(ctx context.Context, opts adapter.LogOptions) (io.ReadCloser, error) {
	pod, err := a.selectPod(ctx)
	if err != nil {
		return nil, err
	}
	containerName, err := a.containerFor(pod)
	if err != nil {
		return nil, err
	}

	logOpts := &corev1.PodLogOptions{
		Container:  containerName,
		Follow:     opts.Follow,
		Timestamps: opts.Timestamps,
	}
	if opts.Tail > 0 {
		tail := int64(opts.Tail)
		logOpts.TailLines = &tail
	}

	stream, err := a.client.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, logOpts).Stream(ctx)
	if err != nil {
		return nil, errors.Transport("open log stream", err)
	}
	return stream, nil
}
