package kubex

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
)

// Forward establishes a port-forward from localAddr ("host:port" or just
// ":port") to remoteAddr (a port on the selected pod). The returned stop
// function tears the tunnel down; the adapter owns it until then.
func (a *Adapter) Forward(ctx context.Context, localAddr, remoteAddr string) (func() error, error) {
	pod, err := a.selectPod(ctx)
	if err != nil {
		return nil, err
	}

	localPort := localAddr
	if _, port, ok := strings.Cut(localAddr, ":"); ok {
		localPort = port
	}
	remotePort := remoteAddr
	if _, port, ok := strings.Cut(remoteAddr, ":"); ok {
		remotePort = port
	}

	req := a.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod.Name).
		Namespace(pod.Namespace).
		SubResource("portforward")

	transport, upgrader, err := spdy.RoundTripperFor(a.restConfig)
	if err != nil {
		return nil, errors.Unavailable("kubernetes cluster", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, "POST", req.URL())

	stopCh := make(chan struct{})
	readyCh := make(chan struct{})

	fw, err := portforward.New(dialer,
		[]string{fmt.Sprintf("%s:%s", localPort, remotePort)},
		stopCh, readyCh, nil, nil)
	if err != nil {
		return nil, errors.Transport("create port-forward", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- fw.ForwardPorts() }()

	select {
	case <-readyCh:
	case err := <-errCh:
		return nil, errors.Transport("port-forward", err)
	case <-ctx.Done():
		close(stopCh)
		return nil, errors.Cancelled("port-forward").WithCause(ctx.Err())
	}

	a.log.Info("port-forward established", logger.Fields(
		"pod", pod.Name,
		"local", localPort,
		"remote", remotePort,
	))

	var stopped bool
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		close(stopCh)
		return <-errCh
	}
	return stop, nil
}
