package kubex

import (
	"context"
	"maps"
	"path/filepath"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"
	"k8s.io/client-go/util/homedir"

	"github.com/kbukum/execkit/adapter"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/exec"
	"github.com/kbukum/execkit/logger"
)

// compile-time assertions
var (
	_ adapter.Adapter       = (*Adapter)(nil)
	_ adapter.Copier        = (*Adapter)(nil)
	_ adapter.Forwarder     = (*Adapter)(nil)
	_ adapter.HealthChecker = (*Adapter)(nil)
	_ adapter.LogStreamer   = (*Adapter)(nil)
)

// Adapter executes commands in pods of one Kubernetes target.
type Adapter struct {
	cfg        *Config
	client     kubernetes.Interface
	restConfig *rest.Config
	log        *logger.Logger
}

// New creates a Kubernetes adapter with in-cluster/kubeconfig fallback.
func New(cfg Config, log *logger.Logger) (*Adapter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Config(err.Error())
	}

	restCfg, err := buildRestConfig(&cfg)
	if err != nil {
		return nil, errors.Unavailable("kubernetes cluster", err)
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, errors.Unavailable("kubernetes cluster", err)
	}
	return newWithClient(cfg, clientset, restCfg, log), nil
}

// newWithClient wires an adapter over existing clients. Tests inject fakes
// through it.
func newWithClient(cfg Config, clientset kubernetes.Interface, restCfg *rest.Config, log *logger.Logger) *Adapter {
	return &Adapter{
		cfg:        &cfg,
		client:     clientset,
		restConfig: restCfg,
		log:        log.WithComponent("adapter.kubernetes"),
	}
}

// buildRestConfig tries in-cluster config first, then the kubeconfig file
// with optional context override.
func buildRestConfig(cfg *Config) (*rest.Config, error) {
	if cfg.Kubeconfig == "" && cfg.Context == "" {
		if restCfg, err := rest.InClusterConfig(); err == nil {
			return restCfg, nil
		}
	}

	kubeconfigPath := cfg.Kubeconfig
	if kubeconfigPath == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		}
	}

	rules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

// Name returns the binding identifier.
func (a *Adapter) Name() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	if a.cfg.Pod != "" {
		return "pods:" + a.cfg.Namespace + "/" + a.cfg.Pod
	}
	return "pods:" + a.cfg.Namespace + "/" + a.cfg.LabelSelector
}

// DefaultTimeout returns the target-level default timeout.
func (a *Adapter) DefaultTimeout() time.Duration { return a.cfg.DefaultTimeout }

// selectPod resolves the configured selection to one pod. It does not check
// the pod's phase; Execute does.
func (a *Adapter) selectPod(ctx context.Context) (*corev1.Pod, error) {
	pods := a.client.CoreV1().Pods(a.cfg.Namespace)

	if a.cfg.Pod != "" {
		pod, err := pods.Get(ctx, a.cfg.Pod, metav1.GetOptions{})
		if err != nil {
			if k8serrors.IsNotFound(err) {
				return nil, errors.PodNotFound(a.cfg.Namespace + "/" + a.cfg.Pod)
			}
			return nil, errors.Unavailable("kubernetes cluster", err)
		}
		return pod, nil
	}

	list, err := pods.List(ctx, metav1.ListOptions{
		LabelSelector: a.cfg.LabelSelector,
		FieldSelector: a.cfg.FieldSelector,
	})
	if err != nil {
		if k8serrors.IsForbidden(err) {
			return nil, errors.Auth("pod list forbidden in "+a.cfg.Namespace, err)
		}
		return nil, errors.Unavailable("kubernetes cluster", err)
	}
	if len(list.Items) == 0 {
		return nil, errors.PodNotFound(a.selectorString())
	}

	candidates := list.Items
	switch a.cfg.Pick {
	case PickNewest:
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].CreationTimestamp.After(candidates[j].CreationTimestamp.Time)
		})
	case PickRandom:
		// List order from the API server is not stable; shifting by the
		// clock spreads load without importing randomness.
		shift := int(time.Now().UnixNano()) % len(candidates)
		candidates = append(candidates[shift:], candidates[:shift]...)
	default: // first: stable name order
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].Name < candidates[j].Name
		})
	}
	return &candidates[0], nil
}

func (a *Adapter) selectorString() string {
	parts := []string{}
	if a.cfg.LabelSelector != "" {
		parts = append(parts, a.cfg.LabelSelector)
	}
	if a.cfg.FieldSelector != "" {
		parts = append(parts, a.cfg.FieldSelector)
	}
	return a.cfg.Namespace + "/" + strings.Join(parts, ",")
}

// containerFor picks the configured container or the pod's first.
func (a *Adapter) containerFor(pod *corev1.Pod) (string, error) {
	if a.cfg.Container == "" {
		if len(pod.Spec.Containers) == 0 {
			return "", errors.New(errors.KindContainerNotFound, "pod has no containers")
		}
		return pod.Spec.Containers[0].Name, nil
	}
	for _, c := range pod.Spec.Containers {
		if c.Name == a.cfg.Container {
			return c.Name, nil
		}
	}
	return "", errors.Newf(errors.KindContainerNotFound, "container %q not in pod %s", a.cfg.Container, pod.Name)
}

// Execute opens an exec channel to the selected pod and streams until the
// terminal status arrives.
func (a *Adapter) Execute(ctx context.Context, cmd exec.Command, sinks *exec.Sinks) (*exec.Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, errors.Config("command has no argv")
	}

	pod, err := a.selectPod(ctx)
	if err != nil {
		return nil, err
	}
	if pod.Status.Phase != corev1.PodRunning {
		return nil, errors.NotReady(pod.Namespace+"/"+pod.Name, string(pod.Status.Phase))
	}
	containerName, err := a.containerFor(pod)
	if err != nil {
		return nil, err
	}

	argv := buildArgv(a.cfg.Env, cmd)

	req := a.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod.Name).
		Namespace(pod.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: containerName,
			Command:   argv,
			Stdin:     cmd.Stdin != nil,
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(a.restConfig, "POST", req.URL())
	if err != nil {
		return nil, errors.Unavailable("kubernetes cluster", err)
	}

	a.log.Debug("executing", logger.Fields(
		logger.FieldTarget, a.Name(),
		"pod", pod.Name,
		"command", cmd.String(),
	))

	// Closing a sink cancels the stream, which closes the channel and
	// terminates the remote side.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	sinks.OnClose(cancelStream)

	start := time.Now()
	streamErr := executor.StreamWithContext(streamCtx, remotecommand.StreamOptions{
		Stdin:  cmd.Stdin,
		Stdout: sinks.Stdout,
		Stderr: sinks.Stderr,
		Tty:    false,
	})

	exitCode := 0
	if streamErr != nil {
		if exitErr, ok := streamErr.(utilexec.ExitError); ok && exitErr.Exited() {
			exitCode = exitErr.ExitStatus()
		} else {
			result := exec.BuildResult(cmd, a.Name(), start, -1, "", sinks)
			if ctx.Err() == context.DeadlineExceeded {
				return result, errors.Timeout(cmd.String())
			}
			if ctx.Err() != nil {
				return result, errors.Cancelled(cmd.String()).WithCause(ctx.Err())
			}
			return result, errors.Transport("exec stream", streamErr)
		}
	}

	return exec.BuildResult(cmd, a.Name(), start, exitCode, "", sinks), nil
}

// buildArgv serializes env, cwd, and shell settings into the exec argv.
// Pods have no request-level env or cwd, so both ride inside a shell
// wrapper when present.
func buildArgv(targetEnv map[string]string, cmd exec.Command) []string {
	env := make(map[string]string, len(targetEnv)+len(cmd.Env))
	if !cmd.ReplaceEnv {
		maps.Copy(env, targetEnv)
	}
	maps.Copy(env, cmd.Env)

	needsWrapper := len(env) > 0 || cmd.Cwd != "" || cmd.Shell != ""
	if !needsWrapper {
		return cmd.Argv
	}

	var b strings.Builder
	if cmd.Cwd != "" {
		b.WriteString("cd " + shellQuote(cmd.Cwd) + " && ")
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("export " + k + "=" + shellQuote(env[k]) + "; ")
	}

	if cmd.Shell != "" {
		b.WriteString(strings.Join(cmd.Argv, " "))
	} else {
		words := make([]string, len(cmd.Argv))
		for i, arg := range cmd.Argv {
			words[i] = shellQuote(arg)
		}
		b.WriteString("exec " + strings.Join(words, " "))
	}

	interpreter := cmd.Shell
	if interpreter == "" {
		interpreter = "sh"
	}
	return []string{interpreter, "-c", b.String()}
}

func shellQuote(word string) string {
	if word == "" {
		return "''"
	}
	if !strings.ContainsAny(word, " \t\n\"'`$\\!&|;<>()*?[]{}~#") {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}

// HealthCheck verifies the API server responds.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if _, err := a.client.Discovery().ServerVersion(); err != nil {
		return errors.Unavailable("kubernetes cluster", err)
	}
	return ctx.Err()
}

// Close releases nothing; exec channels are per-command.
func (a *Adapter) Close(context.Context) error { return nil }
