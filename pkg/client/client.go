package client

import (
	"fmt"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"github.com/telekom/k8s-conductor/pkg/version"
)

const (
	// DefaultQPS and DefaultBurst throttle the clientset. Election traffic is
	// light; these leave room for the index watch and CLI operations.
	DefaultQPS   = 20
	DefaultBurst = 30

	// DefaultTimeout bounds individual API requests at the transport level.
	DefaultTimeout = 30 * time.Second
)

// Options selects and tunes cluster access.
type Options struct {
	// Kubeconfig is an explicit kubeconfig path. Empty means in-cluster
	// config first, then the standard loading rules (KUBECONFIG, ~/.kube).
	Kubeconfig string

	// Context overrides the kubeconfig current-context.
	Context string

	QPS     float32
	Burst   int
	Timeout time.Duration

	// UserAgent identifies this process to the API server. Defaults to
	// conductor/<version>.
	UserAgent string
}

func (o *Options) defaults() {
	if o.QPS == 0 {
		o.QPS = DefaultQPS
	}
	if o.Burst == 0 {
		o.Burst = DefaultBurst
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = version.UserAgent()
	}
}

// New resolves the rest.Config per Options, applies the tuning, and returns a
// typed clientset alongside the config. klog is bridged into the given zap
// logger so client-go log lines share the process format.
func New(opts Options, log *zap.SugaredLogger) (kubernetes.Interface, *rest.Config, error) {
	opts.defaults()
	if log != nil {
		klog.SetLogger(zapr.NewLogger(log.Desugar().Named("klog")))
	}

	cfg, err := restConfig(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("client: resolve rest config: %w", err)
	}
	Apply(cfg, opts)

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("client: build clientset: %w", err)
	}
	return clientset, cfg, nil
}

// Apply writes the tuning options onto an existing rest.Config.
func Apply(cfg *rest.Config, opts Options) {
	opts.defaults()
	cfg.QPS = opts.QPS
	cfg.Burst = opts.Burst
	cfg.Timeout = opts.Timeout
	cfg.UserAgent = opts.UserAgent
}

func restConfig(opts Options) (*rest.Config, error) {
	if opts.Kubeconfig == "" && opts.Context == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	rules.ExplicitPath = opts.Kubeconfig
	overrides := &clientcmd.ConfigOverrides{CurrentContext: opts.Context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}
