package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"

	"github.com/telekom/k8s-conductor/pkg/client"
	"github.com/telekom/k8s-conductor/pkg/system"
)

// DefaultNamespace is used when neither flag, env nor config name one.
const DefaultNamespace = "default"

// Config seeds the root command.
type Config struct {
	OutputWriter io.Writer
}

func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout}
}

type rootState struct {
	configPath  string
	kubeconfig  string
	kubeContext string
	namespace   string
	debug       bool
	log         *zap.SugaredLogger
	writer      io.Writer
}

type rootKey struct{}

// NewRootCommand builds the conductor command tree.
func NewRootCommand(cfg Config) *cobra.Command {
	rt := &rootState{writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:          "conductor",
		Short:        "Lease-based leader election runtime for Kubernetes controllers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.kubeconfig == "" {
				rt.kubeconfig = os.Getenv("CONDUCTOR_KUBECONFIG")
			}
			if rt.kubeContext == "" {
				rt.kubeContext = os.Getenv("CONDUCTOR_CONTEXT")
			}
			if rt.namespace == "" {
				rt.namespace = os.Getenv("CONDUCTOR_NAMESPACE")
			}
			if !rt.debug {
				rt.debug = strings.EqualFold(os.Getenv("CONDUCTOR_DEBUG"), "true")
			}
			rt.log = system.NewLogger(rt.debug).Named("conductor")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", "", "Path to the conductor config file")
	root.PersistentFlags().StringVar(&rt.kubeconfig, "kubeconfig", "", "Path to a kubeconfig (default: in-cluster config, then standard loading rules)")
	root.PersistentFlags().StringVar(&rt.kubeContext, "context", "", "Kubeconfig context override")
	root.PersistentFlags().StringVarP(&rt.namespace, "namespace", "n", "", "Namespace of the lease records")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), rootKey{}, rt))

	root.AddCommand(
		newRunCommand(),
		newLeaseCommand(),
		newWatchCommand(),
		newVersionCommand(),
		newCompletionCommand(),
	)

	return root
}

func getRoot(cmd *cobra.Command) (*rootState, error) {
	rt, ok := cmd.Context().Value(rootKey{}).(*rootState)
	if !ok || rt == nil {
		return nil, errors.New("root state not initialized")
	}
	return rt, nil
}

// Namespace resolves the effective lease namespace.
func (rt *rootState) Namespace() string {
	if rt.namespace != "" {
		return rt.namespace
	}
	return DefaultNamespace
}

func (rt *rootState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *rootState) clientOptions() client.Options {
	return client.Options{
		Kubeconfig: rt.kubeconfig,
		Context:    rt.kubeContext,
	}
}

func (rt *rootState) clientset() (kubernetes.Interface, error) {
	cs, _, err := client.New(rt.clientOptions(), rt.log)
	return cs, err
}
