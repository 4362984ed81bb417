package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/k8s-conductor/pkg/admin"
	"github.com/telekom/k8s-conductor/pkg/config"
	"github.com/telekom/k8s-conductor/pkg/election"
	"github.com/telekom/k8s-conductor/pkg/runtime"
	"github.com/telekom/k8s-conductor/pkg/version"
)

func newRunCommand() *cobra.Command {
	var (
		store         storeFlags
		leaseName     string
		identity      string
		leaseDuration string
		renewDeadline string
		retryPeriod   string
		adminAddr     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Contend for a lease and report leadership transitions until signalled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRoot(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadRunConfig(rt)
			if err != nil {
				return err
			}

			// Flags override file values.
			if leaseName != "" {
				cfg.Lease.Name = leaseName
			}
			if rt.namespace != "" {
				cfg.Lease.Namespace = rt.namespace
			}
			if cfg.Lease.Namespace == "" {
				cfg.Lease.Namespace = DefaultNamespace
			}
			if identity != "" {
				cfg.Lease.Identity = identity
			}
			if leaseDuration != "" {
				cfg.Lease.LeaseDuration = leaseDuration
			}
			if renewDeadline != "" {
				cfg.Lease.RenewDeadline = renewDeadline
			}
			if retryPeriod != "" {
				cfg.Lease.RetryPeriod = retryPeriod
			}
			if store.backend != "" {
				cfg.Store.Backend = store.backend
			}
			if store.natsURL != "" {
				cfg.Store.NATS.URL = store.natsURL
			}
			if store.natsBucket != "" {
				cfg.Store.NATS.Bucket = store.natsBucket
			}
			if adminAddr != "" {
				cfg.Admin.ListenAddress = adminAddr
			}
			if rt.kubeconfig != "" {
				cfg.Client.Kubeconfig = rt.kubeconfig
			}
			if rt.kubeContext != "" {
				cfg.Client.Context = rt.kubeContext
			}
			if rt.debug {
				cfg.Admin.Debug = true
			}
			cfg.Defaults()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			ec, err := cfg.ElectionConfig()
			if err != nil {
				return err
			}
			clientOpts, err := cfg.ClientOptions()
			if err != nil {
				return err
			}

			proc, err := runtime.NewBuilder().
				WithLogger(rt.log).
				WithClient(clientOpts).
				WithAdmin(cfg.AdminOptions()).
				WithTelemetry(cfg.TelemetryOptions(rt.log)).
				Build(cmd.Context())
			if err != nil {
				return err
			}

			var elector *election.Elector
			closeStore := func() {}
			if cfg.Store.Backend == config.BackendNATS {
				st, closer, err := openNATSStore(proc.Context(),
					cfg.Store.NATS.URL, cfg.Store.NATS.Bucket,
					ec.Name, ec.Namespace, ec.CallTimeout)
				if err != nil {
					return err
				}
				closeStore = closer
				elector, err = proc.NewElectorWithStore(st, ec)
				if err != nil {
					closeStore()
					return err
				}
			} else {
				elector, err = proc.NewElector(ec)
				if err != nil {
					return err
				}
			}
			defer closeStore()

			events, stop := elector.Subscribe()
			defer stop()
			proc.Go("transition-log", func(context.Context) error {
				reportTransitions(rt, events)
				return nil
			})
			proc.Go("election", elector.Run)

			rt.log.Infow("Starting conductor",
				"version", version.Version,
				"lease", ec.Namespace+"/"+ec.Name,
				"identity", ec.Identity,
				"store", cfg.Store.Backend,
			)
			return proc.Run()
		},
	}

	cmd.Flags().StringVar(&leaseName, "lease", "", "Name of the lease to contend for")
	cmd.Flags().StringVar(&identity, "identity", "", "Holder identity (default: hostname with a random suffix)")
	cmd.Flags().StringVar(&leaseDuration, "lease-duration", "", "Validity window of a renewal, e.g. 15s")
	cmd.Flags().StringVar(&renewDeadline, "renew-deadline", "", "How long to keep leading without a confirmed renewal, e.g. 10s")
	cmd.Flags().StringVar(&retryPeriod, "retry-period", "", "Pacing of acquisition polls and renewal attempts, e.g. 2s")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "Admin server bind address (default "+admin.DefaultAddr+")")
	store.register(cmd.Flags())

	return cmd
}

// loadRunConfig reads the config file when one was named or the default
// exists; otherwise it starts from an empty config so flags can carry the
// whole setup.
func loadRunConfig(rt *rootState) (config.Config, error) {
	if rt.configPath != "" {
		return config.Load(rt.configPath)
	}
	if os.Getenv(config.EnvPath) != "" {
		return config.Load()
	}
	if _, err := os.Stat(config.DefaultPath); err == nil {
		return config.Load()
	}
	var cfg config.Config
	cfg.Defaults()
	return cfg, nil
}

// reportTransitions prints leadership transitions to the command writer.
// It returns once the elector closes the stream.
func reportTransitions(rt *rootState, events <-chan election.Event) {
	for ev := range events {
		switch ev.Kind {
		case election.EventAcquired:
			fmt.Fprintf(rt.Writer(), "%s leadership acquired as %s (transitions %d)\n",
				ev.At.Format(time.RFC3339), ev.Identity, ev.Transitions)
		case election.EventLost:
			fmt.Fprintf(rt.Writer(), "%s leadership lost (%s)\n",
				ev.At.Format(time.RFC3339), ev.Reason)
		}
	}
}
