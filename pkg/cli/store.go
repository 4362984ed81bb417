package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/pflag"

	"github.com/telekom/k8s-conductor/pkg/config"
	"github.com/telekom/k8s-conductor/pkg/lease"
	"github.com/telekom/k8s-conductor/pkg/version"
)

// storeFlags selects the record store backend for commands that talk to it
// directly.
type storeFlags struct {
	backend    string
	natsURL    string
	natsBucket string
}

func (f *storeFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.backend, "store", "", "Record store backend: kube (default) or nats")
	flags.StringVar(&f.natsURL, "nats-url", "", "NATS server URL for the nats backend")
	flags.StringVar(&f.natsBucket, "nats-bucket", "", "NATS key-value bucket (default "+lease.DefaultNATSBucket+")")
}

// open builds the record store for one lease. The returned close func
// releases backend connections and is never nil.
func (f *storeFlags) open(ctx context.Context, rt *rootState, name, namespace string, callTimeout time.Duration) (lease.Store, func(), error) {
	switch f.backend {
	case config.BackendKube, "":
		cs, err := rt.clientset()
		if err != nil {
			return nil, nil, err
		}
		return lease.NewKubeStore(cs, name, namespace, callTimeout), func() {}, nil

	case config.BackendNATS:
		if f.natsURL == "" {
			return nil, nil, errors.New("--nats-url must be set for the nats backend")
		}
		return openNATSStore(ctx, f.natsURL, f.natsBucket, name, namespace, callTimeout)

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q: use %s or %s", f.backend, config.BackendKube, config.BackendNATS)
	}
}

func openNATSStore(ctx context.Context, url, bucket, name, namespace string, callTimeout time.Duration) (lease.Store, func(), error) {
	nc, err := nats.Connect(url, nats.Name(version.UserAgent()))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("opening JetStream context: %w", err)
	}
	store, err := lease.NewNATSStore(ctx, js, bucket, name, namespace, callTimeout)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return store, nc.Close, nil
}
